package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmscreen/sessionfeed/internal/auth"
	"github.com/dmscreen/sessionfeed/internal/client"
	"github.com/dmscreen/sessionfeed/internal/domain"
)

func TestSaveLoadProfilesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.toml")

	in := ProfilesConfig{
		Active: "table",
		Profiles: map[string]Profile{
			"table": {URL: "https://dm.example.com", Token: "tok_abc", Session: 42},
			"local": {URL: "http://localhost:8080"},
		},
	}
	if err := saveProfiles(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := loadProfiles(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Active != "table" {
		t.Errorf("Active = %q, want %q", got.Active, "table")
	}
	if p := got.Profiles["table"]; p.URL != "https://dm.example.com" || p.Token != "tok_abc" || p.Session != 42 {
		t.Errorf("table profile = %+v", p)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("profile file mode = %o, want 600", perm)
	}
}

func TestLoadProfiles_NoFile(t *testing.T) {
	cfg, err := loadProfiles(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Active != "" || len(cfg.Profiles) != 0 || cfg.Profiles == nil {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoadProfiles_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("active = [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadProfiles(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestSelectedProfile(t *testing.T) {
	cfg := ProfilesConfig{
		Active:   "a",
		Profiles: map[string]Profile{"a": {URL: "http://a"}, "b": {URL: "http://b"}},
	}
	if p, ok := cfg.selected(""); !ok || p.URL != "http://a" {
		t.Errorf("selected(\"\") = %+v, %v", p, ok)
	}
	if p, ok := cfg.selected("b"); !ok || p.URL != "http://b" {
		t.Errorf("selected(b) = %+v, %v", p, ok)
	}
	if _, ok := cfg.selected("c"); ok {
		t.Error("selected(c) should not exist")
	}
	if _, ok := (ProfilesConfig{}).selected(""); ok {
		t.Error("empty config has no active profile")
	}
}

func TestResolveProfile(t *testing.T) {
	base := Profile{URL: "http://profile", Token: "profile-token"}

	t.Run("profile only", func(t *testing.T) {
		t.Setenv("SESSIONFEED_SERVER", "")
		t.Setenv("SESSIONFEED_TOKEN", "")
		got := resolveProfile(base, false, false)
		if got.URL != "http://profile" || got.Token != "profile-token" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("env beats profile", func(t *testing.T) {
		t.Setenv("SESSIONFEED_SERVER", "http://env")
		t.Setenv("SESSIONFEED_TOKEN", "env-token")
		got := resolveProfile(base, false, false)
		if got.URL != "http://env" || got.Token != "env-token" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("flags beat env", func(t *testing.T) {
		t.Setenv("SESSIONFEED_SERVER", "http://env")
		t.Setenv("SESSIONFEED_TOKEN", "env-token")
		serverURL, token = "http://flag", "flag-token"
		t.Cleanup(func() { serverURL, token = defaultServerURL, "" })

		got := resolveProfile(base, true, true)
		if got.URL != "http://flag" || got.Token != "flag-token" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("default server", func(t *testing.T) {
		t.Setenv("SESSIONFEED_SERVER", "")
		got := resolveProfile(Profile{}, false, false)
		if got.URL != defaultServerURL {
			t.Errorf("URL = %q, want %q", got.URL, defaultServerURL)
		}
	})
}

func TestSessionArg(t *testing.T) {
	active = Profile{Session: 7}
	t.Cleanup(func() { active = Profile{} })

	if id, err := sessionArg([]string{"42"}, 0); err != nil || id != 42 {
		t.Errorf("sessionArg(42) = %d, %v", id, err)
	}
	if id, err := sessionArg(nil, 0); err != nil || id != 7 {
		t.Errorf("profile fallback = %d, %v", id, err)
	}
	if _, err := sessionArg([]string{"-1"}, 0); err == nil {
		t.Error("negative session id should be rejected")
	}

	active = Profile{}
	if _, err := sessionArg(nil, 0); err == nil {
		t.Error("missing session id should be rejected")
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "profiles.toml")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := runCLI(t, "token", "--secret", "s3cret", "--user-id", "2", "--username", "mira", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	u, err := auth.NewAuthenticator("s3cret").VerifyToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if u.ID != 2 || u.Username != "mira" {
		t.Errorf("user = %+v", u)
	}
}

func TestPublishCommand(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "success",
			"message": "Success",
			"data":    map[string]any{"event_id": 11, "session_id": 42, "event_type": "hp_change"},
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, "--server", srv.URL, "--token", "tok", "--json=false",
		"publish", "42", "hp_change", `{"character_id":7,"new_hp":3}`)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/api/v1/sessions/42/events" {
		t.Errorf("path = %q", gotPath)
	}
	if string(gotBody["event_type"]) != `"hp_change"` {
		t.Errorf("event_type = %s", gotBody["event_type"])
	}
	if !strings.Contains(out, "event 11") {
		t.Errorf("output = %q", out)
	}
}

func TestPublishCommand_InvalidJSON(t *testing.T) {
	_, err := runCLI(t, "--server", "http://127.0.0.1:1", "publish", "42", "hp_change", "{not json")
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("err = %v", err)
	}
}

func TestPrintEvent(t *testing.T) {
	jsonOutput = false
	var buf bytes.Buffer
	printEvent(&buf, client.Event{
		ID:        5,
		Type:      domain.EventXPAwarded,
		Data:      json.RawMessage(`{"xp_amount":100,"reason":"goblins","character_names":["Mira","Tor"],"ready_to_level_up":["Mira"]}`),
		CreatedAt: time.Date(2026, 3, 1, 20, 15, 0, 0, time.Local),
	})

	line := buf.String()
	for _, want := range []string{"20:15:00", "#5", "xp_awarded", "100 XP to Mira, Tor for goblins", "ready to level: Mira"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		eventType string
		data      string
		want      string
	}{
		{domain.EventHPChange, `{"character_name":"Mira","old_hp":12,"new_hp":0,"max_hp":20,"hp_change":-12,"is_dead":true}`, "Mira 12 -> 0/20 (-12) DEAD"},
		{domain.EventItemGiven, `{"character_id":9,"item_name":"Rope","quantity":2}`, "character 9 received 2x Rope"},
		{domain.EventHexMapPlayerMoved, `{"map_id":3,"character_name":"Tor","new_position":{"q":1,"r":-2}}`, "Tor moved to (1,-2) on map 3"},
		{domain.EventHexMapHexesRevealed, `{"map_id":3,"hexes":[{"q":0,"r":0},{"q":1,"r":0}]}`, "2 hexes revealed on map 3"},
		{domain.EventSoundboardPlay, `{"track_name":"Tavern"}`, `playing "Tavern"`},
		{"initiative_rolled", `{"order":[1,2]}`, `{"order":[1,2]}`},
		{domain.EventHPChange, `{"new_hp":"lots"}`, `malformed: {"new_hp":"lots"}`},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			got := describe(domain.DecodePayload(tt.eventType, json.RawMessage(tt.data)))
			if got != tt.want {
				t.Errorf("describe = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatOnline(t *testing.T) {
	if got := formatOnline(nil); got != "nobody online" {
		t.Errorf("got %q", got)
	}
	got := formatOnline([]domain.OnlineUser{{UserID: 1, Username: "dm"}, {UserID: 2, Username: "mira"}})
	if got != "2 online: dm, mira" {
		t.Errorf("got %q", got)
	}
}
