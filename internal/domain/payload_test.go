package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestDecodePayload_KnownTypes(t *testing.T) {
	raw := json.RawMessage(`{"xp_amount":300,"reason":"goblin ambush","character_ids":[7,9],"character_names":["Aldric","Mira"],"ready_to_level_up":[]}`)

	p := DecodePayload(EventXPAwarded, raw)
	xp, ok := p.(*XPAwarded)
	if !ok {
		t.Fatalf("expected *XPAwarded, got %T", p)
	}
	if xp.XPAmount != 300 {
		t.Errorf("XPAmount: got %d, want 300", xp.XPAmount)
	}
	if len(xp.CharacterIDs) != 2 || xp.CharacterIDs[0] != 7 || xp.CharacterIDs[1] != 9 {
		t.Errorf("CharacterIDs: got %v, want [7 9]", xp.CharacterIDs)
	}
	if p.EventType() != EventXPAwarded {
		t.Errorf("EventType: got %q", p.EventType())
	}
}

func TestDecodePayload_HexMove(t *testing.T) {
	raw := json.RawMessage(`{"map_id":3,"character_id":12,"character_name":"Tor","old_position":null,"new_position":{"q":2,"r":-1},"travel_time_hours":4,"travel_time_multiplier":0.5,"game_time":null}`)

	p, ok := DecodePayload(EventHexMapPlayerMoved, raw).(*HexMapPlayerMoved)
	if !ok {
		t.Fatal("expected *HexMapPlayerMoved")
	}
	if p.OldPosition != nil {
		t.Errorf("OldPosition: got %+v, want nil", p.OldPosition)
	}
	if p.NewPosition != (HexCoord{Q: 2, R: -1}) {
		t.Errorf("NewPosition: got %+v", p.NewPosition)
	}
}

func TestDecodePayload_UnknownTypeFallsBack(t *testing.T) {
	raw := json.RawMessage(`{"token_id":5,"x":10.5}`)

	p := DecodePayload("map_token_moved", raw)
	g, ok := p.(GenericPayload)
	if !ok {
		t.Fatalf("expected GenericPayload, got %T", p)
	}
	if g.EventType() != "map_token_moved" {
		t.Errorf("EventType: got %q", g.EventType())
	}
	if g.Data["token_id"] != float64(5) {
		t.Errorf("token_id: got %v", g.Data["token_id"])
	}
}

func TestDecodePayload_MalformedKnownTypeFallsBack(t *testing.T) {
	// hp values as strings do not fit HPChange
	raw := json.RawMessage(`{"character_id":"ten","new_hp":"many"}`)

	p := DecodePayload(EventHPChange, raw)
	g, ok := p.(GenericPayload)
	if !ok {
		t.Fatalf("expected GenericPayload fallback, got %T", p)
	}
	if g.Data["new_hp"] != "many" {
		t.Errorf("new_hp: got %v", g.Data["new_hp"])
	}
}

func TestDecodePayload_NonObjectBody(t *testing.T) {
	g, ok := DecodePayload("custom", json.RawMessage(`[1,2,3]`)).(GenericPayload)
	if !ok {
		t.Fatal("expected GenericPayload")
	}
	if _, ok := g.Data["value"]; !ok {
		t.Errorf("expected array kept under value, got %v", g.Data)
	}
}

func TestGenericPayload_MarshalsDataOnly(t *testing.T) {
	data, err := json.Marshal(GenericPayload{Type: "custom", Data: map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("got %s, want {\"a\":1}", data)
	}

	data, _ = json.Marshal(GenericPayload{Type: "empty"})
	if string(data) != `{}` {
		t.Errorf("nil data: got %s, want {}", data)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unauthenticated", ErrUnauthenticated, true},
		{"forbidden wrapped", fmt.Errorf("poll: %w", ErrForbidden), true},
		{"not found", ErrSessionNotFound, true},
		{"transient", Transient("reading events", errors.New("conn reset")), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsPermanent(tc.err); got != tc.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestTransient_Unwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := Transient("reading events", base)

	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatal("expected TransientError")
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to match base")
	}
	if Transient("noop", nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}

func TestIsKnownEventType(t *testing.T) {
	for _, et := range []string{EventHPChange, EventXPAwarded, EventItemGiven, EventGameTimeAdvanced,
		EventHexMapPlayerMoved, EventHexMapHexesRevealed, EventSoundboardPlay} {
		if !IsKnownEventType(et) {
			t.Errorf("IsKnownEventType(%q) = false", et)
		}
	}
	if IsKnownEventType("initiative_rolled") || IsKnownEventType("") {
		t.Error("unknown types reported as known")
	}
}
