package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dmscreen/sessionfeed/internal/client"
	"github.com/dmscreen/sessionfeed/internal/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printEvent writes one event per line, or one compact JSON object per
// line in --json mode.
func printEvent(w io.Writer, e client.Event) {
	if jsonOutput {
		data, _ := json.Marshal(e)
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintf(w, "%s  #%-6d %-22s %s\n",
		e.CreatedAt.Local().Format("15:04:05"), e.ID, e.Type, describe(e.Decode()))
}

// describe summarizes a payload for humans.
func describe(p domain.Payload) string {
	switch v := p.(type) {
	case *domain.HPChange:
		s := fmt.Sprintf("%s %d -> %d/%d (%+d)", name(v.CharacterName, v.CharacterID), v.OldHP, v.NewHP, v.MaxHP, v.HPChange)
		if v.IsDead {
			s += " DEAD"
		}
		return s
	case *domain.XPAwarded:
		s := fmt.Sprintf("%d XP to %s", v.XPAmount, strings.Join(v.CharacterNames, ", "))
		if v.Reason != "" {
			s += " for " + v.Reason
		}
		if len(v.ReadyToLevelUp) > 0 {
			s += "; ready to level: " + strings.Join(v.ReadyToLevelUp, ", ")
		}
		return s
	case *domain.ItemGiven:
		return fmt.Sprintf("%s received %dx %s", name(v.CharacterName, v.CharacterID), v.Quantity, v.ItemName)
	case *domain.GameTimeAdvanced:
		s := fmt.Sprintf("+%ds (now %ds)", v.TimeAdvancedSeconds, v.NewGameTimeSeconds)
		if v.EffectsExpired > 0 {
			s += fmt.Sprintf(", %d effects expired", v.EffectsExpired)
		}
		return s
	case *domain.HexMapPlayerMoved:
		return fmt.Sprintf("%s moved to (%d,%d) on map %d", name(v.CharacterName, v.CharacterID), v.NewPosition.Q, v.NewPosition.R, v.MapID)
	case *domain.HexMapHexesRevealed:
		return fmt.Sprintf("%d hexes revealed on map %d", len(v.Hexes), v.MapID)
	case *domain.SoundboardPlay:
		return fmt.Sprintf("playing %q", v.TrackName)
	case domain.GenericPayload:
		data, _ := json.Marshal(v)
		if domain.IsKnownEventType(v.Type) {
			// A known type only decodes generically when its body is malformed.
			return "malformed: " + string(data)
		}
		return string(data)
	}
	return ""
}

func name(n string, id int64) string {
	if n != "" {
		return n
	}
	return fmt.Sprintf("character %d", id)
}

func formatOnline(users []domain.OnlineUser) string {
	if len(users) == 0 {
		return "nobody online"
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return fmt.Sprintf("%d online: %s", len(users), strings.Join(names, ", "))
}
