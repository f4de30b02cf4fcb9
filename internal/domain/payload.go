package domain

import "encoding/json"

// Known event types published by the character, session and campaign handlers.
const (
	EventHPChange            = "hp_change"
	EventXPAwarded           = "xp_awarded"
	EventItemGiven           = "item_given"
	EventGameTimeAdvanced    = "game_time_advanced"
	EventHexMapPlayerMoved   = "hex_map_player_moved"
	EventHexMapHexesRevealed = "hex_map_hexes_revealed"
	EventSoundboardPlay      = "soundboard_play"
)

// Payload is the body of an event. Every known event type has a typed
// struct; anything else decodes to GenericPayload.
type Payload interface {
	EventType() string
}

type HPChange struct {
	CharacterID   int64  `json:"character_id"`
	CharacterName string `json:"character_name"`
	OldHP         int    `json:"old_hp"`
	NewHP         int    `json:"new_hp"`
	MaxHP         int    `json:"max_hp"`
	HPChange      int    `json:"hp_change"`
	IsDead        bool   `json:"is_dead"`
}

type XPAwarded struct {
	XPAmount       int      `json:"xp_amount"`
	Reason         string   `json:"reason"`
	CharacterIDs   []int64  `json:"character_ids"`
	CharacterNames []string `json:"character_names"`
	ReadyToLevelUp []string `json:"ready_to_level_up"`
}

type ItemGiven struct {
	CharacterID   int64  `json:"character_id"`
	CharacterName string `json:"character_name"`
	ItemID        int64  `json:"item_id"`
	ItemName      string `json:"item_name"`
	Quantity      int    `json:"quantity"`
	IsMagical     bool   `json:"is_magical"`
}

type GameTimeAdvanced struct {
	CampaignID              int64   `json:"campaign_id"`
	SessionID               int64   `json:"session_id"`
	TimeAdvancedSeconds     int64   `json:"time_advanced_seconds"`
	PreviousGameTimeSeconds int64   `json:"previous_game_time_seconds"`
	NewGameTimeSeconds      int64   `json:"new_game_time_seconds"`
	CurrentGameDatetime     *string `json:"current_game_datetime"`
	EffectsExpired          int     `json:"effects_expired"`
}

// HexCoord is an axial hex-map coordinate.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

type HexMapPlayerMoved struct {
	MapID                int64     `json:"map_id"`
	CharacterID          int64     `json:"character_id"`
	CharacterName        string    `json:"character_name"`
	OldPosition          *HexCoord `json:"old_position"`
	NewPosition          HexCoord  `json:"new_position"`
	TravelTimeHours      float64   `json:"travel_time_hours"`
	TravelTimeMultiplier float64   `json:"travel_time_multiplier"`
	GameTime             *string   `json:"game_time"`
}

type HexMapHexesRevealed struct {
	MapID         int64      `json:"map_id"`
	Hexes         []HexCoord `json:"hexes"`
	TargetUserIDs []int64    `json:"target_user_ids"`
}

type SoundboardPlay struct {
	SessionID       int64   `json:"session_id"`
	TrackID         int64   `json:"track_id"`
	TrackName       string  `json:"track_name"`
	FilePath        string  `json:"file_path"`
	Volume          float64 `json:"volume"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (HPChange) EventType() string            { return EventHPChange }
func (XPAwarded) EventType() string           { return EventXPAwarded }
func (ItemGiven) EventType() string           { return EventItemGiven }
func (GameTimeAdvanced) EventType() string    { return EventGameTimeAdvanced }
func (HexMapPlayerMoved) EventType() string   { return EventHexMapPlayerMoved }
func (HexMapHexesRevealed) EventType() string { return EventHexMapHexesRevealed }
func (SoundboardPlay) EventType() string      { return EventSoundboardPlay }

// GenericPayload carries events whose type this build does not know, and
// known types whose body failed to decode.
type GenericPayload struct {
	Type string
	Data map[string]any
}

func (g GenericPayload) EventType() string { return g.Type }

// MarshalJSON encodes only the data map so a generic payload round-trips
// to the same wire shape it was read from.
func (g GenericPayload) MarshalJSON() ([]byte, error) {
	if g.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(g.Data)
}

var payloadFactories = map[string]func() Payload{
	EventHPChange:            func() Payload { return &HPChange{} },
	EventXPAwarded:           func() Payload { return &XPAwarded{} },
	EventItemGiven:           func() Payload { return &ItemGiven{} },
	EventGameTimeAdvanced:    func() Payload { return &GameTimeAdvanced{} },
	EventHexMapPlayerMoved:   func() Payload { return &HexMapPlayerMoved{} },
	EventHexMapHexesRevealed: func() Payload { return &HexMapHexesRevealed{} },
	EventSoundboardPlay:      func() Payload { return &SoundboardPlay{} },
}

// DecodePayload turns a stored event body into its typed payload. The
// returned value for a known type is a pointer to the struct.
func DecodePayload(eventType string, raw json.RawMessage) Payload {
	if factory, ok := payloadFactories[eventType]; ok {
		p := factory()
		if err := json.Unmarshal(raw, p); err == nil {
			return p
		}
	}

	generic := GenericPayload{Type: eventType, Data: map[string]any{}}
	if len(raw) > 0 {
		// Non-object bodies (arrays, scalars) are kept under "value".
		if err := json.Unmarshal(raw, &generic.Data); err != nil {
			var v any
			if json.Unmarshal(raw, &v) == nil {
				generic.Data = map[string]any{"value": v}
			}
		}
	}
	return generic
}

// IsKnownEventType reports whether eventType has a typed payload.
func IsKnownEventType(eventType string) bool {
	_, ok := payloadFactories[eventType]
	return ok
}
