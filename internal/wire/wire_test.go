package wire

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientCommandRoundTrip(t *testing.T) {
	cases := []ClientCommand{
		{Type: TypeStart},
		{Type: TypeNext},
		{Type: TypeBufferComplete, Round: 3},
		{Type: TypeGuess, Round: 2, Guess: "Firelink Shrine"},
	}
	for _, want := range cases {
		b, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		got, err := DecodeClientCommand(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != want {
			t.Errorf("round trip mismatch: got %+v want %+v", got, want)
		}
	}
}

func TestDecodeClientCommandUnknownTypeIsNotAnError(t *testing.T) {
	cmd, err := DecodeClientCommand([]byte(`{"type":"SOMETHING_FUTURE","round":1}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if cmd.Type != "SOMETHING_FUTURE" {
		t.Errorf("type = %q", cmd.Type)
	}
}

func TestDecodeClientCommandMalformed(t *testing.T) {
	if _, err := DecodeClientCommand([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestServerCommandEncodeOmitsUnsetFields(t *testing.T) {
	cmd := SongDataCommand(4, 1024)
	b, err := cmd.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["config"]; ok {
		t.Error("config field should be omitted for SONG_DATA")
	}
	if _, ok := raw["scores"]; ok {
		t.Error("scores field should be omitted for SONG_DATA")
	}
	if raw["round"] != float64(4) || raw["sizeBytes"] != float64(1024) {
		t.Errorf("unexpected payload: %v", raw)
	}
}

func TestRoomConfigCommand(t *testing.T) {
	cmd := RoomConfigCommand(RoomConfig{PlayTime: 20, GuessTime: 10, ReviewTime: 5, Rounds: 20, MaxPlayers: 8})
	b, err := cmd.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded ServerCommand
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeRoomConfig || decoded.Config == nil || decoded.Config.Rounds != 20 {
		t.Errorf("unexpected decode: %+v", decoded)
	}
}
