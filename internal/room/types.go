// Package room implements the per-room real-time game engine: the phase
// state machine, its wire protocol, round timers, and the buffering/scoring
// algorithm. A Controller is a single-writer actor — the only goroutine
// that ever mutates a room's state is the one running its mailbox loop.
package room

import (
	"context"
	"fmt"

	"amadeus/internal/wire"
)

// RoomConfiguration controls the shape of one game. Mutable only while the
// room is in Lobby.
type RoomConfiguration struct {
	PlayTime   int // seconds
	GuessTime  int
	ReviewTime int
	Rounds     int
	MaxPlayers int
}

// DefaultConfiguration returns the spec's stated defaults.
func DefaultConfiguration() RoomConfiguration {
	return RoomConfiguration{
		PlayTime:   20,
		GuessTime:  10,
		ReviewTime: 5,
		Rounds:     20,
		MaxPlayers: 8,
	}
}

func (c RoomConfiguration) toWire() wire.RoomConfig {
	return wire.RoomConfig{
		PlayTime:   c.PlayTime,
		GuessTime:  c.GuessTime,
		ReviewTime: c.ReviewTime,
		Rounds:     c.Rounds,
		MaxPlayers: c.MaxPlayers,
	}
}

// PlayerInfo identifies one room participant.
type PlayerInfo struct {
	ID   string
	Name string
	Host bool
}

// AudioHandle resolves to a finite byte sequence of audio. The format is
// opaque to the room; only SongLibrary and the front end interpret it.
type AudioHandle string

// Question is one entry in a Quiz.
type Question struct {
	Audio    AudioHandle
	Prompt   string
	Solution string
}

// Quiz is an immutable ordered list of questions, loaded once per game.
type Quiz struct {
	Questions []Question
}

// SongLibrary is the external collaborator the controller reads through.
// It is read-only and must be safe under parallel reads — the controller
// calls it from short-lived helper goroutines, never from its own loop.
type SongLibrary interface {
	// LoadQuiz returns a Quiz of up to n questions.
	LoadQuiz(ctx context.Context, n int) (Quiz, error)
	// Resolve returns the raw audio bytes for handle.
	Resolve(ctx context.Context, handle AudioHandle) ([]byte, error)
}

// SessionDirectory is the only identity source the core consumes.
type SessionDirectory interface {
	NameFor(sessionID string) (string, bool)
}

// CloseReason is one of the close codes named in spec §6.
type CloseReason int

const (
	CloseViolatedPolicy CloseReason = iota
	CloseCannotAccept
	CloseGoingAway
	CloseProtocolError
)

func (r CloseReason) String() string {
	switch r {
	case CloseViolatedPolicy:
		return "VIOLATED_POLICY"
	case CloseCannotAccept:
		return "CANNOT_ACCEPT"
	case CloseGoingAway:
		return "GOING_AWAY"
	case CloseProtocolError:
		return "PROTOCOL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// CloseError is returned by Join when the controller rejects a connection.
type CloseError struct{ Reason CloseReason }

func (e CloseError) Error() string { return fmt.Sprintf("room: closed (%s)", e.Reason) }

// Link is how the controller talks to one connected WebSocket. Implemented
// by playerlink.Link; defined here so room has no dependency on the
// transport package (broken the other way — playerlink depends on room).
type Link interface {
	// Send delivers one server command, best-effort.
	Send(cmd wire.ServerCommand) error
	// SendAudio announces round via a SONG_DATA frame and immediately
	// writes data as the following binary frame, atomically with respect
	// to other sends on this link.
	SendAudio(round int, data []byte) error
	// Close closes the underlying connection with reason.
	Close(reason CloseReason) error
}
