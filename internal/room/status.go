package room

import (
	"sort"

	"amadeus/internal/wire"
)

// Phase identifies a RoomStatus variant (spec §3).
type Phase string

const (
	PhaseLobby     Phase = "LOBBY"
	PhaseLoading   Phase = "LOADING"
	PhaseBuffering Phase = "BUFFERING"
	PhasePlaying   Phase = "PLAYING"
	PhaseReviewing Phase = "REVIEWING"
	PhaseFinished  Phase = "FINISHED"
)

func (p Phase) wireTag() string {
	switch p {
	case PhaseLobby:
		return wire.PhaseLobby
	case PhaseLoading:
		return wire.PhaseLoading
	case PhaseBuffering:
		return wire.PhaseBuffering
	case PhasePlaying:
		return wire.PhasePlaying
	case PhaseReviewing:
		return wire.PhaseReviewing
	case PhaseFinished:
		return wire.PhaseFinished
	default:
		return string(p)
	}
}

// Status is RoomStatus: a tagged union with one variant per Phase. Every
// variant carries Players; the remaining fields are populated only for the
// phases that use them per spec §3's variant table and are left at their
// zero value otherwise. This struct, plus the Phase tag, is Go's rendition
// of the "native sum-type facility" spec §9 asks for — one field set
// selected by Phase rather than a family of types, since every variant here
// shares most of its shape (players, scores) and a flat struct is what this
// codebase reaches for whenever that's true (see wire.ServerCommand).
type Status struct {
	Phase   Phase
	Players []PlayerInfo

	Round      int
	RoundStart int64 // epoch ms; Playing only

	Ready   map[string]struct{} // Buffering only
	Guessed map[string]struct{} // Playing only
	Correct map[string]struct{} // Reviewing only

	Prompt   string // Playing, Reviewing
	Solution string // Reviewing only

	Guesses map[string]string // Reviewing only
	Scores  map[string]int    // Buffering, Playing, Reviewing, Finished
}

// ToWire renders the status as the ROOM_STATE server command.
func (s Status) ToWire() wire.ServerCommand {
	players := make([]wire.Player, len(s.Players))
	for i, p := range s.Players {
		players[i] = wire.Player{ID: p.ID, Name: p.Name, Host: p.Host}
	}
	cmd := wire.ServerCommand{
		Type:       wire.TypeRoomState,
		State:      s.Phase.wireTag(),
		Players:    players,
		Round:      s.Round,
		RoundStart: s.RoundStart,
		Prompt:     s.Prompt,
		Solution:   s.Solution,
	}
	if s.Ready != nil {
		cmd.Ready = setToSortedSlice(s.Ready)
	}
	if s.Guessed != nil {
		cmd.Guessed = setToSortedSlice(s.Guessed)
	}
	if s.Correct != nil {
		cmd.Correct = setToSortedSlice(s.Correct)
	}
	if s.Guesses != nil {
		cmd.Guesses = cloneStringMap(s.Guesses)
	}
	if s.Scores != nil {
		cmd.Scores = cloneIntMap(s.Scores)
	}
	return cmd
}

func setToSortedSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
