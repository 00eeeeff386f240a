// Package registry is the process-wide mapping from room id to room
// controller (C6): get-or-create (the HTTP layer creates rooms on POST /room;
// its WebSocket route only looks up existing ones), a cheap read-only
// listing for the HTTP layer, and reaping of finished rooms.
// Modeled on internal/core/channel_state.go's map+mutex presence state,
// generalized from sub-room channels to top-level rooms.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"amadeus/internal/room"
)

// Listing is the read-only summary RoomRegistry exposes for room browsing.
// It never blocks on a controller: every field comes from the controller's
// atomically-published snapshot or its own immutable fields.
type Listing struct {
	ID             string
	ConnectedCount int
	MaxPlayers     int
	Phase          string
	CreatedAt      time.Time
}

// Registry is a concurrent id -> *room.Controller map with get-or-create
// semantics. Safe for use by many HTTP handler goroutines at once.
type Registry struct {
	library room.SongLibrary
	names   room.SessionDirectory

	mu    sync.RWMutex
	rooms map[string]*room.Controller
}

// New creates an empty Registry. library and names are the shared
// collaborators wired into every room it creates.
func New(library room.SongLibrary, names room.SessionDirectory) *Registry {
	return &Registry{
		library: library,
		names:   names,
		rooms:   make(map[string]*room.Controller),
	}
}

// NewRoomID mints a fresh room id for the "create a room" HTTP flow.
func NewRoomID() string {
	return uuid.NewString()
}

// GetOrCreate returns the controller for id, creating one in Lobby phase
// with cfg if it doesn't already exist. The second return value reports
// whether a new controller was created.
func (r *Registry) GetOrCreate(id string, cfg room.RoomConfiguration) (*room.Controller, bool) {
	r.mu.RLock()
	if c, ok := r.rooms[id]; ok {
		r.mu.RUnlock()
		return c, false
	}
	r.mu.RUnlock()

	r.mu.Lock()
	if c, ok := r.rooms[id]; ok {
		r.mu.Unlock()
		return c, false
	}
	c := room.New(id, r.library, r.names, cfg, nil)
	r.rooms[id] = c
	r.mu.Unlock()

	go r.reapWhenDone(id, c)
	return c, true
}

// Get looks up an existing room without creating one.
func (r *Registry) Get(id string) (*room.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rooms[id]
	return c, ok
}

// reapWhenDone removes id from the map once its controller terminates
// (spec §4.4.2: Finished + all links closed). It only removes the entry if
// it still points at this exact controller, so a concurrent GetOrCreate
// racing a reap can never delete a fresh room.
func (r *Registry) reapWhenDone(id string, c *room.Controller) {
	<-c.Done()
	r.mu.Lock()
	if cur, ok := r.rooms[id]; ok && cur == c {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
}

// Listings returns a stable, id-ordered snapshot of every live room. It
// never touches a controller's mailbox — only its published Snapshot/Config
// fields, its atomic ConnectedCount, and immutable ID/CreatedAt — so it
// never blocks.
func (r *Registry) Listings() []Listing {
	r.mu.RLock()
	controllers := make([]*room.Controller, 0, len(r.rooms))
	for _, c := range r.rooms {
		controllers = append(controllers, c)
	}
	r.mu.RUnlock()

	out := make([]Listing, len(controllers))
	for i, c := range controllers {
		out[i] = Listing{
			ID:             c.ID(),
			ConnectedCount: c.ConnectedCount(),
			MaxPlayers:     c.Config().MaxPlayers,
			Phase:          string(c.Snapshot().Phase),
			CreatedAt:      c.CreatedAt(),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of currently live rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
