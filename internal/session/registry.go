package session

import (
	"log"
	"sync"

	"github.com/DepressionHub/session-relay/internal/metrics"
	"github.com/DepressionHub/session-relay/internal/models"
)

// Registry maps session ids to live rooms. Rooms are created on first
// join and remove themselves when they end; the registry never mutates
// room state directly.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	prefix   string
	settings Settings
}

func NewRegistry(prefix string, settings Settings) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		prefix:   prefix,
		settings: settings,
	}
}

// Join gets or creates the room for a session id and registers the
// connection under the given role.
func (g *Registry) Join(sessionID string, conn Sender, role models.Role, displayName string) *Room {
	// A room can end between lookup and post; retry with a fresh one.
	for {
		room := g.getOrCreate(sessionID)
		if room.Join(conn, role, displayName) {
			return room
		}
	}
}

func (g *Registry) getOrCreate(sessionID string) *Room {
	key := g.prefix + sessionID
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[key]
	if !ok || room.Closed() {
		room = newRoom(sessionID, key, g, g.settings)
		g.rooms[key] = room
		metrics.RoomsActive.Inc()
		go room.run()
		log.Printf("room created: %s", key)
	}
	return room
}

// Get returns the live room for a session id, if any.
func (g *Registry) Get(sessionID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[g.prefix+sessionID]
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

// Count reports how many rooms are live.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, room := range g.rooms {
		if !room.Closed() {
			n++
		}
	}
	return n
}

// remove is called by a room actor as part of its terminal transition.
func (g *Registry) remove(key string) {
	g.mu.Lock()
	if _, ok := g.rooms[key]; ok {
		delete(g.rooms, key)
		metrics.RoomsActive.Dec()
	}
	g.mu.Unlock()
	log.Printf("room removed: %s", key)
}
