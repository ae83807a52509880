// Package ws serves the realtime side of the chat: one socket per open
// session, driven by the same step engine as the REST fallback.
package ws

import (
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry tracks the live socket for each (owner, session) pair. A second
// connect for the same pair replaces the first; the old socket is closed so
// a reconnecting client never ends up with two server-side readers.
type Registry struct {
	mu     sync.RWMutex
	active map[uuid.UUID]map[uuid.UUID]*websocket.Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[uuid.UUID]map[uuid.UUID]*websocket.Conn),
	}
}

// Get returns the active connection for an owner and session, or nil.
func (r *Registry) Get(ownerID, sessionID uuid.UUID) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sessions, ok := r.active[ownerID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection for an owner/session, replacing any existing one.
func (r *Registry) Register(ownerID, sessionID uuid.UUID, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[ownerID]; !exists {
		r.active[ownerID] = make(map[uuid.UUID]*websocket.Conn)
	}

	if existing, exists := r.active[ownerID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	r.active[ownerID][sessionID] = conn
	log.Info().
		Str("owner_id", ownerID.String()).
		Str("session_id", sessionID.String()).
		Msg("realtime connection registered")
}

// Unregister removes a connection if it is still the registered one.
func (r *Registry) Unregister(ownerID, sessionID uuid.UUID, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.active[ownerID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(r.active, ownerID)
			}
			log.Info().
				Str("owner_id", ownerID.String()).
				Str("session_id", sessionID.String()).
				Msg("realtime connection unregistered")
		}
	}
}

// CloseOwner terminates every active connection for an owner.
func (r *Registry) CloseOwner(ownerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.active[ownerID]
	if !ok {
		return
	}
	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
		log.Info().
			Str("owner_id", ownerID.String()).
			Str("session_id", sid.String()).
			Msg("realtime connection closed")
	}
	delete(r.active, ownerID)
}
