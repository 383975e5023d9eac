// Package runtime holds the ephemeral, non-persisted status of in-flight
// interactions. Hook callbacks update entries while an agent runs; the data
// is best-effort telemetry and is safe to lose on restart.
package runtime

import (
	"sync"
	"time"
)

// Interaction is the live status of one interaction, keyed by interaction id.
type Interaction struct {
	InteractionID    string    `json:"interaction_id"`
	SessionID        string    `json:"session_id"`
	AgentState       string    `json:"agent_state,omitempty"`
	LastNotification string    `json:"last_notification,omitempty"`
	LastActivity     string    `json:"last_activity,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Registry is a concurrent in-memory map of runtime interactions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Interaction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Interaction)}
}

// Upsert applies fn to the entry for interactionID, creating it first when
// absent, and stamps UpdatedAt.
func (r *Registry) Upsert(interactionID, sessionID string, fn func(*Interaction)) Interaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[interactionID]
	if !ok {
		entry = Interaction{InteractionID: interactionID, SessionID: sessionID}
	}
	if fn != nil {
		fn(&entry)
	}
	entry.InteractionID = interactionID
	entry.SessionID = sessionID
	entry.UpdatedAt = time.Now()
	r.entries[interactionID] = entry
	return entry
}

// Get returns the entry for interactionID.
func (r *Registry) Get(interactionID string) (Interaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[interactionID]
	return entry, ok
}

// Delete removes one entry, typically on user acknowledgement.
func (r *Registry) Delete(interactionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, interactionID)
}

// DeleteSession clears every entry belonging to sessionID, used when a
// session reaches a terminal status.
func (r *Registry) DeleteSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.entries {
		if entry.SessionID == sessionID {
			delete(r.entries, id)
		}
	}
}

// List returns a snapshot of all entries.
func (r *Registry) List() []Interaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Interaction, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}
