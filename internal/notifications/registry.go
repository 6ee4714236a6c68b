package notifications

import "sync"

// Registry maps a recipient ID to the session currently reachable for that
// recipient. At most one session is reachable per recipient; it is the only
// state shared between stream handlers and publishers.
//
// Superseded sessions drop out of the recipient map but stay in the live set
// until their own teardown, so CloseAll still reaches them.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	live     map[*Session]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		live:     make(map[*Session]struct{}),
	}
}

// Register installs s as the session for recipientID, overwriting any
// existing mapping. The superseded session, if any, is returned untouched;
// it stays open until it fails or is closed independently.
func (r *Registry) Register(recipientID string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.sessions[recipientID]
	r.sessions[recipientID] = s
	r.live[s] = struct{}{}
	if previous == s {
		return nil
	}
	return previous
}

// Unregister removes the mapping for recipientID only when it still points at
// s. A session that has been superseded cannot evict its replacement. Either
// way s leaves the live set.
func (r *Registry) Unregister(recipientID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.live, s)
	if current, ok := r.sessions[recipientID]; ok && current == s {
		delete(r.sessions, recipientID)
		return true
	}
	return false
}

// Lookup returns the current session for recipientID.
func (r *Registry) Lookup(recipientID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[recipientID]
	return s, ok
}

// Len returns the number of reachable recipients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// LiveCount returns the number of sessions registered and not yet torn
// down, superseded ones included.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// CloseAll closes every live session, including superseded ones that are no
// longer reachable by recipient. Used on process shutdown so long-lived
// streams do not hold the HTTP server open.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.live))
	for s := range r.live {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	// Close outside the lock: teardown calls back into Unregister.
	for _, s := range snapshot {
		s.Close(reason)
	}
}
