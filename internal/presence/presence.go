package presence

import (
	"sort"
	"sync"
	"time"
)

// Entry describes one online user.
type Entry struct {
	UserID      string
	DisplayName string
	Avatar      string
	ConnectedAt time.Time
}

// Registry tracks which user identifiers currently hold a live connection.
// It is pure state: the connection manager decides when transitions happen
// and what events they emit.
type Registry struct {
	mu     sync.RWMutex
	online map[string]Entry
}

// NewRegistry builds an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		online: make(map[string]Entry),
	}
}

// MarkOnline records a user as online. Idempotent; the return value reports
// whether the user was previously offline.
func (r *Registry) MarkOnline(entry Entry) bool {
	if entry.UserID == "" {
		return false
	}
	if entry.ConnectedAt.IsZero() {
		entry.ConnectedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.online[entry.UserID]; ok {
		return false
	}
	r.online[entry.UserID] = entry
	return true
}

// MarkOffline removes a user. Idempotent; reports whether the user was online.
func (r *Registry) MarkOffline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.online[userID]; !ok {
		return false
	}
	delete(r.online, userID)
	return true
}

// IsOnline reports whether a user currently holds a live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[userID]
	return ok
}

// Snapshot returns the online users, sorted by user id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.online))
	for _, e := range r.online {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}
