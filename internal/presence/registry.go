package presence

import (
	"sort"
	"sync"
)

// Entry is one online user and the connection that announced it.
type Entry struct {
	UserID int64  `json:"userId"`
	ConnID string `json:"socketId"`
}

// Registry maps online users to their live connection. The first
// connection to announce a user wins until it is unregistered.
// State lives for the lifetime of the process and is never persisted.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]string
	byConn map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]string),
		byConn: make(map[string]int64),
	}
}

// Register records userID as online on connID. It reports whether the
// entry was inserted; a user already present is left untouched.
func (r *Registry) Register(userID int64, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[userID]; ok {
		return false
	}
	r.byUser[userID] = connID
	r.byConn[connID] = userID
	return true
}

// Unregister removes the entry owned by connID, if any.
func (r *Registry) Unregister(connID string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return 0, false
	}
	delete(r.byConn, connID)
	delete(r.byUser, userID)
	return userID, true
}

func (r *Registry) Lookup(userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	return connID, ok
}

// ListAll returns a snapshot ordered by user id.
func (r *Registry) ListAll() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.byUser))
	for userID, connID := range r.byUser {
		entries = append(entries, Entry{UserID: userID, ConnID: connID})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Reset drops every entry. Used at shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser = make(map[int64]string)
	r.byConn = make(map[string]int64)
}
