package chat

import (
	"sort"
	"sync"
	"time"
)

// Registry maps users to their one authoritative connection and back.
// A later SetOnline for the same user supersedes the earlier connection.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]PresenceEntry
	byConn map[string]string // connection id -> user id
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]PresenceEntry),
		byConn: make(map[string]string),
		now:    time.Now,
	}
}

// SetOnline installs connID as userID's connection and returns the online snapshot.
// A previous connection of the same user loses its reverse mapping without notice.
func (r *Registry) SetOnline(userID, connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok && old.ConnectionID != connID {
		delete(r.byConn, old.ConnectionID)
	}
	// A connection announcing as a different user releases its old identity.
	if prev, ok := r.byConn[connID]; ok && prev != userID {
		delete(r.byUser, prev)
	}
	r.byUser[userID] = PresenceEntry{UserID: userID, ConnectionID: connID, LastSeenAt: r.now()}
	r.byConn[connID] = userID
	return r.snapshotLocked()
}

// SetOffline removes the presence owned by connID. It is a no-op when connID is
// unknown or was superseded by a newer connection of its user.
func (r *Registry) SetOffline(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offlineLocked(connID)
}

// Logout is an explicit SetOffline that only applies if connID currently speaks for userID.
func (r *Registry) Logout(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.byConn[connID]; !ok || owner != userID {
		return false
	}
	_, ok := r.offlineLocked(connID)
	return ok
}

func (r *Registry) offlineLocked(connID string) (string, bool) {
	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	entry, ok := r.byUser[userID]
	if !ok || entry.ConnectionID != connID {
		return "", false
	}
	delete(r.byUser, userID)
	return userID, true
}

func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUser[userID]
	return e.ConnectionID, ok
}

// Entry returns the full presence record of userID.
func (r *Registry) Entry(userID string) (PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUser[userID]
	return e, ok
}

// Snapshot returns the sorted ids of every online user.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Online reports presence for each of ids.
func (r *Registry) Online(ids []string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, out[id] = r.byUser[id]
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) snapshotLocked() []string {
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
