package relay

import (
	"sort"
	"time"
)

// Connection is the registry entry for a connected user.
type Connection struct {
	UserID      UserID
	Handle      Conn
	ConnectedAt time.Time
}

// Registry maps each user to at most one live connection. It is not safe for
// concurrent use; the Relay event loop owns it.
type Registry struct {
	byUser map[UserID]*Connection
	now    func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		byUser: make(map[UserID]*Connection),
		now:    now,
	}
}

// Register binds handle to userID, replacing any earlier binding. The
// replaced entry is returned so the caller can close it; nil if there was none
// or it was the same handle.
func (r *Registry) Register(userID UserID, handle Conn) *Connection {
	prev := r.byUser[userID]
	r.byUser[userID] = &Connection{
		UserID:      userID,
		Handle:      handle,
		ConnectedAt: r.now(),
	}
	if prev != nil && prev.Handle.ID() == handle.ID() {
		r.byUser[userID].ConnectedAt = prev.ConnectedAt
		return nil
	}
	return prev
}

// Lookup returns the handle registered for userID
func (r *Registry) Lookup(userID UserID) (Conn, bool) {
	c, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return c.Handle, true
}

// Get returns the full entry for userID
func (r *Registry) Get(userID UserID) (*Connection, bool) {
	c, ok := r.byUser[userID]
	return c, ok
}

// Current reports whether handle is the connection currently bound to userID
func (r *Registry) Current(userID UserID, handle Conn) bool {
	c, ok := r.byUser[userID]
	return ok && c.Handle.ID() == handle.ID()
}

// Unregister removes the entry for userID if it still points at handle. A
// socket that was superseded by a newer one returns false and leaves the
// newer binding in place.
func (r *Registry) Unregister(userID UserID, handle Conn) bool {
	if !r.Current(userID, handle) {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// Len returns the number of registered users
func (r *Registry) Len() int {
	return len(r.byUser)
}

// Users returns the registered user ids in ascending order
func (r *Registry) Users() []UserID {
	users := make([]UserID, 0, len(r.byUser))
	for u := range r.byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}
