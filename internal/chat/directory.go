// ABOUTME: In-memory user directory for author-id resolution during decode
// ABOUTME: Supplied by the caller, read-mostly, safe for concurrent use

package chat

import "sync"

// Directory resolves user ids to Users. The decode path drops records
// whose author cannot be resolved, so lookups must be cheap.
type Directory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewDirectory builds a directory from the given users.
func NewDirectory(users ...User) *Directory {
	d := &Directory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Lookup returns the user with the given id.
func (d *Directory) Lookup(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// Add inserts or replaces a user.
func (d *Directory) Add(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// Len returns the number of known users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
