package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryDirectory is an in-memory Directory for development and tests.
// Lookups follow the same normalization rules as the Postgres directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]Principal
	byEmail map[string]Principal
}

// NewMemoryDirectory creates a directory seeded with the given principals.
func NewMemoryDirectory(principals ...Principal) *MemoryDirectory {
	d := &MemoryDirectory{
		byID:    make(map[string]Principal),
		byEmail: make(map[string]Principal),
	}
	for _, p := range principals {
		d.Put(p)
	}
	return d
}

// Put inserts or replaces a principal.
func (d *MemoryDirectory) Put(p Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[p.ID] = p
	d.byEmail[strings.ToLower(strings.TrimSpace(p.Email))] = p
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (Principal, error) {
	if strings.TrimSpace(id) == "" {
		return Principal{}, ErrNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Principal{}, ErrNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byEmail[email]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}
