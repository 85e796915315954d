package collection

import (
	"fmt"
	"sync"
)

// Resolver translates numeric collection ids into current names within one
// namespace. Lookups hit the reverse index once and are cached; collection
// renames are not supported, so the cache never invalidates.
type Resolver struct {
	store *Store
	ns    string

	mu    sync.RWMutex
	names map[uint64]string
}

// Resolver returns a name resolver scoped to ns.
func (s *Store) Resolver(ns string) *Resolver {
	return &Resolver{store: s, ns: ns, names: map[uint64]string{}}
}

// ResolveName returns the collection name for a numeric id.
func (r *Resolver) ResolveName(cid uint64) (string, error) {
	r.mu.RLock()
	name, ok := r.names[cid]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	b, err := r.store.db.Get(KeyCollectionIndex(r.ns, cid))
	if err != nil {
		return "", fmt.Errorf("collection: resolve id %d in %s: %w", cid, r.ns, ErrCollectionNotFound)
	}
	name = string(b)

	r.mu.Lock()
	r.names[cid] = name
	r.mu.Unlock()
	return name, nil
}
