package dump

import (
	"fmt"

	"github.com/rzbill/ebb/internal/collection"
)

// RangeSource pins one collection for the lifetime of a dump context and
// carries the byte bounds its documents occupy under the shared snapshot.
type RangeSource struct {
	shard string
	meta  collection.Meta
	guard *collection.Guard
	lower []byte
	upper []byte
}

// newRangeSource acquires the collection guard and computes iteration
// bounds. An unknown collection is a terminal error for the whole context.
func newRangeSource(store *collection.Store, ns, shard string) (*RangeSource, error) {
	guard, meta, err := store.Acquire(ns, shard)
	if err != nil {
		return nil, fmt.Errorf("dump: shard %q: %w", shard, err)
	}
	lower, upper := collection.DocumentBounds(ns, meta.ID)
	return &RangeSource{
		shard: shard,
		meta:  meta,
		guard: guard,
		lower: lower,
		upper: upper,
	}, nil
}

// Shard returns the collection name this source covers.
func (s *RangeSource) Shard() string { return s.shard }

// Close releases the collection guard. Idempotent.
func (s *RangeSource) Close() {
	s.guard.Release()
}
