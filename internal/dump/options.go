package dump

import (
	"errors"
	"time"
)

// Options configures one dump context. All numeric fields fall back to
// defaults when zero; Shards must name at least one collection.
type Options struct {
	// BatchSize is the row budget per batch. A worker cuts its batch when
	// this many rows are serialized and re-offers the rest of its range.
	BatchSize uint64 `json:"batchSize"`
	// PrefetchCount bounds how far workers run ahead of the consumer: the
	// batch channel holds at most PrefetchCount*Parallelism batches.
	PrefetchCount uint64 `json:"prefetchCount"`
	// Parallelism is the number of worker goroutines.
	Parallelism uint64 `json:"parallelism"`
	// TTL is the idle lifetime in seconds; a context not polled for this
	// long becomes eligible for reclamation by the manager's sweeper.
	TTL float64 `json:"ttl"`
	// Shards lists the collections to export.
	Shards []string `json:"shards"`
	// Filter is an optional CEL expression evaluated per document; only
	// documents it accepts are exported.
	Filter string `json:"filter,omitempty"`
}

// DefaultOptions returns the baseline option values.
func DefaultOptions() Options {
	return Options{
		BatchSize:     16384,
		PrefetchCount: 2,
		Parallelism:   2,
		TTL:           600,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.BatchSize == 0 {
		o.BatchSize = def.BatchSize
	}
	if o.PrefetchCount == 0 {
		o.PrefetchCount = def.PrefetchCount
	}
	if o.Parallelism == 0 {
		o.Parallelism = def.Parallelism
	}
	if o.TTL <= 0 {
		o.TTL = def.TTL
	}
}

func (o *Options) validate() error {
	if len(o.Shards) == 0 {
		return errors.New("dump: no shards requested")
	}
	return nil
}

func (o *Options) ttl() time.Duration {
	return time.Duration(o.TTL * float64(time.Second))
}
