package dump

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/ebb/internal/collection"
	logpkg "github.com/rzbill/ebb/pkg/log"
)

// Context is one dump session: a fixed snapshot, pinned collections, a
// worker pool, and the pull protocol the request layer drives via Next.
//
// Configuration and snapshot are immutable after construction; the only
// mutable external state is the expiry timestamp, the retained-batch map,
// and the batch id counter.
type Context struct {
	id        string
	user      string
	namespace string
	opts      Options

	// expiry as unix milliseconds; only ever moves forward
	expiresMs atomic.Int64

	nsGuard  *collection.Guard
	sources  map[string]*RangeSource
	resolver *collection.Resolver
	filter   docFilter
	snapshot *pebble.Snapshot

	work    *WorkItems
	channel *BoundedChannel[Batch]
	gauge   atomic.Int64

	// batches retained until the caller releases them via lastBatch
	batchesMu   sync.Mutex
	batches     map[uint64]*Batch
	lastBatchID uint64

	wg     sync.WaitGroup
	closed atomic.Bool
	logger logpkg.Logger
}

// NewContext builds a dump context and starts its workers. Unknown shards
// and invalid filter expressions fail here, synchronously; no context is
// produced and nothing stays pinned.
func NewContext(store *collection.Store, logger logpkg.Logger, ctxID string, opts Options, user, namespace string) (*Context, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	filter, err := newDocFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	nsGuard, err := store.AcquireNamespace(namespace)
	if err != nil {
		return nil, err
	}

	sources := make(map[string]*RangeSource, len(opts.Shards))
	for _, shard := range opts.Shards {
		src, err := newRangeSource(store, namespace, shard)
		if err != nil {
			for _, s := range sources {
				s.Close()
			}
			nsGuard.Release()
			return nil, err
		}
		sources[shard] = src
	}

	c := &Context{
		id:        ctxID,
		user:      user,
		namespace: namespace,
		opts:      opts,
		nsGuard:   nsGuard,
		sources:   sources,
		resolver:  store.Resolver(namespace),
		filter:    filter,
		snapshot:  store.DB().NewSnapshot(),
		work:      NewWorkItems(int(opts.Parallelism)),
		batches:   map[uint64]*Batch{},
		logger:    logger.With(logpkg.Str("dump", ctxID)),
	}
	c.channel = NewBoundedChannel[Batch](int(opts.PrefetchCount*opts.Parallelism), &c.gauge)
	c.ExtendLifetime()

	// one full-range work item per shard; workers chunk them as they go
	for _, src := range c.sources {
		c.work.Push(WorkItem{Source: src, LowerBound: 0, UpperBound: ^uint64(0)})
	}

	for i := uint64(0); i < opts.Parallelism; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runWorker()
		}()
	}
	// close the output channel once the last worker is gone, so a blocked
	// Next observes end-of-stream
	go func() {
		c.wg.Wait()
		c.channel.Close()
	}()

	return c, nil
}

// ID returns the context id. Immutable.
func (c *Context) ID() string { return c.id }

// User returns the creating user. Immutable.
func (c *Context) User() string { return c.user }

// Namespace returns the namespace being dumped. Immutable.
func (c *Context) Namespace() string { return c.namespace }

// Options returns the effective configuration.
func (c *Context) Options() Options { return c.opts }

// TTL returns the context's idle lifetime.
func (c *Context) TTL() time.Duration { return c.opts.ttl() }

// ExpiresAt returns the current expiry timestamp.
func (c *Context) ExpiresAt() time.Time {
	return time.UnixMilli(c.expiresMs.Load())
}

// CanAccess reports whether the context belongs to namespace and user, by
// exact match against the values recorded at construction.
func (c *Context) CanAccess(namespace, user string) bool {
	return c.namespace == namespace && c.user == user
}

// ExtendLifetime pushes the expiry to now+TTL. The CAS loop guarantees the
// timestamp never moves backwards under concurrent extensions.
func (c *Context) ExtendLifetime() {
	target := time.Now().Add(c.opts.ttl()).UnixMilli()
	for {
		cur := c.expiresMs.Load()
		if cur >= target || c.expiresMs.CompareAndSwap(cur, target) {
			return
		}
	}
}

// BlockCounts returns the channel block gauge: positive when Next is
// starved waiting for batches, negative when workers are stalled on a full
// channel.
func (c *Context) BlockCounts() int64 { return c.gauge.Load() }

// Next implements the pull protocol. If lastBatch names a retained batch it
// is released first (unknown ids are ignored). It then blocks until a batch
// is available, retains it under a fresh sequential id, and returns both.
// End-of-stream is (0, nil, nil); a failed dump returns the stored first
// error on this and every later call.
func (c *Context) Next(lastBatch *uint64) (uint64, *Batch, error) {
	if lastBatch != nil {
		c.batchesMu.Lock()
		delete(c.batches, *lastBatch)
		c.batchesMu.Unlock()
	}

	if err := c.work.Result(); err != nil {
		return 0, nil, err
	}

	batch, ok := c.channel.Pop()
	if !ok {
		// drained: either natural completion or a failure that stopped the
		// workers while we were blocked
		if err := c.work.Result(); err != nil {
			return 0, nil, err
		}
		return 0, nil, nil
	}

	c.batchesMu.Lock()
	c.lastBatchID++
	batchID := c.lastBatchID
	c.batches[batchID] = batch
	c.batchesMu.Unlock()
	return batchID, batch, nil
}

// RetainedBatches reports how many batches the caller has not released yet.
func (c *Context) RetainedBatches() int {
	c.batchesMu.Lock()
	defer c.batchesMu.Unlock()
	return len(c.batches)
}

// Close shuts the context down: it stops the work queue, closes the batch
// channel (unblocking any caller inside Next), joins the workers, and then
// releases snapshot and guards in reverse acquisition order. Safe to call
// concurrently with Next and idempotent.
func (c *Context) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.work != nil {
		c.work.Stop()
	}
	if c.channel != nil {
		c.channel.Close()
	}
	c.wg.Wait()

	if c.snapshot != nil {
		_ = c.snapshot.Close()
	}
	for _, src := range c.sources {
		src.Close()
	}
	c.nsGuard.Release()

	c.batchesMu.Lock()
	c.batches = map[uint64]*Batch{}
	c.batchesMu.Unlock()

	if c.logger != nil {
		c.logger.Debug("dump context closed")
	}
}
