package dump

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/ebb/internal/collection"
	logpkg "github.com/rzbill/ebb/pkg/log"
)

// runWorker is the loop executed by each of the context's workers: pop a
// descriptor, dump its range, repeat until the sentinel. On failure it
// records the first error and stops the queue so siblings terminate
// promptly instead of running to natural completion.
func (c *Context) runWorker() {
	for {
		item := c.work.Pop()
		if item.Empty() {
			return
		}
		if err := c.handleWorkItem(item); err != nil {
			if errors.Is(err, ErrChannelClosed) {
				// shutdown race, not a dump failure
				return
			}
			c.logger.Warn("dump worker failed", logpkg.Str("shard", item.Source.Shard()), logpkg.Err(err))
			c.work.SetError(err)
			c.work.Stop()
			return
		}
	}
}

// handleWorkItem dumps rows [item.LowerBound, item.UpperBound) of the
// source's snapshot range. When the batch row budget is exhausted before
// the upper bound, the remainder is pushed back as a new work item
// (possibly picked up by a different worker) before the finished batch is
// offered to the channel. That ordering keeps the feedback edge live even
// while the channel exerts backpressure.
func (c *Context) handleWorkItem(item WorkItem) error {
	src := item.Source
	it, err := c.snapshot.NewIter(&pebble.IterOptions{
		LowerBound: src.lower,
		UpperBound: src.upper,
	})
	if err != nil {
		return fmt.Errorf("dump: shard %q: open iterator: %w", src.shard, err)
	}
	defer it.Close()

	w := newBatchWriter(src.shard, c.resolver, c.filter)

	// row counts the scan position within the shard's key order. A
	// remainder item carries the storage key of row LowerBound, so the
	// iterator seeks straight there instead of re-counting the range from
	// the front.
	var row uint64
	var ok bool
	if item.ResumeKey != nil {
		ok = it.SeekGE(item.ResumeKey)
		row = item.LowerBound
	} else {
		ok = it.First()
	}
	for ; ok; ok = it.Next() {
		if row >= item.UpperBound {
			break
		}
		if row < item.LowerBound {
			row++
			continue
		}
		docKey := collection.DocKeyFromStorageKey(c.namespace, src.meta.ID, it.Key())
		if _, err := w.appendRow(docKey, it.Value()); err != nil {
			return err
		}
		row++
		if w.rows >= c.opts.BatchSize {
			// budget reached: re-offer whatever remains of this range
			if row < item.UpperBound && it.Next() {
				c.work.Push(WorkItem{
					Source:     src,
					LowerBound: row,
					UpperBound: item.UpperBound,
					ResumeKey:  append([]byte(nil), it.Key()...),
				})
			}
			break
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("dump: shard %q: iterate: %w", src.shard, err)
	}

	batch := w.finish()
	if batch == nil {
		// nothing kept (empty range or all rows filtered out)
		return nil
	}
	return c.channel.Push(batch)
}
