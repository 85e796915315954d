package dump

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrChannelClosed is returned by Push after Close.
var ErrChannelClosed = errors.New("dump: channel closed")

// BoundedChannel is a FIFO producer/consumer channel with a fixed capacity.
// Push blocks while the channel is full, Pop blocks while it is empty, and
// Close wakes every blocked caller: subsequent pushes fail and pops drain
// the remaining items before reporting end-of-stream.
//
// The optional gauge counts +1 for a blocked Pop and -1 for a blocked Push,
// so a positive reading means consumers are starved and a negative one
// means producers are stalled. It is observability only, never used for
// correctness.
type BoundedChannel[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	items    []*T
	capacity int
	closed   bool
	gauge    *atomic.Int64
}

// NewBoundedChannel creates a channel holding at most capacity items.
func NewBoundedChannel[T any](capacity int, gauge *atomic.Int64) *BoundedChannel[T] {
	if capacity < 1 {
		capacity = 1
	}
	c := &BoundedChannel[T]{capacity: capacity, gauge: gauge}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// Push appends item, blocking while the channel is at capacity. It returns
// ErrChannelClosed if the channel is or becomes closed while waiting.
func (c *BoundedChannel[T]) Push(item *T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.closed && len(c.items) >= c.capacity {
		if c.gauge != nil {
			c.gauge.Add(-1)
		}
		c.notFull.Wait()
		if c.gauge != nil {
			c.gauge.Add(1)
		}
	}
	if c.closed {
		return ErrChannelClosed
	}
	c.items = append(c.items, item)
	c.notEmpty.Signal()
	return nil
}

// Pop removes the oldest item, blocking while the channel is empty. After
// Close it keeps draining buffered items; once drained it returns (nil,
// false) to signal end-of-stream.
func (c *BoundedChannel[T]) Pop() (*T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.closed && len(c.items) == 0 {
		if c.gauge != nil {
			c.gauge.Add(1)
		}
		c.notEmpty.Wait()
		if c.gauge != nil {
			c.gauge.Add(-1)
		}
	}
	if len(c.items) == 0 {
		return nil, false
	}
	item := c.items[0]
	c.items = c.items[1:]
	c.notFull.Signal()
	return item, true
}

// Close marks the channel closed and wakes all blocked producers and
// consumers. Idempotent.
func (c *BoundedChannel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

// Len reports the number of buffered items.
func (c *BoundedChannel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
