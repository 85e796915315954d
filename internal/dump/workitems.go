package dump

import (
	"math"
	"sync"
)

// WorkItem describes one unit of iteration work: a range source plus a
// [LowerBound, UpperBound) row-count sub-range within that source's scan
// order. ResumeKey, when set, is the storage key at row LowerBound; it
// lets the worker seek straight there instead of re-scanning the range
// from the front. The zero value (nil Source, full range) is the "no more
// work" sentinel handed to workers on completion.
type WorkItem struct {
	Source     *RangeSource
	LowerBound uint64
	UpperBound uint64
	ResumeKey  []byte
}

// Empty reports whether the item is the completion sentinel.
func (w WorkItem) Empty() bool {
	return w.Source == nil && w.LowerBound == 0 && w.UpperBound == math.MaxUint64
}

func sentinelItem() WorkItem {
	return WorkItem{LowerBound: 0, UpperBound: math.MaxUint64}
}

// WorkItems is the blocking multi-producer/multi-consumer queue of work
// descriptors shared by all workers of one dump context.
//
// Termination is detected by quorum instead of counting outstanding work:
// a worker that finds the queue empty registers as waiting; when every
// registered worker is waiting at once, no one can produce more work, so
// the queue completes and releases everyone with the sentinel. Stop forces
// the same completion early, and SetError keeps only the first failure.
type WorkItems struct {
	mu         sync.Mutex
	cv         *sync.Cond
	work       []WorkItem
	completed  bool
	waiting    int
	numWorkers int
	err        error
}

// NewWorkItems creates the queue for numWorkers consumers.
func NewWorkItems(numWorkers int) *WorkItems {
	q := &WorkItems{numWorkers: numWorkers}
	q.cv = sync.NewCond(&q.mu)
	return q
}

// Push adds a work item and wakes one waiter. Items pushed after
// completion are dropped: the workers they were meant for are gone.
func (q *WorkItems) Push(item WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.completed {
		return
	}
	q.work = append(q.work, item)
	q.cv.Signal()
}

// Pop blocks until an item is available or the queue completes, in which
// case it returns the empty sentinel. Completion wins over remaining items
// so that Stop takes effect promptly.
func (q *WorkItems) Pop() WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.completed {
			return sentinelItem()
		}
		if n := len(q.work); n > 0 {
			item := q.work[n-1]
			q.work = q.work[:n-1]
			return item
		}
		q.waiting++
		if q.waiting == q.numWorkers {
			// Every worker is idle on an empty queue: nobody is left to
			// produce more work, so the dump is complete.
			q.completed = true
			q.cv.Broadcast()
		} else {
			q.cv.Wait()
		}
		q.waiting--
	}
}

// Stop forces completion, releasing all blocked workers with the sentinel.
func (q *WorkItems) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = true
	q.cv.Broadcast()
}

// SetError records the first failure; later failures are ignored.
func (q *WorkItems) SetError(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
}

// Result returns the first recorded failure, if any.
func (q *WorkItems) Result() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}
