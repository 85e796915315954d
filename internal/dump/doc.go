// Package dump implements ebb's concurrent export pipeline. A dump context
// takes one Pebble snapshot, pins the requested collections, and streams
// their contents to a remote caller as discrete batches produced by a fixed
// pool of workers.
//
// Work descriptors flow through a quorum-terminated work queue that workers
// both consume and refill (a worker that exhausts its row budget re-offers
// the remainder of its range, which is how large collections get chunked
// across batches and rebalanced onto idle workers). Finished batches flow
// through a capacity-bounded channel back to the caller, which pulls them
// one at a time and releases consumed ones, keeping memory bounded end to
// end.
package dump
