// Package pebblestore wraps cockroachdb/pebble with ebb's fsync policy and
// the storage primitives consumed by the collection and dump layers:
// point reads and writes, atomic batches, point-in-time snapshots, and
// bounded iterators.
package pebblestore
