// Package collection implements ebb's document layer on top of the Pebble
// store: namespaces, collections with monotonic numeric ids, a
// lexicographically ordered document keyspace, crc32c-checked record
// encoding, in-memory drop guards, and a numeric-id to name resolver used
// by the dump serializer.
package collection
