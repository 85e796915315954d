package collection

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - ns/{ns}/m                      namespace metadata
// - c/{ns}/seq                     collection id counter
// - c/{ns}/m/{name}                collection metadata
// - c/{ns}/i/{cid_be8}             numeric id -> name reverse index
// - c/{ns}/d/{cid_be8}/{key}       document records
//
// Documents of one collection share the fixed-width prefix
// c/{ns}/d/{cid_be8}/, so a range scan over [prefix, prefix+0xFF) visits
// exactly that collection in document-key order.

var (
	sep        = byte('/')
	nsPrefix   = []byte("ns/")
	collPrefix = []byte("c/")
	metaSeg    = []byte("/m/")
	idxSeg     = []byte("/i/")
	docSeg     = []byte("/d/")
	seqSuffix  = []byte("/seq")
	metaSuffix = []byte("/m")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyNamespaceMeta builds the namespace metadata key.
func KeyNamespaceMeta(ns string) []byte {
	k := make([]byte, 0, len(nsPrefix)+len(ns)+len(metaSuffix))
	k = append(k, nsPrefix...)
	k = append(k, ns...)
	k = append(k, metaSuffix...)
	return k
}

// KeyCollectionSeq builds the per-namespace collection id counter key.
func KeyCollectionSeq(ns string) []byte {
	k := make([]byte, 0, len(collPrefix)+len(ns)+len(seqSuffix))
	k = append(k, collPrefix...)
	k = append(k, ns...)
	k = append(k, seqSuffix...)
	return k
}

// KeyCollectionMeta builds the collection metadata key.
func KeyCollectionMeta(ns, name string) []byte {
	k := make([]byte, 0, len(collPrefix)+len(ns)+len(metaSeg)+len(name))
	k = append(k, collPrefix...)
	k = append(k, ns...)
	k = append(k, metaSeg...)
	k = append(k, name...)
	return k
}

// KeyCollectionIndex builds the numeric-id reverse index key.
func KeyCollectionIndex(ns string, cid uint64) []byte {
	k := make([]byte, 0, len(collPrefix)+len(ns)+len(idxSeg)+8)
	k = append(k, collPrefix...)
	k = append(k, ns...)
	k = append(k, idxSeg...)
	k = appendBE8(k, cid)
	return k
}

// KeyDocument builds a document key within a collection.
func KeyDocument(ns string, cid uint64, docKey string) []byte {
	k := DocumentPrefix(ns, cid)
	k = append(k, docKey...)
	return k
}

// DocumentPrefix returns the shared prefix of all documents in a collection.
func DocumentPrefix(ns string, cid uint64) []byte {
	k := make([]byte, 0, len(collPrefix)+len(ns)+len(docSeg)+9+16)
	k = append(k, collPrefix...)
	k = append(k, ns...)
	k = append(k, docSeg...)
	k = appendBE8(k, cid)
	k = append(k, sep)
	return k
}

// DocumentBounds returns the inclusive-exclusive byte bounds of a
// collection's document range. The upper bound increments the trailing
// separator of the prefix, so every key under the prefix sorts below it,
// including keys starting with 0xFF.
func DocumentBounds(ns string, cid uint64) (lower, upper []byte) {
	lower = DocumentPrefix(ns, cid)
	upper = append([]byte{}, lower...)
	upper[len(upper)-1]++
	return lower, upper
}

// DocKeyFromStorageKey strips the collection prefix from a full storage key.
func DocKeyFromStorageKey(ns string, cid uint64, storageKey []byte) string {
	prefix := DocumentPrefix(ns, cid)
	if len(storageKey) <= len(prefix) {
		return ""
	}
	return string(storageKey[len(prefix):])
}
