package dump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rzbill/ebb/internal/collection"
)

// Batch is one bounded unit of serialized output: JSONL content tagged with
// the shard it came from. Batches are retained by the context until the
// caller releases them.
type Batch struct {
	Shard   string
	Content []byte
	Rows    uint64
}

// refPattern matches the on-disk form of collection references embedded in
// document bodies: "@c<numericId>/". The serializer rewrites the numeric id
// to the collection's current name so exported documents are readable
// without access to ebb's internal id space.
var refPattern = regexp.MustCompile(`@c(\d+)/`)

// batchWriter accumulates serialized rows for one shard, applying the
// optional document filter and reference translation along the way.
type batchWriter struct {
	shard    string
	resolver *collection.Resolver
	filter   docFilter
	buf      bytes.Buffer
	rows     uint64
}

func newBatchWriter(shard string, resolver *collection.Resolver, filter docFilter) *batchWriter {
	return &batchWriter{shard: shard, resolver: resolver, filter: filter}
}

// appendRow serializes one stored document as a JSONL line:
//
//	{"_key":"<key>","_rev":<rev>,"doc":<body>}
//
// The body is emitted verbatim (after reference translation), which keeps
// output byte-deterministic for a given snapshot. Returns whether the row
// was kept and any serialization error.
func (w *batchWriter) appendRow(docKey string, value []byte) (bool, error) {
	doc, ok := collection.DecodeDocument(value)
	if !ok {
		return false, fmt.Errorf("dump: shard %q key %q: %w", w.shard, docKey, collection.ErrCorruptRecord)
	}
	if !w.filter.Eval(docKey, doc.Rev, doc.TsMs, doc.Body) {
		return false, nil
	}
	body, err := w.translateRefs(doc.Body)
	if err != nil {
		return false, err
	}

	// json.Marshal keeps the key a valid JSON string even for non-UTF-8
	// byte sequences
	kb, _ := json.Marshal(docKey)
	w.buf.WriteString(`{"_key":`)
	w.buf.Write(kb)
	w.buf.WriteString(`,"_rev":`)
	w.buf.WriteString(strconv.FormatUint(doc.Rev, 10))
	w.buf.WriteString(`,"doc":`)
	w.buf.Write(body)
	w.buf.WriteByte('}')
	w.buf.WriteByte('\n')
	w.rows++
	return true, nil
}

// translateRefs rewrites "@c<id>/" references to "<name>/". Bodies without
// the marker are passed through untouched.
func (w *batchWriter) translateRefs(body []byte) ([]byte, error) {
	if !bytes.Contains(body, []byte("@c")) {
		return body, nil
	}
	var translateErr error
	out := refPattern.ReplaceAllFunc(body, func(m []byte) []byte {
		sub := refPattern.FindSubmatch(m)
		cid, err := strconv.ParseUint(string(sub[1]), 10, 64)
		if err != nil {
			return m
		}
		name, err := w.resolver.ResolveName(cid)
		if err != nil {
			// a dangling reference is data corruption from the dump's point
			// of view; surface it instead of exporting the raw id
			if translateErr == nil {
				translateErr = fmt.Errorf("dump: shard %q: %w", w.shard, err)
			}
			return m
		}
		return append([]byte(name), '/')
	})
	if translateErr != nil {
		return nil, translateErr
	}
	return out, nil
}

// finish packages the accumulated rows. Returns nil when nothing was kept.
func (w *batchWriter) finish() *Batch {
	if w.rows == 0 {
		return nil
	}
	return &Batch{
		Shard:   w.shard,
		Content: append([]byte(nil), w.buf.Bytes()...),
		Rows:    w.rows,
	}
}
