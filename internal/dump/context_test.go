package dump

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/ebb/internal/collection"
	pebblestore "github.com/rzbill/ebb/internal/storage/pebble"
	logpkg "github.com/rzbill/ebb/pkg/log"
)

const testNS = "ns"

func quietLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithLevel(logpkg.FatalLevel))
}

func newDumpStore(t *testing.T) *collection.Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := collection.NewStore(db)
	_, err = store.EnsureNamespace(testNS)
	require.NoError(t, err)
	return store
}

// seedRows inserts n documents keyed row-00000..row-n into a collection.
func seedRows(t *testing.T, store *collection.Store, coll string, n int) []string {
	t.Helper()
	_, err := store.CreateCollection(context.Background(), testNS, coll)
	require.NoError(t, err)
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("row-%05d", i)
		body := fmt.Sprintf(`{"n":%d}`, i)
		_, _, err := store.Insert(context.Background(), testNS, coll, key, []byte(body))
		require.NoError(t, err)
		keys = append(keys, key)
	}
	return keys
}

type dumpedRow struct {
	Key string          `json:"_key"`
	Rev uint64          `json:"_rev"`
	Doc json.RawMessage `json:"doc"`
}

// drainDump pulls batches until end-of-stream, releasing each consumed
// batch, and returns all rows grouped by shard.
func drainDump(t *testing.T, c *Context) map[string][]dumpedRow {
	t.Helper()
	rows := map[string][]dumpedRow{}
	var last *uint64
	for {
		batchID, batch, err := c.Next(last)
		require.NoError(t, err)
		if batch == nil {
			return rows
		}
		sc := bufio.NewScanner(bytes.NewReader(batch.Content))
		var n uint64
		for sc.Scan() {
			var row dumpedRow
			require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
			rows[batch.Shard] = append(rows[batch.Shard], row)
			n++
		}
		require.Equal(t, batch.Rows, n, "batch row count must match content lines")
		id := batchID
		last = &id
	}
}

func newTestContext(t *testing.T, store *collection.Store, opts Options) *Context {
	t.Helper()
	c, err := NewContext(store, quietLogger(), "ctx-test", opts, "alice", testNS)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestDumpFullContentsAcrossShards(t *testing.T) {
	store := newDumpStore(t)
	wantS1 := seedRows(t, store, "s1", 100)
	wantS2 := seedRows(t, store, "s2", 37)

	c := newTestContext(t, store, Options{
		BatchSize:   10,
		Parallelism: 3,
		Shards:      []string{"s1", "s2"},
	})
	rows := drainDump(t, c)

	require.Len(t, rows["s1"], len(wantS1))
	require.Len(t, rows["s2"], len(wantS2))
	seen := map[string]bool{}
	for shard, rs := range rows {
		for _, r := range rs {
			require.False(t, seen[shard+"/"+r.Key], "duplicate row %s/%s", shard, r.Key)
			seen[shard+"/"+r.Key] = true
		}
	}
}

func TestSequentialBatchScenario(t *testing.T) {
	// batchSize 2, parallelism 1, 5 rows: batches of 2, 2, 1, then EOF
	store := newDumpStore(t)
	keys := seedRows(t, store, "s1", 5)

	c := newTestContext(t, store, Options{
		BatchSize:   2,
		Parallelism: 1,
		Shards:      []string{"s1"},
	})

	var sizes []uint64
	var got []string
	var last *uint64
	for {
		batchID, batch, err := c.Next(last)
		require.NoError(t, err)
		if batch == nil {
			break
		}
		sizes = append(sizes, batch.Rows)
		sc := bufio.NewScanner(bytes.NewReader(batch.Content))
		for sc.Scan() {
			var row dumpedRow
			require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
			got = append(got, row.Key)
		}
		id := batchID
		last = &id
	}
	require.Equal(t, []uint64{2, 2, 1}, sizes)
	// single worker output matches sequential key order exactly
	require.Equal(t, keys, got)
}

func TestRemainderItemsResumeAtCarriedKey(t *testing.T) {
	// batchSize 1 forces a remainder item per row, so the whole shard is
	// dumped through the seek-to-resume-key path; the output must still be
	// every row exactly once in key order
	store := newDumpStore(t)
	keys := seedRows(t, store, "s1", 40)

	c := newTestContext(t, store, Options{
		BatchSize:   1,
		Parallelism: 1,
		Shards:      []string{"s1"},
	})
	rows := drainDump(t, c)

	got := make([]string, 0, len(rows["s1"]))
	for _, r := range rows["s1"] {
		got = append(got, r.Key)
	}
	require.Equal(t, keys, got)
}

func TestDumpIncludesHighByteKeys(t *testing.T) {
	store := newDumpStore(t)
	_, err := store.CreateCollection(context.Background(), testNS, "s1")
	require.NoError(t, err)
	for _, k := range []string{"a", "\xffzz"} {
		_, _, err := store.Insert(context.Background(), testNS, "s1", k, []byte(`{}`))
		require.NoError(t, err)
	}

	c := newTestContext(t, store, Options{
		Parallelism: 1,
		Shards:      []string{"s1"},
	})
	rows := drainDump(t, c)
	require.Len(t, rows["s1"], 2)
	require.Equal(t, "a", rows["s1"][0].Key)
	// raw 0xff is not valid UTF-8, so the key is exported with the
	// replacement rune in front of the printable tail
	require.Equal(t, "�zz", rows["s1"][1].Key)
}

func TestBatchRetentionAndRelease(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 6)

	c := newTestContext(t, store, Options{
		BatchSize:   2,
		Parallelism: 1,
		Shards:      []string{"s1"},
	})

	id1, b1, err := c.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, b1)
	_, b2, err := c.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, b2)
	require.Equal(t, 2, c.RetainedBatches())

	// releasing an unknown id is a no-op
	unknown := uint64(9999)
	_, b3, err := c.Next(&unknown)
	require.NoError(t, err)
	require.NotNil(t, b3)
	require.Equal(t, 3, c.RetainedBatches())

	// releasing id1 removes it; repeating the release changes nothing
	_, b4, err := c.Next(&id1)
	require.NoError(t, err)
	require.Nil(t, b4)
	require.Equal(t, 2, c.RetainedBatches())
	_, _, err = c.Next(&id1)
	require.NoError(t, err)
	require.Equal(t, 2, c.RetainedBatches())
}

func TestBatchIDsAreSequential(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 6)

	c := newTestContext(t, store, Options{
		BatchSize:   2,
		Parallelism: 1,
		Shards:      []string{"s1"},
	})
	var prev uint64
	for {
		id, batch, err := c.Next(nil)
		require.NoError(t, err)
		if batch == nil {
			break
		}
		require.Equal(t, prev+1, id)
		prev = id
	}
	require.Equal(t, uint64(3), prev)
}

func TestUnknownShardFailsSynchronously(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 1)

	_, err := NewContext(store, quietLogger(), "ctx-bad", Options{
		Shards: []string{"s1", "missing"},
	}, "alice", testNS)
	require.ErrorIs(t, err, collection.ErrCollectionNotFound)

	// the failed construction must not leave s1 pinned
	require.NoError(t, store.DropCollection(context.Background(), testNS, "s1"))
}

func TestUnknownNamespaceFailsSynchronously(t *testing.T) {
	store := newDumpStore(t)
	_, err := NewContext(store, quietLogger(), "ctx-bad", Options{
		Shards: []string{"s1"},
	}, "alice", "ghost")
	require.ErrorIs(t, err, collection.ErrNamespaceNotFound)
}

func TestDumpPinsCollectionsUntilClose(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 3)

	c, err := NewContext(store, quietLogger(), "ctx-pin", Options{
		Parallelism: 1,
		Shards:      []string{"s1"},
	}, "alice", testNS)
	require.NoError(t, err)

	require.ErrorIs(t, store.DropCollection(context.Background(), testNS, "s1"), collection.ErrCollectionInUse)
	c.Close()
	require.NoError(t, store.DropCollection(context.Background(), testNS, "s1"))
}

func TestWorkerErrorSurfacesOnEveryNext(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 5)
	meta, err := store.GetCollection(testNS, "s1")
	require.NoError(t, err)
	// plant a value that fails record decoding mid-range
	require.NoError(t, store.DB().Set(collection.KeyDocument(testNS, meta.ID, "row-00002x"), []byte("garbage")))

	c := newTestContext(t, store, Options{
		BatchSize:   100,
		Parallelism: 2,
		Shards:      []string{"s1"},
	})

	var firstErr error
	deadline := time.Now().Add(5 * time.Second)
	for firstErr == nil {
		require.True(t, time.Now().Before(deadline), "no error surfaced")
		_, batch, err := c.Next(nil)
		if err != nil {
			firstErr = err
			break
		}
		require.NotNil(t, batch, "dump ended without surfacing the failure")
	}
	require.ErrorIs(t, firstErr, collection.ErrCorruptRecord)

	// the same stored error comes back on every later call
	_, _, err = c.Next(nil)
	require.Equal(t, firstErr, err)
	_, _, err = c.Next(nil)
	require.Equal(t, firstErr, err)

	// destruction after failure must not deadlock
	done := make(chan struct{})
	go func() { c.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("close deadlocked after worker failure")
	}
}

func TestCloseUnblocksBlockedNext(t *testing.T) {
	// hand-built context with one live fake worker, so Next blocks on the
	// empty channel until Close. The queue is sized for two workers so the
	// single popper does not trigger quorum completion on its own.
	c := &Context{
		opts:    DefaultOptions(),
		work:    NewWorkItems(2),
		batches: map[uint64]*Batch{},
	}
	c.channel = NewBoundedChannel[Batch](1, &c.gauge)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.work.Pop() // parked until Stop
	}()
	go func() {
		c.wg.Wait()
		c.channel.Close()
	}()

	type result struct {
		batch *Batch
		err   error
	}
	got := make(chan result, 1)
	go func() {
		_, batch, err := c.Next(nil)
		got <- result{batch, err}
	}()

	select {
	case <-got:
		t.Fatalf("next should block while workers are live")
	case <-time.After(50 * time.Millisecond):
	}

	c.Close()
	select {
	case r := <-got:
		require.NoError(t, r.err)
		require.Nil(t, r.batch)
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not unblock next")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 5)

	c := newTestContext(t, store, Options{
		BatchSize:   2,
		Parallelism: 1,
		Shards:      []string{"s1"},
	})

	// writes after context creation are invisible to the dump
	for i := 0; i < 5; i++ {
		_, _, err := store.Insert(context.Background(), testNS, "s1", fmt.Sprintf("post-%d", i), []byte(`{}`))
		require.NoError(t, err)
	}

	rows := drainDump(t, c)
	require.Len(t, rows["s1"], 5)
	for _, r := range rows["s1"] {
		require.NotContains(t, r.Key, "post-")
	}
}

func TestFilterSelectsDocuments(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 10)

	c := newTestContext(t, store, Options{
		BatchSize:   3,
		Parallelism: 2,
		Shards:      []string{"s1"},
		Filter:      "doc.n >= 6",
	})
	rows := drainDump(t, c)
	require.Len(t, rows["s1"], 4)
	for _, r := range rows["s1"] {
		var body struct {
			N int `json:"n"`
		}
		require.NoError(t, json.Unmarshal(r.Doc, &body))
		require.GreaterOrEqual(t, body.N, 6)
	}
}

func TestInvalidFilterFailsCreate(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 1)
	_, err := NewContext(store, quietLogger(), "ctx-filter", Options{
		Shards: []string{"s1"},
		Filter: "doc.n >=",
	}, "alice", testNS)
	require.Error(t, err)
}

func TestReferenceTranslation(t *testing.T) {
	store := newDumpStore(t)
	users, err := store.CreateCollection(context.Background(), testNS, "users")
	require.NoError(t, err)
	_, err = store.CreateCollection(context.Background(), testNS, "orders")
	require.NoError(t, err)

	body := fmt.Sprintf(`{"owner":"@c%d/alice","total":3}`, users.ID)
	_, _, err = store.Insert(context.Background(), testNS, "orders", "o1", []byte(body))
	require.NoError(t, err)

	c := newTestContext(t, store, Options{
		Parallelism: 1,
		Shards:      []string{"orders"},
	})
	rows := drainDump(t, c)
	require.Len(t, rows["orders"], 1)
	require.Contains(t, string(rows["orders"][0].Doc), `"users/alice"`)
}

func TestCanAccessMatchesExactOwner(t *testing.T) {
	store := newDumpStore(t)
	_, err := store.EnsureNamespace("other")
	require.NoError(t, err)
	seedRows(t, store, "s1", 1)
	_, err = store.CreateCollection(context.Background(), "other", "t1")
	require.NoError(t, err)

	a, err := NewContext(store, quietLogger(), "ctx-a", Options{Shards: []string{"s1"}}, "alice", testNS)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	b, err := NewContext(store, quietLogger(), "ctx-b", Options{Shards: []string{"t1"}}, "bob", "other")
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.True(t, a.CanAccess(testNS, "alice"))
	require.False(t, a.CanAccess("other", "bob"))
	require.False(t, a.CanAccess(testNS, "bob"))
	require.False(t, b.CanAccess(testNS, "alice"))
}

func TestExtendLifetimeOnlyIncreases(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 1)

	c := newTestContext(t, store, Options{Shards: []string{"s1"}, TTL: 10})
	first := c.ExpiresAt()
	require.False(t, first.IsZero())

	time.Sleep(5 * time.Millisecond)
	c.ExtendLifetime()
	second := c.ExpiresAt()
	require.False(t, second.Before(first))

	// without explicit extension the timestamp never rewinds
	require.Equal(t, second, c.ExpiresAt())
}

func TestOptionsDefaults(t *testing.T) {
	store := newDumpStore(t)
	seedRows(t, store, "s1", 1)

	c := newTestContext(t, store, Options{Shards: []string{"s1"}})
	opts := c.Options()
	require.Equal(t, uint64(16384), opts.BatchSize)
	require.Equal(t, uint64(2), opts.PrefetchCount)
	require.Equal(t, uint64(2), opts.Parallelism)
	require.Equal(t, float64(600), opts.TTL)
	require.Equal(t, 10*time.Minute, c.TTL())

	_, err := NewContext(store, quietLogger(), "ctx-none", Options{}, "alice", testNS)
	require.Error(t, err, "empty shard list must be rejected")
}
