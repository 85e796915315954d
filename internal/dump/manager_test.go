package dump

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/ebb/internal/collection"
)

func newTestManager(t *testing.T, mopts ManagerOptions) (*Manager, *collection.Store) {
	t.Helper()
	store := newDumpStore(t)
	m := NewManager(store, quietLogger(), mopts)
	t.Cleanup(m.Shutdown)
	return m, store
}

func TestManagerCreateFindRemove(t *testing.T) {
	m, store := newTestManager(t, ManagerOptions{})
	seedRows(t, store, "s1", 3)

	ctx, err := m.CreateContext(Options{Shards: []string{"s1"}}, "alice", testNS)
	require.NoError(t, err)
	require.NotEmpty(t, ctx.ID())

	found, err := m.Find(ctx.ID(), testNS, "alice")
	require.NoError(t, err)
	require.Same(t, ctx, found)

	_, err = m.Find("nope", testNS, "alice")
	require.ErrorIs(t, err, ErrContextNotFound)
	_, err = m.Find(ctx.ID(), testNS, "bob")
	require.ErrorIs(t, err, ErrForbidden)

	require.ErrorIs(t, m.Remove(ctx.ID(), testNS, "bob"), ErrForbidden)
	require.NoError(t, m.Remove(ctx.ID(), testNS, "alice"))
	_, err = m.Find(ctx.ID(), testNS, "alice")
	require.ErrorIs(t, err, ErrContextNotFound)
	require.ErrorIs(t, m.Remove(ctx.ID(), testNS, "alice"), ErrContextNotFound)
}

func TestManagerCreateRejectsUnknownShard(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	_, err := m.CreateContext(Options{Shards: []string{"missing"}}, "alice", testNS)
	require.ErrorIs(t, err, collection.ErrCollectionNotFound)
	require.Zero(t, m.Stats().ActiveContexts, "failed creation must not register a context")
}

func TestManagerContextLimit(t *testing.T) {
	m, store := newTestManager(t, ManagerOptions{MaxContexts: 2})
	seedRows(t, store, "s1", 1)

	for i := 0; i < 2; i++ {
		_, err := m.CreateContext(Options{Shards: []string{"s1"}}, "alice", testNS)
		require.NoError(t, err)
	}
	_, err := m.CreateContext(Options{Shards: []string{"s1"}}, "alice", testNS)
	require.ErrorIs(t, err, ErrTooManyContexts)

	// reclaiming frees a slot
	require.Equal(t, 2, m.GarbageCollect(true))
	_, err = m.CreateContext(Options{Shards: []string{"s1"}}, "alice", testNS)
	require.NoError(t, err)
}

func TestManagerFindExtendsLifetime(t *testing.T) {
	m, store := newTestManager(t, ManagerOptions{})
	seedRows(t, store, "s1", 1)

	ctx, err := m.CreateContext(Options{Shards: []string{"s1"}, TTL: 60}, "alice", testNS)
	require.NoError(t, err)
	first := ctx.ExpiresAt()

	time.Sleep(5 * time.Millisecond)
	_, err = m.Find(ctx.ID(), testNS, "alice")
	require.NoError(t, err)
	require.True(t, ctx.ExpiresAt().After(first), "lookup must push the expiry forward")
}

func TestManagerGarbageCollectExpired(t *testing.T) {
	m, store := newTestManager(t, ManagerOptions{})
	seedRows(t, store, "s1", 1)

	short, err := m.CreateContext(Options{Shards: []string{"s1"}, TTL: 0.02}, "alice", testNS)
	require.NoError(t, err)
	long, err := m.CreateContext(Options{Shards: []string{"s1"}, TTL: 600}, "alice", testNS)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, m.GarbageCollect(false))
	_, err = m.Find(short.ID(), testNS, "alice")
	require.ErrorIs(t, err, ErrContextNotFound)
	_, err = m.Find(long.ID(), testNS, "alice")
	require.NoError(t, err)
}

func TestManagerRemoveForNamespace(t *testing.T) {
	m, store := newTestManager(t, ManagerOptions{})
	_, err := store.EnsureNamespace("other")
	require.NoError(t, err)
	seedRows(t, store, "s1", 1)
	_, err = store.CreateCollection(context.Background(), "other", "t1")
	require.NoError(t, err)

	a, err := m.CreateContext(Options{Shards: []string{"s1"}}, "alice", testNS)
	require.NoError(t, err)
	b, err := m.CreateContext(Options{Shards: []string{"t1"}}, "bob", "other")
	require.NoError(t, err)

	require.Equal(t, 1, m.RemoveForNamespace(testNS))
	_, err = m.Find(a.ID(), testNS, "alice")
	require.ErrorIs(t, err, ErrContextNotFound)
	_, err = m.Find(b.ID(), "other", "bob")
	require.NoError(t, err)
}

func TestManagerSweeperReclaims(t *testing.T) {
	m, store := newTestManager(t, ManagerOptions{})
	seedRows(t, store, "s1", 1)

	ctx, err := m.CreateContext(Options{Shards: []string{"s1"}, TTL: 0.02}, "alice", testNS)
	require.NoError(t, err)

	m.StartSweeper(10 * time.Millisecond)
	defer m.StopSweeper()

	// don't call Find while waiting: every successful lookup would extend
	// the lifetime and keep the context alive
	deadline := time.Now().Add(3 * time.Second)
	for m.Stats().ActiveContexts > 0 {
		require.True(t, time.Now().Before(deadline), "sweeper never reclaimed the expired context")
		time.Sleep(10 * time.Millisecond)
	}
	_, err = m.Find(ctx.ID(), testNS, "alice")
	require.ErrorIs(t, err, ErrContextNotFound)
}

func TestManagerStatsAndShutdown(t *testing.T) {
	store := newDumpStore(t)
	m := NewManager(store, quietLogger(), ManagerOptions{})
	seedRows(t, store, "s1", 10)

	ctx, err := m.CreateContext(Options{BatchSize: 2, Shards: []string{"s1"}}, "alice", testNS)
	require.NoError(t, err)
	_, batch, err := ctx.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, batch)

	s := m.Stats()
	require.Equal(t, 1, s.ActiveContexts)
	require.Equal(t, 1, s.RetainedBatches)

	m.Shutdown()
	require.Zero(t, m.Stats().ActiveContexts)
	// shutdown is idempotent
	m.Shutdown()
}
