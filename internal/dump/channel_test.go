package dump

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelFIFO(t *testing.T) {
	ch := NewBoundedChannel[int](4, nil)
	for i := 0; i < 3; i++ {
		v := i
		require.NoError(t, ch.Push(&v))
	}
	for i := 0; i < 3; i++ {
		got, ok := ch.Pop()
		require.True(t, ok)
		require.Equal(t, i, *got)
	}
}

func TestChannelPushBlocksAtCapacity(t *testing.T) {
	var gauge atomic.Int64
	ch := NewBoundedChannel[int](1, &gauge)
	one := 1
	require.NoError(t, ch.Push(&one))

	pushed := make(chan error, 1)
	go func() {
		two := 2
		pushed <- ch.Push(&two)
	}()

	select {
	case <-pushed:
		t.Fatalf("push should block at capacity")
	case <-time.After(50 * time.Millisecond):
	}
	// a blocked producer registers as -1 on the gauge
	require.Equal(t, int64(-1), gauge.Load())

	got, ok := ch.Pop()
	require.True(t, ok)
	require.Equal(t, 1, *got)
	require.NoError(t, <-pushed)
	require.Equal(t, int64(0), gauge.Load())
}

func TestChannelPopBlocksWhenEmpty(t *testing.T) {
	var gauge atomic.Int64
	ch := NewBoundedChannel[int](1, &gauge)

	popped := make(chan int, 1)
	go func() {
		v, ok := ch.Pop()
		require.True(t, ok)
		popped <- *v
	}()

	select {
	case <-popped:
		t.Fatalf("pop should block while empty")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, int64(1), gauge.Load())

	v := 7
	require.NoError(t, ch.Push(&v))
	require.Equal(t, 7, <-popped)
}

func TestChannelCloseUnblocksAndDrains(t *testing.T) {
	ch := NewBoundedChannel[int](4, nil)
	v := 1
	require.NoError(t, ch.Push(&v))

	done := make(chan struct{})
	go func() {
		// first pop drains the buffered item, second observes end-of-stream
		got, ok := ch.Pop()
		require.True(t, ok)
		require.Equal(t, 1, *got)
		_, ok = ch.Pop()
		require.False(t, ok)
		close(done)
	}()

	ch.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("pop did not observe close")
	}

	require.ErrorIs(t, ch.Push(&v), ErrChannelClosed)
	ch.Close() // idempotent
}

func TestChannelCloseUnblocksBlockedPush(t *testing.T) {
	ch := NewBoundedChannel[int](1, nil)
	v := 1
	require.NoError(t, ch.Push(&v))

	errCh := make(chan error, 1)
	go func() {
		w := 2
		errCh <- ch.Push(&w)
	}()
	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatalf("blocked push did not return after close")
	}
}
