package id

import (
	"bytes"
	"testing"
)

func TestNextIsMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		cur := g.Next()
		if bytes.Compare(cur[:], prev[:]) <= 0 {
			t.Fatalf("id %s not greater than %s", cur, prev)
		}
		prev = cur
	}
}

func TestBackwardsClockKeepsOrdering(t *testing.T) {
	g := NewGenerator()
	times := []int64{100, 100, 50, 50, 120}
	idx := 0
	orig := nowMs
	nowMs = func() int64 { v := times[idx%len(times)]; idx++; return v }
	defer func() { nowMs = orig }()

	prev := g.Next()
	for i := 1; i < len(times); i++ {
		cur := g.Next()
		if bytes.Compare(cur[:], prev[:]) <= 0 {
			t.Fatalf("id ordering regressed at step %d", i)
		}
		prev = cur
	}
}

func TestStringIsHex(t *testing.T) {
	g := NewGenerator()
	s := g.Next().String()
	if len(s) != 32 {
		t.Fatalf("want 32 hex chars, got %d", len(s))
	}
}
