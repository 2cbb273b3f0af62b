package undead_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/lockframe/internal/detector/undead"
	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/types"
)

const (
	l1 = 1
	l2 = 2
)

// Seed scenario 6: a classic lock-order inversion between two
// threads, each acquiring l1 and l2 in opposite order.
func TestSeed6LockOrderInversion(t *testing.T) {
	d := undead.New()
	f := frame.New(d)

	require.NoError(t, f.Acquire(1, 1, l1))
	require.NoError(t, f.Acquire(1, 2, l2))
	require.NoError(t, f.Release(1, 3, l2))
	require.NoError(t, f.Release(1, 4, l1))
	require.NoError(t, f.Acquire(2, 5, l2))
	require.NoError(t, f.Acquire(2, 6, l1))
	require.NoError(t, f.Release(2, 7, l1))
	require.NoError(t, f.Release(2, 8, l2))

	findings, err := f.Findings()
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, types.DataRace{Resource: l1, Position: 0, Thread1: 1, Thread2: 2}, findings[0])
}

// Two threads each acquiring locks under disjoint, non-overlapping contexts
// never form a chain.
func TestNoDeadlockWhenLocksetsNeverOverlap(t *testing.T) {
	d := undead.New()
	f := frame.New(d)

	require.NoError(t, f.Acquire(1, 1, l1))
	require.NoError(t, f.Release(1, 2, l1))
	require.NoError(t, f.Acquire(2, 3, l2))
	require.NoError(t, f.Release(2, 4, l2))

	findings, err := f.Findings()
	require.NoError(t, err)
	require.Empty(t, findings)
}

// A single thread acquiring both locks in nested order, alone, cannot
// deadlock with itself — UNDEAD chains require strictly ascending distinct
// thread ids.
func TestSingleThreadNestedLocksNoDeadlock(t *testing.T) {
	d := undead.New()
	f := frame.New(d)

	require.NoError(t, f.Acquire(1, 1, l1))
	require.NoError(t, f.Acquire(1, 2, l2))
	require.NoError(t, f.Release(1, 3, l2))
	require.NoError(t, f.Release(1, 4, l1))

	findings, err := f.Findings()
	require.NoError(t, err)
	require.Empty(t, findings)
}

// Re-acquiring a lock under the same held context is idempotent: it must
// not fabricate additional dependency entries or spurious deadlocks.
func TestRepeatedAcquireUnderSameContextIsIdempotent(t *testing.T) {
	d := undead.New()
	f := frame.New(d)

	require.NoError(t, f.Acquire(1, 1, l1))
	require.NoError(t, f.Release(1, 2, l1))
	require.NoError(t, f.Acquire(1, 3, l1))
	require.NoError(t, f.Release(1, 4, l1))

	stats := d.Statistics()
	require.Equal(t, "1", stats["undead.dependencies"])
}
