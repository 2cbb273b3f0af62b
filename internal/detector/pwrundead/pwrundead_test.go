package pwrundead_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/lockframe/internal/detector/pwrundead"
	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/types"
)

const (
	l1 = 1
	l2 = 2
	x  = 10
)

// Seed scenario 6, run through the integrated detector: the chain's two
// dependencies carry genuinely concurrent (mutually incomparable) VCs, so
// LD-4 does not suppress the report.
func TestSeed6SurvivesLD4WhenConcurrent(t *testing.T) {
	d := pwrundead.New(pwrundead.DefaultOptions())
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

// A join between the two threads establishes happens-before across their
// entire chain, making every pair of dependency VCs comparable — LD-4 must
// suppress the report even though LD-1/2/3 still hold.
func TestLD4SuppressesHappensBeforeOrderedChain(t *testing.T) {
	d := pwrundead.New(pwrundead.DefaultOptions())
	f := frame.New(d)

	require.NoError(t, f.Acquire(1, 1, l1))
	require.NoError(t, f.Acquire(1, 2, l2))
	require.NoError(t, f.Release(1, 3, l2))
	require.NoError(t, f.Release(1, 4, l1))
	require.NoError(t, f.Join(2, 5, 1))
	require.NoError(t, f.Acquire(2, 6, l2))
	require.NoError(t, f.Acquire(2, 7, l1))
	require.NoError(t, f.Release(2, 8, l1))
	require.NoError(t, f.Release(2, 9, l2))

	findings, err := f.Findings()
	require.NoError(t, err)
	require.Empty(t, findings)
}

// Races still report mid-stream alongside deadlock detection at
// end-of-stream, exercising both report paths through the same detector.
func TestRacesAndDeadlocksBothReported(t *testing.T) {
	d := pwrundead.New(pwrundead.DefaultOptions())
	f := frame.New(d)

	require.NoError(t, f.Write(1, 1, x))
	require.NoError(t, f.Write(2, 2, x))

	require.NoError(t, f.Acquire(1, 3, l1))
	require.NoError(t, f.Acquire(1, 4, l2))
	require.NoError(t, f.Release(1, 5, l2))
	require.NoError(t, f.Release(1, 6, l1))
	require.NoError(t, f.Acquire(2, 7, l2))
	require.NoError(t, f.Acquire(2, 8, l1))
	require.NoError(t, f.Release(2, 9, l1))
	require.NoError(t, f.Release(2, 10, l2))

	findings, err := f.Findings()
	require.NoError(t, err)
	require.Len(t, findings, 2)
}
