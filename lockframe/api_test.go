package lockframe_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/lockframe/lockframe"
)

func TestReleaseWithoutAcquireReturnsInvariantError(t *testing.T) {
	a := lockframe.NewPWR(lockframe.DefaultOptions())
	err := a.Release(1, 1, 42)
	require.Error(t, err)
	var ierr *lockframe.InvariantError
	assert.True(t, errors.As(err, &ierr))
}

func TestPWRUNDEADReportsBothRacesAndDeadlocks(t *testing.T) {
	a := lockframe.NewPWRUNDEAD(lockframe.DefaultOptions())

	var x lockframe.ResourceName = 10
	require.NoError(t, a.Write(1, 1, x))
	require.NoError(t, a.Write(2, 2, x))

	var l1, l2 lockframe.ResourceName = 1, 2
	require.NoError(t, a.Acquire(1, 3, l1))
	require.NoError(t, a.Acquire(1, 4, l2))
	require.NoError(t, a.Release(1, 5, l2))
	require.NoError(t, a.Release(1, 6, l1))
	require.NoError(t, a.Acquire(2, 7, l2))
	require.NoError(t, a.Acquire(2, 8, l1))
	require.NoError(t, a.Release(2, 9, l1))
	require.NoError(t, a.Release(2, 10, l2))

	findings, err := a.Findings()
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestStatisticsExposedWhenSupported(t *testing.T) {
	a := lockframe.NewUNDEAD()
	require.NoError(t, a.Acquire(1, 1, 1))
	require.NoError(t, a.Release(1, 2, 1))

	stats := a.Statistics()
	assert.NotNil(t, stats)
}
