package pwr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/types"
)

// TestHistoryDequeStaysBoundedAtH is the white-box half of
// TestSeed7HistoryBound (pwr_test.go): it inspects thread 2's per-lock
// history deque directly, since Statistics() exposes no counter that
// reflects deque length.
func TestHistoryDequeStaysBoundedAtH(t *testing.T) {
	var x, l1 types.ResourceName = 1, 2

	opts := DefaultOptions()
	d := New(opts)
	f := frame.New(d)

	pos := types.TracePosition(1)
	require.NoError(t, f.Read(2, pos, x))
	pos++

	for i := 0; i < opts.History+3; i++ {
		require.NoError(t, f.Acquire(1, pos, l1))
		pos++
		require.NoError(t, f.Write(1, pos, x))
		pos++
		require.NoError(t, f.Release(1, pos, l1))
		pos++
	}

	th := d.threads[2]
	require.NotNil(t, th)
	require.LessOrEqual(t, len(th.history[l1]), opts.History)
	require.Len(t, th.history[l1], opts.History)
}
