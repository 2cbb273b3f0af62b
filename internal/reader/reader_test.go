package reader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/reader"
	"github.com/kolkov/lockframe/internal/types"
)

// recordingDetector records every forwarded event for assertion, without
// implementing any actual race/deadlock logic.
type recordingDetector struct {
	calls []string
}

func (d *recordingDetector) Read(t types.ThreadID, pos types.TracePosition, r types.ResourceName) error {
	d.calls = append(d.calls, fmtCall("read", t, pos, int64(r)))
	return nil
}
func (d *recordingDetector) Write(t types.ThreadID, pos types.TracePosition, r types.ResourceName) error {
	d.calls = append(d.calls, fmtCall("write", t, pos, int64(r)))
	return nil
}
func (d *recordingDetector) Acquire(t types.ThreadID, pos types.TracePosition, l types.ResourceName) error {
	d.calls = append(d.calls, fmtCall("acquire", t, pos, int64(l)))
	return nil
}
func (d *recordingDetector) Release(t types.ThreadID, pos types.TracePosition, l types.ResourceName) error {
	d.calls = append(d.calls, fmtCall("release", t, pos, int64(l)))
	return nil
}
func (d *recordingDetector) Fork(t types.ThreadID, pos types.TracePosition, c types.ThreadID) error {
	d.calls = append(d.calls, fmtCall("fork", t, pos, int64(c)))
	return nil
}
func (d *recordingDetector) Join(t types.ThreadID, pos types.TracePosition, c types.ThreadID) error {
	d.calls = append(d.calls, fmtCall("join", t, pos, int64(c)))
	return nil
}
func (d *recordingDetector) Notify(t types.ThreadID, pos types.TracePosition, c types.ResourceName) error {
	d.calls = append(d.calls, fmtCall("notify", t, pos, int64(c)))
	return nil
}
func (d *recordingDetector) Wait(t types.ThreadID, pos types.TracePosition, c types.ResourceName) error {
	d.calls = append(d.calls, fmtCall("wait", t, pos, int64(c)))
	return nil
}
func (d *recordingDetector) GetRaces() error { return nil }

func fmtCall(kind string, t types.ThreadID, pos types.TracePosition, target int64) string {
	return kind + ":" + itoa(int64(t)) + ":" + itoa(int64(pos)) + ":" + itoa(target)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestDefaultFormatDispatchesAllKinds(t *testing.T) {
	d := &recordingDetector{}
	f := frame.New(d)
	r := reader.New(reader.Options{})

	lines := []string{
		"1,RD,10",
		"1,WR,10",
		"1,LK,20",
		"1,UK,20",
		"1,SIG,2",
		"2,WT,1",
		"1,NT,30",
		"2,NTWT,30",
		"1,AWR,10",
	}
	for i, line := range lines {
		require.NoErrorf(t, r.Dispatch(f, i+1, line), "line %d", i+1)
	}

	assert.Equal(t, []string{
		"read:1:1:10",
		"write:1:2:10",
		"acquire:1:3:20",
		"release:1:4:20",
		"fork:1:5:2",
		"join:2:6:1",
		"notify:1:7:30",
		"wait:2:8:30",
	}, d.calls)
}

func TestMalformedLineFailsFast(t *testing.T) {
	d := &recordingDetector{}
	f := frame.New(d)
	r := reader.New(reader.Options{})

	_, err := r.Parse(1, "1,RD")
	require.Error(t, err)
	var perr *reader.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Line)

	err = r.Dispatch(f, 1, "not-a-number,RD,10")
	require.Error(t, err)

	err = r.Dispatch(f, 1, "1,BOGUS,10")
	require.Error(t, err)
}

func TestStdFormatInternsThreadsAndLocks(t *testing.T) {
	d := &recordingDetector{}
	f := frame.New(d)
	r := reader.New(reader.Options{Std: true})

	lines := []string{
		"alice|acq(mu1)|x",
		"bob|acq(mu1)|x",
		"alice|rel(mu1)|x",
		"alice|w(counter)|x",
	}
	for i, line := range lines {
		require.NoErrorf(t, r.Dispatch(f, i+1, line), "line %d", i+1)
	}

	assert.Equal(t, []string{
		"acquire:1:1:1",
		"acquire:2:2:1",
		"release:1:3:1",
		"write:1:4:2",
	}, d.calls)
}

func TestSpeedyGoRemapsWaitIntoFork(t *testing.T) {
	d := &recordingDetector{}
	f := frame.New(d)
	r := reader.New(reader.Options{SpeedyGo: true})

	lines := []string{
		"1,SIG,99",
		"2,WT,99",
	}
	for i, line := range lines {
		require.NoErrorf(t, r.Dispatch(f, i+1, line), "line %d", i+1)
	}

	// SIG produces no event of its own; WT on the same barrier id
	// synthesizes a fork from the signaler (thread 1) to the waiter
	// (thread 2), at the WT's own trace position.
	assert.Equal(t, []string{"fork:1:2:2"}, d.calls)
}

func TestSpeedyGoWaitWithoutMatchingSignalIsANoOp(t *testing.T) {
	d := &recordingDetector{}
	f := frame.New(d)
	r := reader.New(reader.Options{SpeedyGo: true})

	require.NoError(t, r.Dispatch(f, 1, "2,WT,99"))
	assert.Empty(t, d.calls)
}
