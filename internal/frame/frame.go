// Package frame implements the stateless event dispatcher: it owns the
// race/deadlock report buffer, forwards each trace event to a single
// registered Detector, and drives the detector's deferred (offline)
// analysis at end-of-stream.
//
// Frame deliberately holds its state on struct fields, not package
// globals — the shown variant of the original C++ source used a
// file-scope `Detector*` and `std::vector<DataRace>`, which the design
// notes flag as a defect to avoid, not a pattern to imitate.
package frame

import (
	"fmt"

	"github.com/kolkov/lockframe/internal/types"
)

// Detector is the capability set a pluggable analysis backend implements.
// The frame invokes it through this interface alone — there is no deeper
// inheritance hierarchy.
type Detector interface {
	Read(thread types.ThreadID, pos types.TracePosition, resource types.ResourceName) error
	Write(thread types.ThreadID, pos types.TracePosition, resource types.ResourceName) error
	Acquire(thread types.ThreadID, pos types.TracePosition, lock types.ResourceName) error
	Release(thread types.ThreadID, pos types.TracePosition, lock types.ResourceName) error
	Fork(thread types.ThreadID, pos types.TracePosition, child types.ThreadID) error
	Join(thread types.ThreadID, pos types.TracePosition, child types.ThreadID) error
	Notify(thread types.ThreadID, pos types.TracePosition, cond types.ResourceName) error
	Wait(thread types.ThreadID, pos types.TracePosition, cond types.ResourceName) error

	// GetRaces runs any deferred/offline analysis (e.g. UNDEAD's
	// end-of-stream cycle search) and reports findings via ReportRace
	// before returning. Called exactly once, by Frame.Findings.
	GetRaces() error
}

// Registrar is an optional capability: a detector that calls ReportRace,
// whether mid-stream (PWR, when a read or write races) or from GetRaces
// (UNDEAD's offline cycle search), implements this so Frame.New can hand
// it a back-pointer to the frame at registration time. A detector that
// does not implement it cannot report findings.
type Registrar interface {
	Register(f *Frame)
}

// StatisticsReporter is an optional capability: a detector that wants to
// expose counters (dependency counts, phase timings, and the like, per
// the original's COLLECT_STATISTICS hook) implements this in addition to
// Detector.
type StatisticsReporter interface {
	Statistics() map[string]string
}

// InvariantError reports an internal invariant violation: a defect in the
// traced program's event stream relative to what the detector's own state
// expects (e.g. releasing a lock with no matching acquire). It is not
// recoverable; callers should stop processing and surface Position in
// their diagnostic.
type InvariantError struct {
	Position types.TracePosition
	Message  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("trace position %d: %s", e.Position, e.Message)
}

// Frame dispatches trace events to a single registered Detector and
// accumulates the findings it reports.
type Frame struct {
	detector Detector
	findings []types.DataRace
}

// New returns a Frame dispatching to detector. If detector implements
// Registrar, New calls its Register method with the new frame, which gives
// the detector its back-pointer for calling ReportRace.
func New(detector Detector) *Frame {
	f := &Frame{detector: detector}
	if r, ok := detector.(Registrar); ok {
		r.Register(f)
	}
	return f
}

// ReportRace appends a finding to the buffer. Detectors call this
// mid-stream (PWR, when a read or write races) or from within GetRaces (UNDEAD's
// offline cycle search).
func (f *Frame) ReportRace(r types.DataRace) {
	f.findings = append(f.findings, r)
}

// Read forwards a read event to the detector.
func (f *Frame) Read(thread types.ThreadID, pos types.TracePosition, resource types.ResourceName) error {
	return f.detector.Read(thread, pos, resource)
}

// Write forwards a write event to the detector.
func (f *Frame) Write(thread types.ThreadID, pos types.TracePosition, resource types.ResourceName) error {
	return f.detector.Write(thread, pos, resource)
}

// Acquire forwards a lock-acquire event to the detector.
func (f *Frame) Acquire(thread types.ThreadID, pos types.TracePosition, lock types.ResourceName) error {
	return f.detector.Acquire(thread, pos, lock)
}

// Release forwards a lock-release event to the detector.
func (f *Frame) Release(thread types.ThreadID, pos types.TracePosition, lock types.ResourceName) error {
	return f.detector.Release(thread, pos, lock)
}

// Fork forwards a fork event to the detector.
func (f *Frame) Fork(thread types.ThreadID, pos types.TracePosition, child types.ThreadID) error {
	return f.detector.Fork(thread, pos, child)
}

// Join forwards a join event to the detector.
func (f *Frame) Join(thread types.ThreadID, pos types.TracePosition, child types.ThreadID) error {
	return f.detector.Join(thread, pos, child)
}

// Notify forwards a condition-notify event to the detector.
func (f *Frame) Notify(thread types.ThreadID, pos types.TracePosition, cond types.ResourceName) error {
	return f.detector.Notify(thread, pos, cond)
}

// Wait forwards a condition-wait event to the detector.
func (f *Frame) Wait(thread types.ThreadID, pos types.TracePosition, cond types.ResourceName) error {
	return f.detector.Wait(thread, pos, cond)
}

// Findings drives the detector's deferred analysis (GetRaces) and
// returns a snapshot of the accumulated findings. Safe to call at most
// once per detector lifetime; UNDEAD-style offline phases are not
// idempotent (re-running the cycle search would re-append duplicates).
func (f *Frame) Findings() ([]types.DataRace, error) {
	if err := f.detector.GetRaces(); err != nil {
		return nil, err
	}
	out := make([]types.DataRace, len(f.findings))
	copy(out, f.findings)
	return out, nil
}

// Statistics returns the detector's optional statistics, or nil if it
// does not implement StatisticsReporter.
func (f *Frame) Statistics() map[string]string {
	if r, ok := f.detector.(StatisticsReporter); ok {
		return r.Statistics()
	}
	return nil
}
