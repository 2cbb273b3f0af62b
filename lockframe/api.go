package lockframe

import (
	"github.com/kolkov/lockframe/internal/detector/pwr"
	"github.com/kolkov/lockframe/internal/detector/pwrundead"
	"github.com/kolkov/lockframe/internal/detector/undead"
	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/types"
)

// Re-exported primitive identifiers, so callers need not import
// internal/types directly to call Analyzer's methods.
type (
	ThreadID      = types.ThreadID
	ResourceName  = types.ResourceName
	TracePosition = types.TracePosition
	DataRace      = types.DataRace
)

// InvariantError is returned by an event method when the traced program's
// event stream violates an internal invariant the detector relies on (for
// example, releasing a lock with no matching prior acquire on that
// thread). See frame.InvariantError.
type InvariantError = frame.InvariantError

// Options mirrors pwr.Options/pwrundead.Options' bounded-memory knobs.
// Fields not meaningful to a given detector (VectorClocks for PWR/UNDEAD)
// are ignored.
type Options struct {
	// History bounds the per-lock history deque length (H).
	History int
	// VectorClocks bounds the PWR+UNDEAD per-dependency vector-clock deque
	// length (V). Ignored by PWR and UNDEAD.
	VectorClocks int
	// ExtraEdges enables PWR+UNDEAD's optional C6 extra-edges refinement.
	// Ignored by PWR and UNDEAD.
	ExtraEdges bool
}

// DefaultOptions returns H=5, V=5, ExtraEdges disabled.
func DefaultOptions() Options {
	return Options{History: 5, VectorClocks: 5}
}

// Analyzer feeds trace events to a single detector backend and retrieves
// its findings. It is not safe for concurrent use by multiple goroutines —
// the analyzer core is single-threaded cooperative by design.
type Analyzer struct {
	frame *frame.Frame
}

// NewPWR returns an Analyzer backed by the PWR data-race detector.
func NewPWR(opts Options) *Analyzer {
	return &Analyzer{frame: frame.New(pwr.New(pwr.Options{
		History:         orDefault(opts.History, 5),
		RemoveSyncEqual: false,
	}))}
}

// NewUNDEAD returns an Analyzer backed by the UNDEAD deadlock detector.
func NewUNDEAD() *Analyzer {
	return &Analyzer{frame: frame.New(undead.New())}
}

// NewPWRUNDEAD returns an Analyzer backed by the integrated PWR+UNDEAD
// detector, reporting both races and deadlocks from one event stream.
func NewPWRUNDEAD(opts Options) *Analyzer {
	return &Analyzer{frame: frame.New(pwrundead.New(pwrundead.Options{
		History:                   orDefault(opts.History, 5),
		VectorClocksPerDependency: orDefault(opts.VectorClocks, 5),
		ExtraEdges:                opts.ExtraEdges,
	}))}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Read records a memory read at resource by thread, at trace position pos.
func (a *Analyzer) Read(thread ThreadID, pos TracePosition, resource ResourceName) error {
	return a.frame.Read(thread, pos, resource)
}

// Write records a memory write at resource by thread, at trace position pos.
func (a *Analyzer) Write(thread ThreadID, pos TracePosition, resource ResourceName) error {
	return a.frame.Write(thread, pos, resource)
}

// Acquire records thread acquiring lock at trace position pos.
func (a *Analyzer) Acquire(thread ThreadID, pos TracePosition, lock ResourceName) error {
	return a.frame.Acquire(thread, pos, lock)
}

// Release records thread releasing lock at trace position pos. Returns an
// *InvariantError if thread has no matching prior acquire of lock.
func (a *Analyzer) Release(thread ThreadID, pos TracePosition, lock ResourceName) error {
	return a.frame.Release(thread, pos, lock)
}

// Fork records thread forking child at trace position pos.
func (a *Analyzer) Fork(thread ThreadID, pos TracePosition, child ThreadID) error {
	return a.frame.Fork(thread, pos, child)
}

// Join records thread joining the completion of child at trace position pos.
func (a *Analyzer) Join(thread ThreadID, pos TracePosition, child ThreadID) error {
	return a.frame.Join(thread, pos, child)
}

// Notify records thread signaling condition variable cond at trace position pos.
func (a *Analyzer) Notify(thread ThreadID, pos TracePosition, cond ResourceName) error {
	return a.frame.Notify(thread, pos, cond)
}

// Wait records thread waking from a wait on condition variable cond at
// trace position pos.
func (a *Analyzer) Wait(thread ThreadID, pos TracePosition, cond ResourceName) error {
	return a.frame.Wait(thread, pos, cond)
}

// Findings runs any deferred (offline) analysis and returns the
// accumulated race/deadlock reports. Call this exactly once, after the
// last event — UNDEAD-family offline cycle searches are not idempotent.
func (a *Analyzer) Findings() ([]DataRace, error) {
	return a.frame.Findings()
}

// Statistics returns the backing detector's internal counters (dependency
// counts, races reported, and the like), or nil if it exposes none.
func (a *Analyzer) Statistics() map[string]string {
	return a.frame.Statistics()
}
