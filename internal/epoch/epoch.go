// Package epoch implements the minimal timestamp unit used throughout the
// analyzer: a thread tagged with a local step count at some moment.
//
// Unlike a live race detector's epoch (commonly packed into a single word
// for a cache-friendly fast path), an offline analyzer over a recorded trace
// has no hot per-access allocation budget to protect, and ThreadIDs are
// opaque trace-assigned integers with no guaranteed upper bound — so this
// Epoch is a plain pair, not a bit-packed scalar.
package epoch

import "github.com/kolkov/lockframe/internal/types"

// Epoch marks thread Thread's local step count at a moment: "thread's
// clock was Value when this record was made."
type Epoch struct {
	Thread types.ThreadID
	Value  int64
}

// LessThan reports whether e happened strictly before other: same thread,
// and e's value is strictly smaller. Epochs on different threads are
// incomparable by this relation; happens-before between threads is a
// vector-clock question, not an epoch one.
func (e Epoch) LessThan(other Epoch) bool {
	return e.Thread == other.Thread && e.Value < other.Value
}
