// Package vectorclock implements the thread-sparse vector clock shared by
// every detector: a mapping ThreadID -> non-negative integer, missing keys
// implicitly zero.
//
// This is deliberately a map, not a fixed-size array. The trace's ThreadIDs
// are opaque integers assigned upstream with no guaranteed dense range or
// upper bound, so a live-detector-style `[N]uint32` array (sized for a
// bounded number of concurrently live goroutines) does not fit: a batch
// trace can reuse or skip IDs however the instrumentation that produced it
// saw fit.
package vectorclock

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kolkov/lockframe/internal/epoch"
	"github.com/kolkov/lockframe/internal/types"
)

// VectorClock summarizes one thread's observed happens-before frontier.
type VectorClock struct {
	clocks map[types.ThreadID]int64
}

// New returns an empty vector clock; every Get returns 0 until Set or
// Increment is called.
func New() *VectorClock {
	return &VectorClock{clocks: make(map[types.ThreadID]int64)}
}

// Clone returns a deep copy, safe to mutate independently of vc.
func (vc *VectorClock) Clone() *VectorClock {
	clone := make(map[types.ThreadID]int64, len(vc.clocks))
	for t, v := range vc.clocks {
		clone[t] = v
	}
	return &VectorClock{clocks: clone}
}

// Get returns the value at t, or 0 if t is absent.
func (vc *VectorClock) Get(t types.ThreadID) int64 {
	return vc.clocks[t]
}

// Set assigns the value at t. v must be >= 0.
func (vc *VectorClock) Set(t types.ThreadID, v int64) {
	vc.clocks[t] = v
}

// Increment raises t's component by exactly 1; an absent key becomes 1.
//
//go:nosplit
func (vc *VectorClock) Increment(t types.ThreadID) {
	vc.clocks[t] = vc.clocks[t] + 1
}

// MergeInto performs a pointwise maximum of other into vc, in place, over
// the union of both clocks' keys. This is the hot synchronization path
// (lock acquire/release, fork/join, notify/wait) and must not allocate a
// fresh clock.
func (vc *VectorClock) MergeInto(other *VectorClock) {
	if other == nil {
		return
	}
	for t, v := range other.clocks {
		if v > vc.clocks[t] {
			vc.clocks[t] = v
		}
	}
}

// Merge returns a fresh vector clock holding the pointwise maximum of vc
// and other; neither input is modified.
func (vc *VectorClock) Merge(other *VectorClock) *VectorClock {
	out := vc.Clone()
	out.MergeInto(other)
	return out
}

// LessThan reports strict happens-before: vc <= other pointwise, and
// vc != other. Implementations must handle the asymmetric case where one
// clock has a thread entry the other omits (an omitted entry is 0).
func (vc *VectorClock) LessThan(other *VectorClock) bool {
	if other == nil {
		return false
	}
	strict := false
	for t, v := range vc.clocks {
		ov := other.clocks[t]
		if v > ov {
			return false
		}
		if v < ov {
			strict = true
		}
	}
	for t, ov := range other.clocks {
		if _, ok := vc.clocks[t]; ok {
			continue
		}
		if ov > 0 {
			strict = true
		}
	}
	return strict
}

// Incomparable reports that neither vc <= other nor other <= vc holds
// strictly — the LD-4 test used by the integrated PWR+UNDEAD detector.
func (vc *VectorClock) Incomparable(other *VectorClock) bool {
	return !vc.LessThan(other) && !other.LessThan(vc)
}

// FindAll enumerates the present (thread, value) pairs. Order is
// unspecified; callers that need determinism must sort.
func (vc *VectorClock) FindAll() []epoch.Epoch {
	out := make([]epoch.Epoch, 0, len(vc.clocks))
	for t, v := range vc.clocks {
		out = append(out, epoch.Epoch{Thread: t, Value: v})
	}
	return out
}

// String renders the non-zero entries as "{t1:v1, t2:v2, ...}", sorted by
// thread id for deterministic output in diagnostics and tests.
func (vc *VectorClock) String() string {
	all := vc.FindAll()
	if len(all) == 0 {
		return "{}"
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Thread < all[j].Thread })
	parts := make([]string, 0, len(all))
	for _, e := range all {
		if e.Value == 0 {
			continue
		}
		parts = append(parts, strconv.FormatInt(int64(e.Thread), 10)+":"+strconv.FormatInt(e.Value, 10))
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
