// Package undead implements the UNDEAD deadlock detector: an offline
// lock-graph cycle search over per-thread lock-acquisition dependencies,
// independent of PWR's vector clocks.
//
// Grounded on original_source/undead.hpp's declared dfs/isChain/isCycleChain
// shape and original_source/pwrundeaddetector.cpp's DFS implementation (the
// VC-free subset of it): the permutation-based original_source/undead.cpp is
// the predecessor the header's DFS approach replaced, kept here only as
// corroboration of LD-1/LD-2/LD-3's semantics, not as the algorithm shape.
package undead

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/types"
)

// lockContext is one entry of a thread's `dependencies` map: the lockset
// held at acquire time, and every lock subsequently acquired under that
// context.
type lockContext struct {
	lockset []types.ResourceName
	locks   map[types.ResourceName]bool
}

type threadState struct {
	lockset      []types.ResourceName
	dependencies map[string]*lockContext
}

// lockDependency is the triple (thread_id, lock, held_set) that forms
// one link of a candidate deadlock chain.
type lockDependency struct {
	Thread  types.ThreadID
	Lock    types.ResourceName
	Lockset []types.ResourceName
}

// Detector is the UNDEAD deadlock detector. Zero value is not usable;
// construct with New.
type Detector struct {
	frame   *frame.Frame
	threads map[types.ThreadID]*threadState
}

// New constructs an UNDEAD detector.
func New() *Detector {
	return &Detector{threads: make(map[types.ThreadID]*threadState)}
}

// Register implements frame.Registrar. UNDEAD's only report path is the
// offline find_cycles pass, but it still needs the back-pointer to call
// ReportRace from there.
func (d *Detector) Register(f *frame.Frame) {
	d.frame = f
}

func (d *Detector) getThread(id types.ThreadID) *threadState {
	if th, ok := d.threads[id]; ok {
		return th
	}
	th := &threadState{dependencies: make(map[string]*lockContext)}
	d.threads[id] = th
	return th
}

// Read, Write, Fork, Join, Notify, and Wait are no-ops — UNDEAD only
// observes the locking discipline, not memory accesses or thread/condition
// synchronization.
func (d *Detector) Read(types.ThreadID, types.TracePosition, types.ResourceName) error  { return nil }
func (d *Detector) Write(types.ThreadID, types.TracePosition, types.ResourceName) error { return nil }
func (d *Detector) Fork(types.ThreadID, types.TracePosition, types.ThreadID) error      { return nil }
func (d *Detector) Join(types.ThreadID, types.TracePosition, types.ThreadID) error      { return nil }
func (d *Detector) Notify(types.ThreadID, types.TracePosition, types.ResourceName) error {
	return nil
}
func (d *Detector) Wait(types.ThreadID, types.TracePosition, types.ResourceName) error {
	return nil
}

// Acquire looks up or creates thread.dependencies[thread.lockset] and
// inserts l. Idempotent — re-acquiring an already-held lock under the same
// context adds nothing new to the dependency set, and the lockset insert
// below is skipped when l is already held.
func (d *Detector) Acquire(thread types.ThreadID, pos types.TracePosition, l types.ResourceName) error {
	th := d.getThread(thread)

	key := locksetKey(th.lockset)
	ctx, ok := th.dependencies[key]
	if !ok {
		ctx = &lockContext{lockset: cloneLockset(th.lockset), locks: make(map[types.ResourceName]bool)}
		th.dependencies[key] = ctx
	}
	ctx.locks[l] = true

	if !containsLock(th.lockset, l) {
		th.lockset = append(th.lockset, l)
	}
	return nil
}

// Release removes l from the held lockset.
func (d *Detector) Release(thread types.ThreadID, pos types.TracePosition, l types.ResourceName) error {
	th := d.getThread(thread)
	removeLock(&th.lockset, l)
	return nil
}

// isChain tests LD-1 and LD-2 of a candidate dependency against the chain
// built so far: no lock reused across the chain, every pairwise lockset
// disjoint (LD-1), and the lock of the chain's current tail appears in the
// candidate's held-set (LD-2).
func (d *Detector) isChain(stack []lockDependency, dep lockDependency) bool {
	for _, cd := range stack {
		if cd.Lock == dep.Lock {
			return false
		}
		if !disjoint(cd.Lockset, dep.Lockset) {
			return false
		}
	}
	last := stack[len(stack)-1]
	return containsLock(dep.Lockset, last.Lock)
}

// isCycleChain tests LD-3: the candidate's lock closes the cycle back to
// the chain's starting held-set.
func (d *Detector) isCycleChain(stack []lockDependency, dep lockDependency) bool {
	first := stack[0]
	return containsLock(first.Lockset, dep.Lock)
}

func (d *Detector) reportDeadlock(lock types.ResourceName, t0, tn types.ThreadID) {
	if d.frame != nil {
		d.frame.ReportRace(types.DataRace{Resource: lock, Position: 0, Thread1: t0, Thread2: tn})
	}
}

// dfs extends the chain stack by any dependency on a higher-numbered,
// not-yet-traversed thread that preserves LD-1/LD-2; closing a chain (LD-3)
// reports a deadlock instead of recursing further.
func (d *Detector) dfs(stack *[]lockDependency, visitingThreadID types.ThreadID, isTraversed map[types.ThreadID]bool, threadIDs []types.ThreadID) {
	for _, tid := range threadIDs {
		if tid <= visitingThreadID || isTraversed[tid] {
			continue
		}
		th := d.threads[tid]
		if th == nil || len(th.dependencies) == 0 {
			continue
		}

		for _, ctx := range th.dependencies {
			for lock := range ctx.locks {
				dep := lockDependency{Thread: tid, Lock: lock, Lockset: ctx.lockset}
				if !d.isChain(*stack, dep) {
					continue
				}
				if d.isCycleChain(*stack, dep) {
					first := (*stack)[0]
					d.reportDeadlock(dep.Lock, first.Thread, dep.Thread)
					continue
				}
				isTraversed[tid] = true
				*stack = append(*stack, dep)
				d.dfs(stack, visitingThreadID, isTraversed, threadIDs)
				*stack = (*stack)[:len(*stack)-1]
				isTraversed[tid] = false
			}
		}
	}
}

// findCycles is the entry point of the offline phase: for every starting
// dependency, on every thread in ascending order, launch a DFS.
func (d *Detector) findCycles() {
	threadIDs := make([]types.ThreadID, 0, len(d.threads))
	isTraversed := make(map[types.ThreadID]bool, len(d.threads))
	for tid := range d.threads {
		threadIDs = append(threadIDs, tid)
		isTraversed[tid] = false
	}
	sort.Slice(threadIDs, func(i, j int) bool { return threadIDs[i] < threadIDs[j] })

	for _, tid := range threadIDs {
		th := d.threads[tid]
		if len(th.dependencies) == 0 {
			continue
		}
		for _, ctx := range th.dependencies {
			for lock := range ctx.locks {
				dep := lockDependency{Thread: tid, Lock: lock, Lockset: ctx.lockset}
				stack := []lockDependency{dep}
				isTraversed[tid] = true
				d.dfs(&stack, tid, isTraversed, threadIDs)
				isTraversed[tid] = false
			}
		}
	}
}

// GetRaces implements frame.Detector: drives the offline cycle search.
func (d *Detector) GetRaces() error {
	d.findCycles()
	return nil
}

// Statistics implements frame.StatisticsReporter.
func (d *Detector) Statistics() map[string]string {
	deps := 0
	for _, th := range d.threads {
		for _, ctx := range th.dependencies {
			deps += len(ctx.locks)
		}
	}
	return map[string]string{
		"undead.threads":      itoa(len(d.threads)),
		"undead.dependencies": itoa(deps),
	}
}

func locksetKey(ls []types.ResourceName) string {
	if len(ls) == 0 {
		return ""
	}
	sorted := make([]int64, len(ls))
	for i, l := range ls {
		sorted[i] = int64(l)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

func cloneLockset(ls []types.ResourceName) []types.ResourceName {
	out := make([]types.ResourceName, len(ls))
	copy(out, ls)
	return out
}

func containsLock(ls []types.ResourceName, l types.ResourceName) bool {
	for _, x := range ls {
		if x == l {
			return true
		}
	}
	return false
}

func removeLock(ls *[]types.ResourceName, l types.ResourceName) {
	s := *ls
	for i, x := range s {
		if x == l {
			*ls = append(s[:i], s[i+1:]...)
			return
		}
	}
}

func disjoint(a, b []types.ResourceName) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return false
			}
		}
	}
	return true
}

func itoa(n int) string {
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
