// Package pwrundead implements the integrated PWR+UNDEAD detector:
// UNDEAD's lock-cycle search enriched with PWR vector clocks, using mutual
// VC incomparability (LD-4) to discard cycles whose edges are actually
// happens-before ordered.
//
// Grounded on original_source/pwrundeaddetector.cpp, which inlines the PWR
// online phase rather than delegating to a shared module — the duplication
// here mirrors that rather than factoring it away.
package pwrundead

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kolkov/lockframe/internal/epoch"
	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/types"
	"github.com/kolkov/lockframe/internal/vectorclock"
)

// Options tunes bounded-memory knobs and the optional C6 extra-edges
// refinement.
type Options struct {
	// History bounds the PWR per-lock history deque length (H, default 5).
	History int

	// VectorClocksPerDependency bounds the per-(held-set,lock) VC deque
	// length (V, default 5).
	VectorClocksPerDependency int

	// RemoveSyncEqual mirrors pwr.Options.RemoveSyncEqual (see
	// DESIGN.md Open Question decisions).
	RemoveSyncEqual bool

	// ExtraEdges enables the extra-edges variant: synthesize dependency
	// edges from historical lock releases that happens-before
	// synchronized with the current thread, on locks other than the one
	// being released, catching deadlocks mediated by such a lock.
	ExtraEdges bool
}

// DefaultOptions returns H=5, V=5, both optional refinements disabled.
func DefaultOptions() Options {
	return Options{History: 5, VectorClocksPerDependency: 5}
}

type historyRecord struct {
	Acquire epoch.Epoch
	Release *vectorclock.VectorClock
}

type rwEvent struct {
	Epoch   epoch.Epoch
	Lockset []types.ResourceName
	IsWrite bool
}

// lockContext is one entry of a thread's collected-vector-clocks map: the
// lockset held at acquire time, and for each lock acquired under it, the
// bounded deque of VCs captured at each such acquire.
type lockContext struct {
	lockset []types.ResourceName
	locks   map[types.ResourceName][]*vectorclock.VectorClock
}

type threadState struct {
	lockset        []types.ResourceName
	vc             *vectorclock.VectorClock
	history        map[types.ResourceName][]*historyRecord
	lastReadMerges map[types.ResourceName]types.TracePosition
	lastWriteAt    types.TracePosition
	lockAcquiredAt map[types.ResourceName]types.TracePosition
	dependencies   map[string]*lockContext
}

type resourceState struct {
	rwEvents []rwEvent

	hasLastAcquire bool
	lastAcquire    epoch.Epoch

	hasLastWrite    bool
	lastWriteVC     *vectorclock.VectorClock
	lastWriteThread types.ThreadID
	lastWriteLS     []types.ResourceName
	lastWriteAt     types.TracePosition
}

// lockDependency is the VC-carrying triple (thread_id, lock, held_set) that
// forms one link of a candidate deadlock chain, plus the specific captured
// VC under consideration.
type lockDependency struct {
	Thread  types.ThreadID
	Lock    types.ResourceName
	Lockset []types.ResourceName
	VC      *vectorclock.VectorClock
}

// Detector is the integrated PWR+UNDEAD detector. Zero value is not
// usable; construct with New.
type Detector struct {
	frame *frame.Frame
	opts  Options

	threads       map[types.ThreadID]*threadState
	resources     map[types.ResourceName]*resourceState
	notifies      map[types.ResourceName]*vectorclock.VectorClock
	globalHistory map[types.ResourceName][]*historyRecord

	racesReported  int
	deadlocksFound int
}

// New constructs a PWR+UNDEAD detector with the given options.
func New(opts Options) *Detector {
	if opts.History <= 0 {
		opts.History = 5
	}
	if opts.VectorClocksPerDependency <= 0 {
		opts.VectorClocksPerDependency = 5
	}
	return &Detector{
		opts:          opts,
		threads:       make(map[types.ThreadID]*threadState),
		resources:     make(map[types.ResourceName]*resourceState),
		notifies:      make(map[types.ResourceName]*vectorclock.VectorClock),
		globalHistory: make(map[types.ResourceName][]*historyRecord),
	}
}

// Register implements frame.Registrar.
func (d *Detector) Register(f *frame.Frame) {
	d.frame = f
}

func (d *Detector) getThread(id types.ThreadID) *threadState {
	if th, ok := d.threads[id]; ok {
		return th
	}
	th := &threadState{
		vc:             vectorclock.New(),
		history:        make(map[types.ResourceName][]*historyRecord),
		lastReadMerges: make(map[types.ResourceName]types.TracePosition),
		lockAcquiredAt: make(map[types.ResourceName]types.TracePosition),
		dependencies:   make(map[string]*lockContext),
	}
	th.vc.Set(id, 1)
	for l, recs := range d.globalHistory {
		cp := make([]*historyRecord, len(recs))
		copy(cp, recs)
		th.history[l] = cp
	}
	d.threads[id] = th
	return th
}

func (d *Detector) getResource(x types.ResourceName) *resourceState {
	if res, ok := d.resources[x]; ok {
		return res
	}
	res := &resourceState{}
	d.resources[x] = res
	return res
}

// pwrHistorySync drops or merges-and-drops history records of the held
// locks by exactly the same rule as pwr.Detector's pwrHistorySync.
func (d *Detector) pwrHistorySync(th *threadState) {
	for _, l := range th.lockset {
		recs := th.history[l]
		if len(recs) == 0 {
			continue
		}
		kept := make([]*historyRecord, 0, len(recs))
		for _, rec := range recs {
			j := rec.Acquire.Thread
			k := rec.Acquire.Value
			vj := th.vc.Get(j)
			vpj := rec.Release.Get(j)

			switch {
			case vpj <= vj:
			case d.opts.RemoveSyncEqual && k <= vj:
				th.vc.MergeInto(rec.Release)
			case !d.opts.RemoveSyncEqual && k < vj:
				th.vc.MergeInto(rec.Release)
			default:
				kept = append(kept, rec)
			}
		}
		th.history[l] = kept
	}
}

// addRaces is PWR's race-reporting rule (see DESIGN.md Open Question
// decisions for the is_write_j-gate fix this also carries).
func (d *Detector) addRaces(th *threadState, res *resourceState, x types.ResourceName, pos types.TracePosition, thread types.ThreadID, isCurrentWrite bool) {
	for _, rec := range res.rwEvents {
		j := rec.Epoch.Thread
		k := rec.Epoch.Value
		if k > th.vc.Get(j) && (isCurrentWrite || rec.IsWrite) && locksetsDisjoint(th.lockset, rec.Lockset) {
			d.reportRace(x, pos, thread, j)
		}
	}
}

func (d *Detector) updateReadWriteEvents(th *threadState, res *resourceState, thread types.ThreadID, isWrite bool) {
	kept := make([]rwEvent, 0, len(res.rwEvents)+1)
	for _, rec := range res.rwEvents {
		j := rec.Epoch.Thread
		k := rec.Epoch.Value
		keep := k > th.vc.Get(j) || (!isWrite && rec.IsWrite)
		if keep {
			kept = append(kept, rec)
		}
	}
	kept = append(kept, rwEvent{
		Epoch:   epoch.Epoch{Thread: thread, Value: th.vc.Get(thread)},
		Lockset: cloneLockset(th.lockset),
		IsWrite: isWrite,
	})
	res.rwEvents = kept
}

func (d *Detector) reportRace(x types.ResourceName, pos types.TracePosition, t1, t2 types.ThreadID) {
	d.racesReported++
	if d.frame != nil {
		d.frame.ReportRace(types.DataRace{Resource: x, Position: pos, Thread1: t1, Thread2: t2})
	}
}

func (d *Detector) reportDeadlock(lock types.ResourceName, t0, tn types.ThreadID) {
	d.deadlocksFound++
	if d.frame != nil {
		d.frame.ReportRace(types.DataRace{Resource: lock, Position: 0, Thread1: t0, Thread2: tn})
	}
}

func (d *Detector) pushHistory(th *threadState, l types.ResourceName, rec *historyRecord) {
	deque := make([]*historyRecord, 0, len(th.history[l])+1)
	deque = append(deque, rec)
	deque = append(deque, th.history[l]...)
	if len(deque) > d.opts.History {
		deque = deque[:d.opts.History]
	}
	th.history[l] = deque
}

func (d *Detector) pushGlobalHistory(l types.ResourceName, rec *historyRecord) {
	deque := make([]*historyRecord, 0, len(d.globalHistory[l])+1)
	deque = append(deque, rec)
	deque = append(deque, d.globalHistory[l]...)
	if len(deque) > d.opts.History {
		deque = deque[:d.opts.History]
	}
	d.globalHistory[l] = deque
}

// insertVectorClockIntoThread captures the current PWR VC and inserts it
// into th.dependencies[held_set].locks[l] as a bounded deque of capacity V,
// oldest evicted on overflow — called before l is added to the held set.
func (d *Detector) insertVectorClockIntoThread(th *threadState, ls []types.ResourceName, l types.ResourceName) {
	key := locksetKey(ls)
	ctx, ok := th.dependencies[key]
	if !ok {
		ctx = &lockContext{lockset: cloneLockset(ls), locks: make(map[types.ResourceName][]*vectorclock.VectorClock)}
		th.dependencies[key] = ctx
	}
	deque := append(ctx.locks[l], th.vc.Clone())
	if len(deque) > d.opts.VectorClocksPerDependency {
		deque = deque[len(deque)-d.opts.VectorClocksPerDependency:]
	}
	ctx.locks[l] = deque
}

// extraEdges implements the optional extra-edges variant, disabled by
// default. For every historical record this thread can now prove happened
// before it (rel_vc.less_than(th.vc)) under a lock it is not about to release,
// synthesize a dependency from every suffix of the current held set (minus
// that lock) to the historical lock, carrying the thread's current VC —
// the synchronization could have occurred under any of those narrower
// contexts.
func (d *Detector) extraEdges(th *threadState, releasing types.ResourceName) {
	if !d.opts.ExtraEdges {
		return
	}
	for l, recs := range th.history {
		if l == releasing {
			continue
		}
		for _, rec := range recs {
			if !rec.Release.LessThan(th.vc) {
				continue
			}
			held := make([]types.ResourceName, 0, len(th.lockset))
			for _, x := range th.lockset {
				if x != l {
					held = append(held, x)
				}
			}
			for i := 0; i < len(held); i++ {
				d.insertVectorClockIntoThread(th, held[i:], l)
			}
			break
		}
	}
}

// Read implements frame.Detector; identical to pwr.Detector.Read.
func (d *Detector) Read(thread types.ThreadID, pos types.TracePosition, x types.ResourceName) error {
	th := d.getThread(thread)
	res := d.getResource(x)

	if res.hasLastWrite && th.lastReadMerges[x] != res.lastWriteAt {
		if res.lastWriteVC.Get(res.lastWriteThread) > th.vc.Get(res.lastWriteThread) &&
			locksetsDisjoint(res.lastWriteLS, th.lockset) {
			d.reportRace(x, pos, thread, res.lastWriteThread)
		}
		th.vc.MergeInto(res.lastWriteVC)
		d.pwrHistorySync(th)
		th.lastReadMerges[x] = res.lastWriteAt
	}

	d.addRaces(th, res, x, pos, thread, false)
	d.updateReadWriteEvents(th, res, thread, false)
	th.vc.Increment(thread)
	return nil
}

// Write implements frame.Detector; identical to pwr.Detector.Write.
func (d *Detector) Write(thread types.ThreadID, pos types.TracePosition, x types.ResourceName) error {
	th := d.getThread(thread)
	res := d.getResource(x)

	d.pwrHistorySync(th)
	d.addRaces(th, res, x, pos, thread, true)
	d.updateReadWriteEvents(th, res, thread, true)

	res.hasLastWrite = true
	res.lastWriteVC = th.vc.Clone()
	res.lastWriteThread = thread
	res.lastWriteLS = cloneLockset(th.lockset)
	res.lastWriteAt = pos
	th.lastWriteAt = pos

	th.vc.Increment(thread)
	return nil
}

// Acquire implements frame.Detector: history-sync, then capture the VC
// dependency, then add l to the held set.
func (d *Detector) Acquire(thread types.ThreadID, pos types.TracePosition, l types.ResourceName) error {
	th := d.getThread(thread)
	d.pwrHistorySync(th)

	d.insertVectorClockIntoThread(th, th.lockset, l)

	if !containsLock(th.lockset, l) {
		th.lockset = append(th.lockset, l)
	}

	res := d.getResource(l)
	res.hasLastAcquire = true
	res.lastAcquire = epoch.Epoch{Thread: thread, Value: th.vc.Get(thread)}
	th.lockAcquiredAt[l] = pos

	th.vc.Increment(thread)
	return nil
}

// Release implements frame.Detector: forwards to PWR's release mechanics,
// then removes l from the held set.
func (d *Detector) Release(thread types.ThreadID, pos types.TracePosition, l types.ResourceName) error {
	th := d.getThread(thread)
	d.pwrHistorySync(th)

	d.extraEdges(th, l)
	removeLock(&th.lockset, l)

	acquiredAt, hasAcquire := th.lockAcquiredAt[l]
	if !hasAcquire {
		return &frame.InvariantError{Position: pos, Message: "release of lock never acquired by this thread"}
	}

	if acquiredAt < th.lastWriteAt {
		res := d.getResource(l)
		rec := &historyRecord{Acquire: res.lastAcquire, Release: th.vc.Clone()}
		for id, other := range d.threads {
			if id == thread {
				continue
			}
			d.pushHistory(other, l, rec)
		}
		d.pushGlobalHistory(l, rec)
	}

	delete(th.lockAcquiredAt, l)
	th.vc.Increment(thread)
	return nil
}

// Fork implements frame.Detector; identical to pwr.Detector.Fork.
func (d *Detector) Fork(thread types.ThreadID, pos types.TracePosition, child types.ThreadID) error {
	th := d.getThread(thread)
	childTh := d.getThread(child)

	childTh.vc = th.vc.Clone()
	childTh.vc.Increment(child)
	th.vc.Increment(thread)
	return nil
}

// Join implements frame.Detector; identical to pwr.Detector.Join.
func (d *Detector) Join(thread types.ThreadID, pos types.TracePosition, child types.ThreadID) error {
	th := d.getThread(thread)
	childTh := d.getThread(child)

	th.vc.MergeInto(childTh.vc)
	th.vc.Increment(thread)
	return nil
}

// Notify implements frame.Detector; identical to pwr.Detector.Notify.
func (d *Detector) Notify(thread types.ThreadID, pos types.TracePosition, cond types.ResourceName) error {
	th := d.getThread(thread)
	nvc, ok := d.notifies[cond]
	if !ok {
		nvc = vectorclock.New()
		d.notifies[cond] = nvc
	}
	nvc.MergeInto(th.vc)
	th.vc.MergeInto(nvc)
	th.vc.Increment(thread)
	return nil
}

// Wait implements frame.Detector; identical to pwr.Detector.Wait.
func (d *Detector) Wait(thread types.ThreadID, pos types.TracePosition, cond types.ResourceName) error {
	nvc, ok := d.notifies[cond]
	if !ok {
		return nil
	}
	th := d.getThread(thread)
	th.vc.MergeInto(nvc)
	th.vc.Increment(thread)
	d.notifies[cond] = th.vc.Clone()
	return nil
}

// isChain tests LD-1/LD-2 exactly as undead.Detector.isChain.
func (d *Detector) isChain(stack []lockDependency, dep lockDependency) bool {
	for _, cd := range stack {
		if cd.Lock == dep.Lock {
			return false
		}
		if !locksetsDisjoint(cd.Lockset, dep.Lockset) {
			return false
		}
	}
	last := stack[len(stack)-1]
	return containsLock(dep.Lockset, last.Lock)
}

// isCycleChain tests LD-3.
func (d *Detector) isCycleChain(stack []lockDependency, dep lockDependency) bool {
	first := stack[0]
	return containsLock(first.Lockset, dep.Lock)
}

// isChainVC tests LD-4: dep's VC must be mutually incomparable with every
// VC already on the chain.
func (d *Detector) isChainVC(stack []lockDependency, dep lockDependency) bool {
	for _, cd := range stack {
		if cd.VC.LessThan(dep.VC) || dep.VC.LessThan(cd.VC) {
			return false
		}
	}
	return true
}

// dfs mirrors undead.Detector.dfs but iterates the cartesian product over
// each candidate's captured VCs, checking LD-1/2/3 once (VC-independent)
// and LD-4 per VC.
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
			for lock, vcs := range ctx.locks {
				isFirst := true
				isCycle := false
				for _, vc := range vcs {
					dep := lockDependency{Thread: tid, Lock: lock, Lockset: ctx.lockset, VC: vc}
					if isFirst {
						if !d.isChain(*stack, dep) {
							break
						}
						isCycle = d.isCycleChain(*stack, dep)
						isFirst = false
					}
					if !d.isChainVC(*stack, dep) {
						continue
					}
					if isCycle {
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
}

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
			for lock, vcs := range ctx.locks {
				for _, vc := range vcs {
					dep := lockDependency{Thread: tid, Lock: lock, Lockset: ctx.lockset, VC: vc}
					stack := []lockDependency{dep}
					isTraversed[tid] = true
					d.dfs(&stack, tid, isTraversed, threadIDs)
					isTraversed[tid] = false
				}
			}
		}
	}
}

// GetRaces implements frame.Detector: drives the LD-4-filtered cycle
// search. Mid-stream race reports from Read/Write were already appended.
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
		"pwrundead.threads":        itoa(len(d.threads)),
		"pwrundead.resources":      itoa(len(d.resources)),
		"pwrundead.races_reported": itoa(d.racesReported),
		"pwrundead.dependencies":   itoa(deps),
		"pwrundead.deadlocks":      itoa(d.deadlocksFound),
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

func locksetsDisjoint(a, b []types.ResourceName) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return false
			}
		}
	}
	return true
}

func cloneLockset(ls []types.ResourceName) []types.ResourceName {
	out := make([]types.ResourceName, len(ls))
	copy(out, ls)
	return out
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
