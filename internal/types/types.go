// Package types holds the primitive identifiers shared by every layer of the
// analyzer: vector clocks, epochs, the frame dispatcher and the detectors.
// Keeping them here (rather than on the packages that happen to use them
// first) avoids an import cycle between vectorclock and frame.
package types

// ThreadID identifies a thread in the traced program. The trace assigns
// these; the analyzer never allocates one itself except on fork (C3 §4.3.5).
type ThreadID int64

// ResourceName identifies a memory location or a lock. The trace uses a
// single namespace for both; which one a given ResourceName denotes is
// determined by the event kind it appears in, not by the value itself.
type ResourceName int64

// TracePosition is the 1-based ordinal of an event in the input stream.
type TracePosition int64

// DataRace is a single reported finding: two accesses to Resource, at trace
// position Position, attributed to Thread1 and Thread2.
//
// The same shape is reused for UNDEAD deadlock-chain reports: Resource is
// then the closing lock of the cycle, Position is conventionally 0 (a
// cycle is an end-of-stream finding, not tied to one event), and
// Thread1/Thread2 are the first and last thread of the chain — matching
// the literal (lock, 0, t0, tn) reporting convention of the original
// detector's DFS cycle search.
type DataRace struct {
	Resource ResourceName
	Position TracePosition
	Thread1  ThreadID
	Thread2  ThreadID
}
