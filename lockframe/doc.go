// Package lockframe provides the public API for offline race and deadlock
// detection over concurrent program traces.
//
// It wraps internal/frame.Frame and the three detector backends —
// PWR (data races), UNDEAD (resource deadlocks) and PWRUNDEAD (both,
// integrated) — behind a single Analyzer type, so callers feeding events
// from their own trace source do not need to import internal packages
// directly.
//
// # Quick start
//
//	a := lockframe.NewPWR(lockframe.DefaultOptions())
//	a.Write(1, 1, counterAddr)
//	a.Write(2, 2, counterAddr)
//	races, err := a.Findings()
//
// # Feeding events
//
// Every concurrency-relevant trace event has a corresponding method:
// [Analyzer.Read], [Analyzer.Write], [Analyzer.Acquire],
// [Analyzer.Release], [Analyzer.Fork], [Analyzer.Join],
// [Analyzer.Notify], [Analyzer.Wait]. Call [Analyzer.Findings] once, after
// the last event, to run any deferred (offline) analysis and retrieve the
// accumulated races/deadlocks.
//
// # Choosing a detector
//
// [NewPWR] alone detects data races but nothing about lock ordering.
// [NewUNDEAD] alone detects potential deadlocks from lock-order inversion
// but never reports a race. [NewPWRUNDEAD] runs both analyses against a
// single shared event stream and additionally suppresses deadlock reports
// whose chain members are related by happens-before (LD-4), which neither
// standalone detector can do.
package lockframe
