// Package reader implements the trace line parser: it turns one text line
// into an event and dispatches it to a frame.Frame. Three formats are
// supported: the default comma-separated
// numeric form, the pipe-separated `--std` form with string interning, and
// the `--speedygo` remap of SIG/WT into synthetic fork edges.
//
// Grounded on original_source/reader/reader.cpp's convert_result_from_std
// (interning tables and event-token parsing) and its main loop's
// speedygo signal_list handling; fail-fast-on-malformed-line matches that
// file's "catch(...) { ...; return 1; }" behavior.
package reader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/types"
)

// Options selects the trace format.
type Options struct {
	// Std selects the pipe-separated, string-interned format.
	Std bool

	// SpeedyGo reinterprets SIG/WT as barrier signal/wait: on WT, a fork
	// is synthesized from the matching prior SIG's thread to the current
	// thread, since this instrumentation exposes no native fork/join.
	SpeedyGo bool
}

// ParseError reports a malformed trace line. Line is 1-based, matching the
// trace-position numbering the rest of the analyzer uses.
type ParseError struct {
	Line int
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bad trace format on line %d: %s: %v", e.Line, e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// tokenAliases maps both the default format's tokens and the std format's
// shorthand (r, w, acq, rel, fork, join) to the canonical event kind.
var tokenAliases = map[string]string{
	"r": "RD", "RD": "RD",
	"w": "WR", "WR": "WR",
	"acq": "LK", "LK": "LK",
	"rel": "UK", "UK": "UK",
	"fork": "SIG", "SIG": "SIG",
	"join": "WT", "WT": "WT",
	"NT":   "NT",
	"NTWT": "NTWT",
	"AWR":  "AWR",
	"ARD":  "ARD",
}

// Reader holds the per-stream interning tables and the speedygo signaler
// lookup. Not safe for concurrent use — the analyzer is single-threaded
// cooperative.
type Reader struct {
	opts Options

	stdThreadCounter types.ThreadID
	stdThreadIDs     map[string]types.ThreadID
	stdLockCounter   types.ResourceName
	stdLockIDs       map[string]types.ResourceName

	// signalers maps a speedygo barrier id (the raw integer target of a
	// SIG line) to the thread that signaled it, so a later WT on the same
	// id can synthesize a fork edge.
	signalers map[int64]types.ThreadID
}

// New constructs a Reader for the given format options.
func New(opts Options) *Reader {
	return &Reader{
		opts:             opts,
		stdThreadCounter: 1,
		stdThreadIDs:     make(map[string]types.ThreadID),
		stdLockCounter:   1,
		stdLockIDs:       make(map[string]types.ResourceName),
		signalers:        make(map[int64]types.ThreadID),
	}
}

func (r *Reader) internThread(s string) types.ThreadID {
	if id, ok := r.stdThreadIDs[s]; ok {
		return id
	}
	id := r.stdThreadCounter
	r.stdThreadIDs[s] = id
	r.stdThreadCounter++
	return id
}

func (r *Reader) internLock(s string) types.ResourceName {
	if id, ok := r.stdLockIDs[s]; ok {
		return id
	}
	id := r.stdLockCounter
	r.stdLockIDs[s] = id
	r.stdLockCounter++
	return id
}

// splitFirstThree splits line on sep, keeping only the first three fields
// and discarding anything past the third separator — matching the
// original's fixed 3-slot std::array fill, not a plain strings.Split.
func splitFirstThree(line string, sep byte) []string {
	parts := strings.SplitN(line, string(sep), 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return parts
}

// Parse decodes one trace line into its event kind, acting thread, and
// target. target is a ResourceName for RD/WR/LK/UK/NT/NTWT/AWR/ARD and a
// ThreadID for SIG/WT — callers branch on kind to know which.
func (r *Reader) Parse(pos int, line string) (kind string, thread types.ThreadID, target int64, err error) {
	sep := byte(',')
	if r.opts.Std {
		sep = '|'
	}

	fields := splitFirstThree(line, sep)
	if len(fields) < 3 || fields[2] == "" {
		return "", 0, 0, &ParseError{Line: pos, Raw: line, Err: errors.New("expected 3 fields")}
	}

	if r.opts.Std {
		return r.parseStd(pos, line, fields)
	}
	return r.parseDefault(pos, line, fields)
}

func (r *Reader) parseDefault(pos int, line string, fields []string) (string, types.ThreadID, int64, error) {
	tid, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "", 0, 0, &ParseError{Line: pos, Raw: line, Err: err}
	}
	kind, ok := tokenAliases[fields[1]]
	if !ok {
		return "", 0, 0, &ParseError{Line: pos, Raw: line, Err: fmt.Errorf("unknown event type %q", fields[1])}
	}
	target, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", 0, 0, &ParseError{Line: pos, Raw: line, Err: err}
	}
	return kind, types.ThreadID(tid), target, nil
}

// parseStd decodes the std format's event(target) encoding in fields[1],
// e.g. "acq(mu1)" or "fork(T2)"; thread and lock/condition names are
// interned to integers on first sight.
func (r *Reader) parseStd(pos int, line string, fields []string) (string, types.ThreadID, int64, error) {
	thread := r.internThread(fields[0])

	open := strings.IndexByte(fields[1], '(')
	if open < 0 || !strings.HasSuffix(fields[1], ")") {
		return "", 0, 0, &ParseError{Line: pos, Raw: line, Err: errors.New("malformed std event token")}
	}
	token := fields[1][:open]
	targetStr := fields[1][open+1 : len(fields[1])-1]

	kind, ok := tokenAliases[token]
	if !ok {
		return "", 0, 0, &ParseError{Line: pos, Raw: line, Err: fmt.Errorf("unknown event type %q", token)}
	}

	var target int64
	if kind == "SIG" || kind == "WT" {
		target = int64(r.internThread(targetStr))
	} else {
		target = int64(r.internLock(targetStr))
	}
	return kind, thread, target, nil
}

// Dispatch parses line at 1-based trace position pos and forwards the
// resulting event to f. AWR/ARD are accepted but ignored (atomic accesses
// are out of scope). In --speedygo mode, SIG records a signaler and
// emits nothing; WT looks up the matching signaler and emits a fork from
// it to the waiting thread instead of a join.
func (r *Reader) Dispatch(f *frame.Frame, pos int, line string) error {
	kind, thread, target, err := r.Parse(pos, line)
	if err != nil {
		return err
	}

	tp := types.TracePosition(pos)
	switch kind {
	case "LK":
		return f.Acquire(thread, tp, types.ResourceName(target))
	case "UK":
		return f.Release(thread, tp, types.ResourceName(target))
	case "RD":
		return f.Read(thread, tp, types.ResourceName(target))
	case "WR":
		return f.Write(thread, tp, types.ResourceName(target))
	case "SIG":
		if r.opts.SpeedyGo {
			r.signalers[target] = thread
			return nil
		}
		return f.Fork(thread, tp, types.ThreadID(target))
	case "WT":
		if r.opts.SpeedyGo {
			signaler, ok := r.signalers[target]
			if !ok {
				return nil
			}
			return f.Fork(signaler, tp, thread)
		}
		return f.Join(thread, tp, types.ThreadID(target))
	case "NT":
		return f.Notify(thread, tp, types.ResourceName(target))
	case "NTWT":
		return f.Wait(thread, tp, types.ResourceName(target))
	case "AWR", "ARD":
		return nil
	default:
		return &ParseError{Line: pos, Raw: line, Err: fmt.Errorf("unhandled event type %q", kind)}
	}
}
