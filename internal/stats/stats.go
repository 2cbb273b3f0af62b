// Package stats implements the memory supervisor and the
// Frame.Statistics() aggregation/formatting used by cmd/lockframe's
// --stats flag.
//
// Grounded on ErikKassubek-ADVOCATE/analyzer/memory/memory.go's
// poll-threshold-cancel shape: a background loop samples available RAM via
// gopsutil and flips an atomic cancel flag once the configured threshold is
// crossed. Bounded-memory detector design (H/V history caps) does not bound
// a pathological trace's lockset/dependency growth, so this is the backstop
// the original's report_statistic hook hinted at but never implemented.
package stats

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// Supervisor polls available memory and cancels an in-flight analysis run
// once the configured percentage of RAM in use is exceeded. A zero
// ThresholdPercent disables supervision (Run returns immediately).
type Supervisor struct {
	// ThresholdPercent is the fraction of total RAM, expressed as a percent
	// (e.g. 90), above which an in-flight run is canceled. Zero disables
	// the supervisor.
	ThresholdPercent float64

	// PollInterval is how often memory is sampled. Defaults to one second
	// if zero.
	PollInterval time.Duration

	canceled atomic.Bool
}

// NewSupervisor constructs a Supervisor for the given threshold percentage.
func NewSupervisor(thresholdPercent float64) *Supervisor {
	return &Supervisor{ThresholdPercent: thresholdPercent, PollInterval: time.Second}
}

// Run polls memory usage until stop is closed or the threshold is crossed,
// in which case it sets Canceled and returns. Intended to run in its own
// goroutine alongside a batch analysis pass; the analyzer core itself
// remains single-threaded and only checks Canceled between lines.
func (s *Supervisor) Run(stop <-chan struct{}) {
	if s.ThresholdPercent <= 0 {
		return
	}
	interval := s.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			v, err := mem.VirtualMemory()
			if err != nil {
				continue
			}
			if v.UsedPercent >= s.ThresholdPercent {
				s.canceled.Store(true)
				return
			}
		}
	}
}

// Canceled reports whether the threshold has been crossed.
func (s *Supervisor) Canceled() bool {
	return s.canceled.Load()
}

// Format renders a Frame.Statistics()-shaped map as sorted "key: value"
// lines (or "key,value" in csv mode), matching the
// #ifdef COLLECT_STATISTICS output convention of the original detector.
func Format(m map[string]string, csv bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		if csv {
			lines = append(lines, fmt.Sprintf("%s,%s", k, m[k]))
		} else {
			lines = append(lines, fmt.Sprintf("%s: %s", k, m[k]))
		}
	}
	return lines
}
