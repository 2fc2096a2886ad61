package searcher

import (
	"time"

	"github.com/hupe1980/memgo/results"
)

// State is the searcher's position in its round lifecycle.
type State int32

const (
	// StateIdle has no round in flight and no result set.
	StateIdle State = iota
	// StateScanning has a round in flight.
	StateScanning
	// StateResults holds a non-empty result set.
	StateResults
	// StateNoResults holds a committed but empty result set.
	StateNoResults
	// StateCaptured holds a snapshot and awaits a comparison.
	StateCaptured
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateResults:
		return "results"
	case StateNoResults:
		return "no_results"
	case StateCaptured:
		return "captured"
	}
	return "unknown"
}

// Kind identifies what a round did.
type Kind string

const (
	KindSweep    Kind = "sweep"
	KindContinue Kind = "continue"
	KindCompare  Kind = "compare"
	KindCapture  Kind = "capture"
)

// Report summarizes a finished round.
type Report struct {
	Kind  Kind
	State State

	// Regions counts the regions or capture entries visited. Skipped counts
	// those that could not be read; for continuations it counts dropped hits.
	Regions int
	Skipped int
	// Scanned and Total are bytes for sweeps and captures, and hits for
	// continuations.
	Scanned int64
	Total   int64

	Found      int64
	Cancelled  bool
	Parallel   bool
	Workers    int
	Generation results.Generation
	Capture    string
	Duration   time.Duration
}

// stats is the accounting shared by every scan strategy.
type stats struct {
	regions  int
	skipped  int
	scanned  int64
	total    int64
	parallel bool
	workers  int
}

func (st stats) apply(rep *Report) {
	rep.Regions = st.regions
	rep.Skipped = st.skipped
	rep.Scanned = st.scanned
	rep.Total = st.total
	rep.Parallel = st.parallel
	rep.Workers = max(st.workers, 1)
}
