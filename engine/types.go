package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/pagewatch/notify"
)

// State is a step of the run state machine.
type State int

const (
	Idle State = iota
	Fetching
	Extracting
	Fingerprinting
	Comparing
	Notifying
	Persisting
	Done
	Failed
)

var stateNames = [...]string{
	Idle:           "Idle",
	Fetching:       "Fetching",
	Extracting:     "Extracting",
	Fingerprinting: "Fingerprinting",
	Comparing:      "Comparing",
	Notifying:      "Notifying",
	Persisting:     "Persisting",
	Done:           "Done",
	Failed:         "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) spanName() string { return strings.ToLower(s.String()) }

// Verdict is the outcome of comparing the current and stored digests.
type Verdict int

const (
	Unchanged Verdict = iota
	Changed
)

func (v Verdict) String() string {
	if v == Changed {
		return "changed"
	}
	return "unchanged"
}

// MarshalText renders the verdict name in JSON.
func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Result describes one run.
type Result struct {
	Verdict Verdict `json:"verdict"`
	// Previous is nil when no digest was stored.
	Previous *string       `json:"previous"`
	Current  string        `json:"current"`
	Items    []string      `json:"items"`
	Event    *notify.Event `json:"event,omitempty"`
	Trace    []State       `json:"-"`
	Duration time.Duration `json:"duration_ns"`
}

// Final returns the last state reached.
func (r *Result) Final() State {
	if len(r.Trace) == 0 {
		return Idle
	}
	return r.Trace[len(r.Trace)-1]
}

// Notified reports whether the gateway accepted an event during the run.
func (r *Result) Notified() bool { return r.Event != nil }

// TraceString renders the trace as "Idle>Fetching>...".
func (r *Result) TraceString() string {
	parts := make([]string, len(r.Trace))
	for i, s := range r.Trace {
		parts[i] = s.String()
	}
	return strings.Join(parts, ">")
}

// Stage identifies where a run failed.
type Stage int

const (
	StageNone Stage = iota
	StageFetch
	StageExtract
	StageLoad
	StageNotify
	StagePersist
)

func (s Stage) String() string {
	switch s {
	case StageFetch:
		return "fetch"
	case StageExtract:
		return "extract"
	case StageLoad:
		return "load"
	case StageNotify:
		return "notify"
	case StagePersist:
		return "persist"
	}
	return "none"
}

// RunError is returned by Run for every failure.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("engine: %s failed: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// StageOf returns the failing stage of err, or StageNone.
func StageOf(err error) Stage {
	var re *RunError
	if errors.As(err, &re) {
		return re.Stage
	}
	return StageNone
}
