package trial

import (
	"fmt"
	"math"
	"time"
)

// #region direction
// Direction is the optimization direction of a study.
type Direction string

const (
	Maximize Direction = "maximize"
	Minimize Direction = "minimize"
)

// ParseDirection validates a direction name.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Maximize, Minimize:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q (want maximize|minimize)", s)
}

// Better reports whether a is strictly better than b under d.
func (d Direction) Better(a, b float64) bool {
	if d == Minimize {
		return a < b
	}
	return a > b
}

// Worst returns the worst representable value under d.
func (d Direction) Worst() float64 {
	if d == Minimize {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

// #endregion direction

// #region state
// State is the lifecycle state of a trial.
type State string

const (
	StateRunning  State = "RUNNING"
	StateComplete State = "COMPLETE"
	StatePruned   State = "PRUNED"
	StateFailed   State = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StatePruned || s == StateFailed
}

// #endregion state

// #region params
// Params maps parameter name to its internal representation. Numeric
// parameters hold their value; categorical parameters hold the choice index.
type Params map[string]float64

// Clone returns a copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// #endregion params

// #region report
// Report is one intermediate (step, value) pair.
type Report struct {
	Step  int
	Value float64
}

// #endregion report

// #region record
// Record is a persisted trial as read back from the store.
type Record struct {
	ID          int64
	StudyName   string
	Number      int
	RunID       string
	State       State
	Value       *float64 // nil unless a final value was recorded
	Params      Params
	Reports     []Report // ordered by step
	StartedAt   time.Time
	CompletedAt time.Time
	HeartbeatAt time.Time
}

// LastReport returns the report with the highest step.
func (r Record) LastReport() (Report, bool) {
	if len(r.Reports) == 0 {
		return Report{}, false
	}
	return r.Reports[len(r.Reports)-1], true
}

// ValueAt returns the latest reported value with step <= step.
func (r Record) ValueAt(step int) (float64, bool) {
	var (
		v  float64
		ok bool
	)
	for _, rep := range r.Reports {
		if rep.Step > step {
			break
		}
		v, ok = rep.Value, true
	}
	return v, ok
}

// Terminal filters records down to those in a terminal state.
func Terminal(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.State.IsTerminal() {
			out = append(out, r)
		}
	}
	return out
}

// #endregion record

// #region study
// Study identifies a persisted study.
type Study struct {
	ID        int64
	Name      string
	Direction Direction
	CreatedAt time.Time
}

// #endregion study

// #region best
// Best returns the best COMPLETE record under d.
func Best(records []Record, d Direction) (Record, bool) {
	var (
		best  Record
		found bool
	)
	for _, r := range records {
		if r.State != StateComplete || r.Value == nil {
			continue
		}
		if !found || d.Better(*r.Value, *best.Value) {
			best, found = r, true
		}
	}
	return best, found
}

// #endregion best
