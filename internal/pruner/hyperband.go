package pruner

import (
	"fmt"
	"hash/crc32"
	"math"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region hyperband
// Hyperband runs several successive-halving brackets side by side, each with a
// different early-stopping rate. Trials are assigned to brackets by hashing
// the study name and trial number, weighted by each bracket's budget, and are
// only compared against peers in the same bracket.
type Hyperband struct {
	config Config
}

// NewHyperband creates a Hyperband pruner.
func NewHyperband(cfg Config) *Hyperband {
	return &Hyperband{config: cfg.withDefaults()}
}

// Prune delegates to the trial's bracket.
func (h *Hyperband) Prune(ev Evidence, step int, value float64) bool {
	maxRes := h.maxResource(ev.Others)
	if maxRes <= 0 {
		return false
	}
	nBrackets := h.NumBrackets(maxRes)
	bracket := h.BracketOf(ev.StudyName, ev.Trial.Number, nBrackets)

	peers := make([]trial.Record, 0, len(ev.Others))
	for _, o := range ev.Others {
		if h.BracketOf(ev.StudyName, o.Number, nBrackets) == bracket {
			peers = append(peers, o)
		}
	}

	sh := NewSuccessiveHalving(h.config, bracket)
	return sh.Prune(Evidence{
		StudyName: ev.StudyName,
		Direction: ev.Direction,
		Trial:     ev.Trial,
		Others:    peers,
	}, step, value)
}

// maxResource is the configured max resource, or the last step of the first
// trial to complete. Later completions never move it, so a running trial keeps
// its bracket and peer set.
func (h *Hyperband) maxResource(others []trial.Record) int {
	if h.config.MaxResource > 0 {
		return h.config.MaxResource
	}
	var first *trial.Record
	for i := range others {
		o := &others[i]
		if o.State != trial.StateComplete || len(o.Reports) == 0 {
			continue
		}
		if first == nil || completedBefore(*o, *first) {
			first = o
		}
	}
	if first == nil {
		return 0
	}
	last, _ := first.LastReport()
	return last.Step
}

// completedBefore orders COMPLETE trials by completion time, then number.
func completedBefore(a, b trial.Record) bool {
	if !a.CompletedAt.Equal(b.CompletedAt) {
		return a.CompletedAt.Before(b.CompletedAt)
	}
	return a.Number < b.Number
}

// NumBrackets returns floor(log_eta(max/min)) + 1.
func (h *Hyperband) NumBrackets(maxResource int) int {
	n := 1
	step := h.config.MinResource * h.config.ReductionFactor
	for step <= maxResource {
		n++
		step *= h.config.ReductionFactor
	}
	return n
}

// budget is the relative number of trials bracket i receives.
func (h *Hyperband) budget(i, nBrackets int) int {
	s := nBrackets - 1 - i
	return int(math.Ceil(float64(nBrackets) * math.Pow(float64(h.config.ReductionFactor), float64(s)) / float64(s+1)))
}

// BracketOf deterministically assigns a trial number to a bracket.
func (h *Hyperband) BracketOf(studyName string, number, nBrackets int) int {
	total := 0
	for i := 0; i < nBrackets; i++ {
		total += h.budget(i, nBrackets)
	}
	n := int(crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s_%d", studyName, number))) % uint32(total))
	for i := 0; i < nBrackets; i++ {
		n -= h.budget(i, nBrackets)
		if n < 0 {
			return i
		}
	}
	return nBrackets - 1
}

// #endregion hyperband
