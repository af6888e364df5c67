package pruner

import (
	"math"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region successive-halving
// SuccessiveHalving compares a trial against its peers at geometrically spaced
// rungs. Rung r sits at step MinResource * eta^(rate+r).
type SuccessiveHalving struct {
	config Config
	rate   int // minimum early-stopping rate
}

// NewSuccessiveHalving creates a halving pruner with the given early-stopping rate.
func NewSuccessiveHalving(cfg Config, rate int) *SuccessiveHalving {
	return &SuccessiveHalving{config: cfg.withDefaults(), rate: rate}
}

// RungStep returns the step at which rung r is evaluated.
func (s *SuccessiveHalving) RungStep(r int) int {
	step := s.config.MinResource
	for i := 0; i < s.rate+r; i++ {
		step *= s.config.ReductionFactor
	}
	return step
}

// rungFor returns the highest rung whose step is <= step.
func (s *SuccessiveHalving) rungFor(step int) (int, bool) {
	if step < s.RungStep(0) {
		return 0, false
	}
	r := 0
	for s.RungStep(r+1) <= step {
		r++
	}
	return r, true
}

// Prune keeps the trial only if its value at the current rung ranks within the
// top max(1, n/eta) of the n values recorded at that rung.
func (s *SuccessiveHalving) Prune(ev Evidence, step int, value float64) bool {
	rung, ok := s.rungFor(step)
	if !ok {
		return false
	}
	rungStep := s.RungStep(rung)

	own := value
	if step > rungStep {
		if v, ok := ev.Trial.ValueAt(rungStep); ok {
			own = v
		}
	}
	if math.IsNaN(own) {
		own = ev.Direction.Worst()
	}

	peers := valuesAtRung(ev.Others, rungStep)
	n := len(peers) + 1
	if n < s.config.MinPeers {
		return false
	}

	keep := n / s.config.ReductionFactor
	if keep < 1 {
		keep = 1
	}
	better := 0
	for _, v := range peers {
		if ev.Direction.Better(v, own) {
			better++
		}
	}
	return better >= keep
}

// valuesAtRung collects each peer's latest value at or before rungStep, for
// peers that have reported at least up to rungStep.
func valuesAtRung(others []trial.Record, rungStep int) []float64 {
	var out []float64
	for _, o := range others {
		last, ok := o.LastReport()
		if !ok || last.Step < rungStep {
			continue
		}
		v, ok := o.ValueAt(rungStep)
		if !ok || math.IsNaN(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// #endregion successive-halving
