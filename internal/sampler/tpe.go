package sampler

import (
	"math"
	"math/rand"
	"sort"

	"github.com/danielpatrickdp/hpsearch/internal/space"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region tpe
// TPE is a tree-structured Parzen estimator sampler. Each parameter is modelled
// independently by a density l(x) over the best trials and g(x) over the rest;
// the proposal maximises l(x)/g(x) among candidates drawn from l(x).
type TPE struct {
	config TPEConfig
}

// NewTPE creates a TPE sampler, filling zero fields with defaults.
func NewTPE(cfg TPEConfig) *TPE {
	def := DefaultTPEConfig()
	if cfg.NStartupTrials <= 0 {
		cfg.NStartupTrials = def.NStartupTrials
	}
	if cfg.NEICandidates <= 0 {
		cfg.NEICandidates = def.NEICandidates
	}
	if cfg.PriorWeight <= 0 {
		cfg.PriorWeight = def.PriorWeight
	}
	if cfg.MaxBelow <= 0 {
		cfg.MaxBelow = def.MaxBelow
	}
	return &TPE{config: cfg}
}

// Propose samples every parameter in declaration order so dependent bounds
// see the values fixed earlier in the same proposal.
func (t *TPE) Propose(sp *space.Space, history []trial.Record, dir trial.Direction, rng *rand.Rand) (trial.Params, error) {
	ranked := rankHistory(history, dir)
	if len(ranked) < t.config.NStartupTrials {
		return Random{}.Propose(sp, history, dir, rng)
	}

	nBelow := t.gamma(len(ranked))
	below, above := ranked[:nBelow], ranked[nBelow:]

	params := make(trial.Params, sp.Len())
	for _, p := range sp.Params() {
		var (
			v   float64
			err error
		)
		if p.Kind == space.KindCategorical {
			v = float64(t.sampleCategorical(p, below, above, rng))
		} else {
			v, err = t.sampleNumeric(sp, p, params, below, above, rng)
			if err != nil {
				return nil, err
			}
		}
		params[p.Name] = v
	}
	return params, nil
}

// gamma is the size of the "good" partition.
func (t *TPE) gamma(n int) int {
	g := int(math.Ceil(0.1 * float64(n)))
	if g > t.config.MaxBelow {
		g = t.config.MaxBelow
	}
	if g < 1 {
		g = 1
	}
	return g
}

// #endregion tpe

// #region numeric
func (t *TPE) sampleNumeric(sp *space.Space, p space.Param, fixed trial.Params, below, above []trial.Record, rng *rand.Rand) (float64, error) {
	low, high, err := sp.Bounds(p, fixed)
	if err != nil {
		return 0, err
	}
	if low == high {
		return low, nil
	}
	tlow, thigh := transformBounds(p, low, high)

	l := newParzen(numericObservations(p, below, low, high), tlow, thigh, t.config.PriorWeight)
	g := newParzen(numericObservations(p, above, low, high), tlow, thigh, t.config.PriorWeight)

	best, bestScore := 0.0, math.Inf(-1)
	for i := 0; i < t.config.NEICandidates; i++ {
		x := l.sample(rng)
		score := l.logPDF(x) - g.logPDF(x)
		if score > bestScore {
			best, bestScore = x, score
		}
	}
	return untransform(p, best, low, high), nil
}

// numericObservations collects transformed values of p that fall inside the
// currently resolved bounds.
func numericObservations(p space.Param, records []trial.Record, low, high float64) []float64 {
	var obs []float64
	for _, r := range records {
		v, ok := r.Params[p.Name]
		if !ok || v < low || v > high {
			continue
		}
		obs = append(obs, transform(p, v))
	}
	return obs
}

// #endregion numeric

// #region categorical-sample
func (t *TPE) sampleCategorical(p space.Param, below, above []trial.Record, rng *rand.Rand) int {
	n := len(p.Choices)
	l := newCategorical(categoricalObservations(p, below), n, t.config.PriorWeight)
	g := newCategorical(categoricalObservations(p, above), n, t.config.PriorWeight)

	best, bestScore := 0, math.Inf(-1)
	for i := 0; i < t.config.NEICandidates; i++ {
		k := l.sample(rng)
		score := l.logPDF(k) - g.logPDF(k)
		if score > bestScore {
			best, bestScore = k, score
		}
	}
	return best
}

func categoricalObservations(p space.Param, records []trial.Record) []int {
	var obs []int
	for _, r := range records {
		v, ok := r.Params[p.Name]
		if !ok {
			continue
		}
		obs = append(obs, int(v))
	}
	return obs
}

// #endregion categorical-sample

// #region ranking
// rankHistory orders usable trials best first: COMPLETE trials by value, then
// PRUNED trials by how far they got and their last reported value. RUNNING and
// FAILED trials carry no signal and are dropped.
func rankHistory(history []trial.Record, dir trial.Direction) []trial.Record {
	var complete, pruned []trial.Record
	for _, r := range history {
		switch r.State {
		case trial.StateComplete:
			if r.Value != nil && !math.IsNaN(*r.Value) {
				complete = append(complete, r)
			}
		case trial.StatePruned:
			if _, ok := r.LastReport(); ok {
				pruned = append(pruned, r)
			}
		}
	}

	sort.SliceStable(complete, func(i, j int) bool {
		return dir.Better(*complete[i].Value, *complete[j].Value)
	})
	sort.SliceStable(pruned, func(i, j int) bool {
		a, _ := pruned[i].LastReport()
		b, _ := pruned[j].LastReport()
		if a.Step != b.Step {
			return a.Step > b.Step
		}
		return dir.Better(a.Value, b.Value)
	})
	return append(complete, pruned...)
}

// #endregion ranking
