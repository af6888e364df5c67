package sampler

import (
	"math"
	"math/rand"

	"github.com/danielpatrickdp/hpsearch/internal/space"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region random
// Random draws every parameter independently and uniformly from its domain
// (log-uniformly for log-scale parameters).
type Random struct{}

// Propose ignores history.
func (Random) Propose(sp *space.Space, _ []trial.Record, _ trial.Direction, rng *rand.Rand) (trial.Params, error) {
	params := make(trial.Params, sp.Len())
	for _, p := range sp.Params() {
		v, err := sampleUniform(sp, p, params, rng)
		if err != nil {
			return nil, err
		}
		params[p.Name] = v
	}
	return params, nil
}

// #endregion random

// #region uniform
func sampleUniform(sp *space.Space, p space.Param, fixed trial.Params, rng *rand.Rand) (float64, error) {
	if p.Kind == space.KindCategorical {
		return float64(rng.Intn(len(p.Choices))), nil
	}
	low, high, err := sp.Bounds(p, fixed)
	if err != nil {
		return 0, err
	}
	tlow, thigh := transformBounds(p, low, high)
	x := tlow + rng.Float64()*(thigh-tlow)
	return untransform(p, x, low, high), nil
}

// transformBounds maps bounds into the space the estimators work in: log for
// log-scale parameters, widened by half a unit for integers.
func transformBounds(p space.Param, low, high float64) (float64, float64) {
	if p.Kind == space.KindInt {
		low, high = low-0.5, high+0.5
	}
	if p.Log {
		return math.Log(low), math.Log(high)
	}
	return low, high
}

func transform(p space.Param, v float64) float64 {
	if p.Log {
		return math.Log(v)
	}
	return v
}

func untransform(p space.Param, x, low, high float64) float64 {
	if p.Log {
		x = math.Exp(x)
	}
	if p.Kind == space.KindInt {
		return float64(space.Clamp(int64(math.Round(x)), int64(math.Ceil(low)), int64(math.Floor(high))))
	}
	return space.Clamp(x, low, high)
}

// #endregion uniform
