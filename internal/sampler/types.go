package sampler

import (
	"fmt"
	"math/rand"

	"github.com/danielpatrickdp/hpsearch/internal/space"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region sampler
// Sampler proposes the next configuration from the study history. history is
// read-only and ordered by trial number; implementations must not perform I/O.
type Sampler interface {
	Propose(sp *space.Space, history []trial.Record, dir trial.Direction, rng *rand.Rand) (trial.Params, error)
}

// #endregion sampler

// #region names
const (
	NameTPE    = "tpe"
	NameRandom = "random"
)

// New builds a sampler by name.
func New(name string, cfg TPEConfig) (Sampler, error) {
	switch name {
	case NameTPE, "":
		return NewTPE(cfg), nil
	case NameRandom:
		return Random{}, nil
	}
	return nil, fmt.Errorf("unknown sampler %q (want tpe|random)", name)
}

// #endregion names

// #region tpe-config
// TPEConfig holds the tree-structured Parzen estimator settings.
type TPEConfig struct {
	NStartupTrials int     // random proposals before the model kicks in
	NEICandidates  int     // candidates drawn from l(x) per parameter
	PriorWeight    float64 // weight of the prior component in each estimator
	MaxBelow       int     // cap on the size of the "good" partition
}

// DefaultTPEConfig returns the usual TPE defaults.
func DefaultTPEConfig() TPEConfig {
	return TPEConfig{
		NStartupTrials: 10,
		NEICandidates:  24,
		PriorWeight:    1.0,
		MaxBelow:       25,
	}
}

// #endregion tpe-config
