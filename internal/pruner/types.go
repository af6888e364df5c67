package pruner

import (
	"fmt"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region evidence
// Evidence is everything a pruner may look at when judging a report: the
// trial under judgment and every other trial of the same study.
type Evidence struct {
	StudyName string
	Direction trial.Direction
	Trial     trial.Record
	Others    []trial.Record
}

// #endregion evidence

// #region pruner
// Pruner decides whether a running trial should stop after reporting value at
// step. Implementations are pure functions of their input.
type Pruner interface {
	Prune(ev Evidence, step int, value float64) bool
}

// Nop never prunes.
type Nop struct{}

// Prune always returns false.
func (Nop) Prune(Evidence, int, float64) bool { return false }

// #endregion pruner

// #region config
// Config holds the resource schedule shared by the halving pruners.
type Config struct {
	MinResource     int // step of the first rung
	MaxResource     int // 0 = last step of the first trial to complete, then fixed
	ReductionFactor int // eta: rung spacing and keep-ratio
	MinPeers        int // values needed at a rung before pruning; 0 = ReductionFactor
}

// DefaultConfig returns min resource 1, auto max resource and eta 3.
func DefaultConfig() Config {
	return Config{
		MinResource:     1,
		MaxResource:     0,
		ReductionFactor: 3,
	}
}

func (c Config) withDefaults() Config {
	if c.MinResource <= 0 {
		c.MinResource = 1
	}
	if c.ReductionFactor < 2 {
		c.ReductionFactor = 3
	}
	if c.MinPeers <= 0 {
		c.MinPeers = c.ReductionFactor
	}
	return c
}

// #endregion config

// #region names
const (
	NameHyperband         = "hyperband"
	NameSuccessiveHalving = "successive_halving"
	NameNone              = "none"
)

// New builds a pruner by name.
func New(name string, cfg Config) (Pruner, error) {
	switch name {
	case NameHyperband, "":
		return NewHyperband(cfg), nil
	case NameSuccessiveHalving:
		return NewSuccessiveHalving(cfg, 0), nil
	case NameNone:
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown pruner %q (want hyperband|successive_halving|none)", name)
}

// #endregion names
