package storage

import (
	"errors"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region errors
var (
	ErrStudyNotFound     = errors.New("study not found")
	ErrTrialNotFound     = errors.New("trial not found")
	ErrTrialFinished     = errors.New("trial already finished")
	ErrStepOrder         = errors.New("step precedes an already reported step")
	ErrDirectionMismatch = errors.New("study exists with a different direction")
)

// #endregion errors

// #region study-summary
// StudySummary pairs a study with its trial counts per state.
type StudySummary struct {
	trial.Study
	Counts map[trial.State]int
}

// #endregion study-summary
