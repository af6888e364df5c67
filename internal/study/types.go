package study

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/logging"
	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/sampler"
	"github.com/danielpatrickdp/hpsearch/internal/space"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region verdict
// Verdict is the answer to an intermediate report.
type Verdict int

const (
	VerdictContinue Verdict = iota
	VerdictPrune
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictPrune:
		return "prune"
	case VerdictFail:
		return "fail"
	}
	return "unknown"
}

// #endregion verdict

// #region outcome
// Outcome is what an objective returns for a trial that did not error.
type Outcome struct {
	State trial.State // COMPLETE or PRUNED
	Value float64     // final value; ignored for PRUNED
}

// Complete reports a finished trial with its final value.
func Complete(value float64) Outcome {
	return Outcome{State: trial.StateComplete, Value: value}
}

// Pruned reports a trial that stopped early.
func Pruned() Outcome {
	return Outcome{State: trial.StatePruned}
}

// #endregion outcome

// #region objective
// Objective evaluates one trial. Returning an error marks the trial FAILED;
// it never stops the study.
type Objective interface {
	Evaluate(ctx context.Context, t *Trial) (Outcome, error)
}

// ObjectiveFunc adapts a function to Objective.
type ObjectiveFunc func(ctx context.Context, t *Trial) (Outcome, error)

// Evaluate calls f.
func (f ObjectiveFunc) Evaluate(ctx context.Context, t *Trial) (Outcome, error) {
	return f(ctx, t)
}

// #endregion objective

// #region storage
// Storage is the durable state a study runs against.
type Storage interface {
	CreateOrLoadStudy(ctx context.Context, name string, dir trial.Direction) (trial.Study, error)
	CreateTrial(ctx context.Context, studyName string, params trial.Params) (trial.Record, error)
	RecordIntermediate(ctx context.Context, trialID int64, step int, value float64) error
	FinalizeTrial(ctx context.Context, trialID int64, state trial.State, value *float64) error
	LoadHistory(ctx context.Context, studyName string) ([]trial.Record, error)
	FailStaleTrials(ctx context.Context, studyName string, olderThan time.Duration) ([]int, error)
}

// EventSink receives lifecycle events; *logging.EventLog implements it.
type EventSink interface {
	Log(entry logging.EventEntry) error
}

// #endregion storage

// #region options
// Options binds a study to its search space and algorithms.
type Options struct {
	Space      *space.Space
	Sampler    sampler.Sampler
	Pruner     pruner.Pruner
	Seed       int64         // 0 = seed from the clock
	StaleAfter time.Duration // 0 = leave stale RUNNING trials alone
	Events     EventSink     // optional
	Now        func() time.Time
}

// OptimizeOptions bounds one Optimize call.
type OptimizeOptions struct {
	Timeout time.Duration // wall-clock budget; 0 = unbounded
	NTrials int           // trials to start in this call; 0 = unbounded
}

// Summary counts the trials finished by one Optimize call.
type Summary struct {
	Started  int
	Complete int
	Pruned   int
	Failed   int
}

// #endregion options

// #region errors
// ErrNoCompleteTrials is returned by BestTrial before any trial completed.
var ErrNoCompleteTrials = errors.New("no complete trials")

// #endregion errors
