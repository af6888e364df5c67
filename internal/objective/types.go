package objective

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/hpsearch/internal/study"
)

// #region metrics
// Metrics is a flat set of named validation metrics for one epoch.
type Metrics map[string]float64

// ErrMissingMetric is returned when a metric the score needs was not reported.
var ErrMissingMetric = errors.New("missing metric")

// Default metric keys emitted by the YOLO trainer.
const (
	DefaultPrecisionKey = "metrics/precision(B)"
	DefaultRecallKey    = "metrics/recall(B)"
)

// Extractor pulls precision and recall out of a metrics set.
type Extractor interface {
	Extract(m Metrics) (precision, recall float64, err error)
}

// #endregion metrics

// #region trainer
// Run identifies one training run handed to a Trainer.
type Run struct {
	StudyName string
	Number    int
	RunID     string
	Params    map[string]any
}

// EpochObserver is the single hook a trainer calls after every validation pass.
// A VerdictPrune answer means the trainer must stop; VerdictFail means the
// report could not be recorded and the run is void.
type EpochObserver interface {
	OnEpochEnd(epoch int, m Metrics) study.Verdict
}

// Trainer runs a training job to completion and returns its final metrics.
type Trainer interface {
	Train(ctx context.Context, run Run, obs EpochObserver) (Metrics, error)
}

// TrainerFunc adapts a function to Trainer.
type TrainerFunc func(ctx context.Context, run Run, obs EpochObserver) (Metrics, error)

// Train calls f.
func (f TrainerFunc) Train(ctx context.Context, run Run, obs EpochObserver) (Metrics, error) {
	return f(ctx, run, obs)
}

// #endregion trainer

// #region reporting
// Reporter hosts the endpoint out-of-process trainers send their epoch
// metrics to. *bridge.Server implements it.
type Reporter interface {
	Addr() string
	Open(runID string, obs EpochObserver) ReportSession
}

// ReportSession is one run's view of the Reporter.
type ReportSession interface {
	// Pruned is closed once the observer answered VerdictPrune or VerdictFail.
	Pruned() <-chan struct{}
	// Final returns the metrics sent with the run's final report.
	Final() (Metrics, bool)
	Close()
}

// #endregion reporting
