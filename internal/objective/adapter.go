package objective

import (
	"context"
	"fmt"
	"log"

	"github.com/danielpatrickdp/hpsearch/internal/study"
)

// #region adapter
// Adapter turns a Trainer into a study.Objective. Each epoch's metrics are
// scored and reported to the trial; the final metrics give the trial value.
type Adapter struct {
	Trainer   Trainer
	Extractor Extractor // nil = DefaultExtractor()
}

// Evaluate runs one training job for t.
func (a *Adapter) Evaluate(ctx context.Context, t *study.Trial) (study.Outcome, error) {
	ex := a.Extractor
	if ex == nil {
		ex = DefaultExtractor()
	}
	obs := &trialObserver{ctx: ctx, trial: t, extractor: ex}
	run := Run{
		StudyName: t.StudyName(),
		Number:    t.Number(),
		RunID:     t.RunID(),
		Params:    t.Params(),
	}

	final, err := a.Trainer.Train(ctx, run, obs)
	if obs.pruned {
		return study.Pruned(), nil
	}
	if obs.err != nil {
		return study.Outcome{}, obs.err
	}
	if err != nil {
		return study.Outcome{}, fmt.Errorf("train: %w", err)
	}

	score, err := Score(ex, final)
	if err != nil {
		return study.Outcome{}, fmt.Errorf("final metrics: %w", err)
	}
	return study.Complete(score), nil
}

// #endregion adapter

// #region observer
// trialObserver forwards epoch scores to the trial. It uses the Evaluate
// context rather than the caller's, which may be an RPC.
type trialObserver struct {
	ctx       context.Context
	trial     *study.Trial
	extractor Extractor

	pruned bool
	err    error
}

func (o *trialObserver) OnEpochEnd(epoch int, m Metrics) study.Verdict {
	if o.pruned {
		return study.VerdictPrune
	}
	if o.err != nil {
		return study.VerdictFail
	}

	score, err := Score(o.extractor, m)
	if err != nil {
		o.err = fmt.Errorf("epoch %d: %w", epoch, err)
		return study.VerdictFail
	}

	v, err := o.trial.Report(o.ctx, epoch, score)
	switch v {
	case study.VerdictPrune:
		o.pruned = true
	case study.VerdictFail:
		o.err = fmt.Errorf("report epoch %d: %w", epoch, err)
	default:
		log.Printf("[TRIAL] %s #%d epoch %d score=%.4f", o.trial.StudyName(), o.trial.Number(), epoch, score)
	}
	return v
}

// #endregion observer
