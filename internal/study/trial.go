package study

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"

	"github.com/danielpatrickdp/hpsearch/internal/logging"
	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/storage"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region trial-handle
// Trial is the handle an objective receives for the trial it evaluates.
// Report calls are expected from a single goroutine.
type Trial struct {
	study  *Study
	rec    trial.Record
	params map[string]any

	reports    []trial.Report
	pruned     bool
	prunedStep int
	failErr    error
	storeErr   error
}

func newTrial(s *Study, rec trial.Record) *Trial {
	return &Trial{
		study:  s,
		rec:    rec,
		params: s.opts.Space.Decode(rec.Params),
	}
}

// Number is the trial number within its study.
func (t *Trial) Number() int { return t.rec.Number }

// RunID is a globally unique id for the trial's external run.
func (t *Trial) RunID() string { return t.rec.RunID }

// StudyName is the owning study's name.
func (t *Trial) StudyName() string { return t.study.name }

// Params returns the decoded configuration (float64, int or the categorical choice).
func (t *Trial) Params() map[string]any {
	out := make(map[string]any, len(t.params))
	for k, v := range t.params {
		out[k] = v
	}
	return out
}

// Pruned reports whether the pruner has stopped this trial.
func (t *Trial) Pruned() bool { return t.pruned }

// #endregion trial-handle

// #region report
// Report records value at step and asks the pruner whether to go on. Once a
// report returned VerdictPrune every later report does too. A step lower than
// one already reported fails the trial, as does a trial finalized elsewhere.
// Any other store error is fatal to the
// study and is returned alongside VerdictFail.
func (t *Trial) Report(ctx context.Context, step int, value float64) (Verdict, error) {
	if t.pruned {
		return VerdictPrune, nil
	}
	if t.failErr != nil {
		return VerdictFail, t.failErr
	}

	s := t.study
	if err := s.store.RecordIntermediate(ctx, t.rec.ID, step, value); err != nil {
		if errors.Is(err, storage.ErrStepOrder) || errors.Is(err, storage.ErrTrialFinished) {
			t.failErr = err
		} else {
			t.storeErr = err
			t.failErr = err
		}
		return VerdictFail, err
	}
	t.reports = upsertReport(t.reports, trial.Report{Step: step, Value: value})
	s.event(logging.EventEntry{
		TrialNumber: t.rec.Number,
		Kind:        logging.EventReported,
		Step:        step,
		DetailJSON:  fmt.Sprintf(`{"value":%s}`, jsonFloat(value)),
	})

	history, err := s.store.LoadHistory(ctx, s.name)
	if err != nil {
		t.storeErr = fmt.Errorf("load history: %w", err)
		t.failErr = t.storeErr
		return VerdictFail, t.storeErr
	}

	self := t.rec
	self.Reports = t.reports
	others := make([]trial.Record, 0, len(history))
	for _, r := range history {
		if r.Number != t.rec.Number {
			others = append(others, r)
		}
	}

	if s.opts.Pruner.Prune(pruner.Evidence{
		StudyName: s.name,
		Direction: s.direction,
		Trial:     self,
		Others:    others,
	}, step, value) {
		t.pruned = true
		t.prunedStep = step
		log.Printf("[TRIAL] %s #%d pruning at step %d value=%.6f", s.name, t.rec.Number, step, value)
		return VerdictPrune, nil
	}
	return VerdictContinue, nil
}

func upsertReport(reports []trial.Report, r trial.Report) []trial.Report {
	if n := len(reports); n > 0 && reports[n-1].Step == r.Step {
		reports[n-1] = r
		return reports
	}
	return append(reports, r)
}

// lastValue is the latest reported value, if any.
func (t *Trial) lastValue() *float64 {
	if len(t.reports) == 0 {
		return nil
	}
	v := t.reports[len(t.reports)-1].Value
	return &v
}

// #endregion report

// jsonFloat renders v as a JSON value; non-finite values become null.
func jsonFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "null"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
