package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/logging"
	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/sampler"
	"github.com/danielpatrickdp/hpsearch/internal/storage"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region study-struct
// Study is a named, persisted optimization campaign. All history lives in
// the store; a Study keeps no trial state of its own between calls, so any
// number of processes can run the same study against the same store.
type Study struct {
	name      string
	direction trial.Direction
	store     Storage
	opts      Options
}

// #endregion study-struct

// #region load
// Load creates the study if it does not exist yet, or resumes it. Resuming
// with a different direction fails.
func Load(ctx context.Context, store Storage, name string, dir trial.Direction, opts Options) (*Study, error) {
	if opts.Space == nil {
		return nil, fmt.Errorf("study %q: no search space", name)
	}
	if opts.Sampler == nil {
		opts.Sampler = sampler.NewTPE(sampler.DefaultTPEConfig())
	}
	if opts.Pruner == nil {
		opts.Pruner = pruner.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	st, err := store.CreateOrLoadStudy(ctx, name, dir)
	if err != nil {
		return nil, fmt.Errorf("load study: %w", err)
	}
	s := &Study{name: st.Name, direction: st.Direction, store: store, opts: opts}

	if opts.StaleAfter > 0 {
		stale, err := store.FailStaleTrials(ctx, name, opts.StaleAfter)
		if err != nil {
			return nil, fmt.Errorf("fail stale trials: %w", err)
		}
		for _, n := range stale {
			log.Printf("[STUDY] %s: trial #%d had no heartbeat for %s, marked FAILED", name, n, opts.StaleAfter)
			s.event(logging.EventEntry{TrialNumber: n, Kind: logging.EventStale, Reason: "no heartbeat"})
		}
	}
	return s, nil
}

// Name returns the study name.
func (s *Study) Name() string { return s.name }

// Direction returns the optimization direction.
func (s *Study) Direction() trial.Direction { return s.direction }

// #endregion load

// #region queries
// Trials returns every trial of the study ordered by number.
func (s *Study) Trials(ctx context.Context) ([]trial.Record, error) {
	return s.store.LoadHistory(ctx, s.name)
}

// BestTrial returns the best COMPLETE trial.
func (s *Study) BestTrial(ctx context.Context) (trial.Record, error) {
	history, err := s.store.LoadHistory(ctx, s.name)
	if err != nil {
		return trial.Record{}, err
	}
	best, ok := trial.Best(history, s.direction)
	if !ok {
		return trial.Record{}, ErrNoCompleteTrials
	}
	return best, nil
}

// #endregion queries

// #region optimize
// Optimize runs propose → execute → persist until the wall-clock budget or
// trial cap is used up or ctx is cancelled. The budget is only checked
// between trials; a trial in flight always finishes. A failing objective
// fails its trial only; a store error is returned immediately.
func (s *Study) Optimize(ctx context.Context, obj Objective, opt OptimizeOptions) (Summary, error) {
	var sum Summary
	start := s.opts.Now()

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if opt.NTrials > 0 && sum.Started >= opt.NTrials {
			break
		}
		if opt.Timeout > 0 && s.opts.Now().Sub(start) >= opt.Timeout {
			log.Printf("[STUDY] %s: time budget %s exhausted", s.name, opt.Timeout)
			break
		}

		rec, err := s.RunTrial(ctx, obj)
		if err != nil {
			return sum, err
		}
		sum.Started++
		switch rec.State {
		case trial.StateComplete:
			sum.Complete++
		case trial.StatePruned:
			sum.Pruned++
		case trial.StateFailed:
			sum.Failed++
		}
	}

	log.Printf("[STUDY] %s: finished %d trials (complete=%d pruned=%d failed=%d)",
		s.name, sum.Started, sum.Complete, sum.Pruned, sum.Failed)
	return sum, nil
}

// #endregion optimize

// #region run-trial
// RunTrial executes a single iteration and returns the finalized record.
func (s *Study) RunTrial(ctx context.Context, obj Objective) (trial.Record, error) {
	history, err := s.store.LoadHistory(ctx, s.name)
	if err != nil {
		return trial.Record{}, fmt.Errorf("load history: %w", err)
	}

	rng := rand.New(rand.NewSource(s.opts.Seed + int64(len(history)+1)))
	params, err := s.opts.Sampler.Propose(s.opts.Space, trial.Terminal(history), s.direction, rng)
	if err != nil {
		return trial.Record{}, fmt.Errorf("propose: %w", err)
	}
	if err := s.opts.Space.Validate(params); err != nil {
		return trial.Record{}, fmt.Errorf("reject proposal: %w", err)
	}

	rec, err := s.store.CreateTrial(ctx, s.name, params)
	if err != nil {
		return trial.Record{}, fmt.Errorf("create trial: %w", err)
	}
	paramsJSON, _ := json.Marshal(s.opts.Space.Decode(params))
	log.Printf("[TRIAL] %s #%d started params=%s", s.name, rec.Number, paramsJSON)
	s.event(logging.EventEntry{TrialNumber: rec.Number, Kind: logging.EventCreated, DetailJSON: string(paramsJSON)})

	t := newTrial(s, rec)
	outcome, objErr := evaluate(ctx, obj, t)
	if t.storeErr != nil {
		return trial.Record{}, fmt.Errorf("trial #%d: %w", rec.Number, t.storeErr)
	}

	state, value, reason := s.resolve(t, outcome, objErr)

	// The terminal state is persisted even if ctx was cancelled meanwhile.
	if err := s.store.FinalizeTrial(context.WithoutCancel(ctx), rec.ID, state, value); err != nil {
		if !errors.Is(err, storage.ErrTrialFinished) {
			return trial.Record{}, fmt.Errorf("finalize trial #%d: %w", rec.Number, err)
		}
		// Another process declared the trial stale and failed it.
		log.Printf("[TRIAL] %s #%d was finalized elsewhere: %v", s.name, rec.Number, err)
		state, value, reason = trial.StateFailed, nil, err.Error()
	}

	rec.State = state
	rec.Value = value
	rec.CompletedAt = s.opts.Now()
	s.logOutcome(rec, t.prunedStep, reason)
	return rec, nil
}

// evaluate runs the objective, turning a panic into an error.
func evaluate(ctx context.Context, obj Objective, t *Trial) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("objective panicked: %v", r)
		}
	}()
	return obj.Evaluate(ctx, t)
}

// resolve decides the terminal state. A trial the pruner stopped stays
// PRUNED whatever the objective returns afterwards.
func (s *Study) resolve(t *Trial, out Outcome, objErr error) (trial.State, *float64, string) {
	if t.pruned {
		return trial.StatePruned, t.lastValue(), fmt.Sprintf("pruned at step %d", t.prunedStep)
	}
	if objErr != nil {
		return trial.StateFailed, nil, objErr.Error()
	}
	if t.failErr != nil {
		return trial.StateFailed, nil, t.failErr.Error()
	}
	switch out.State {
	case trial.StateComplete:
		if math.IsNaN(out.Value) || math.IsInf(out.Value, 0) {
			return trial.StateFailed, nil, fmt.Sprintf("objective returned non-finite value %v", out.Value)
		}
		v := out.Value
		return trial.StateComplete, &v, ""
	case trial.StatePruned:
		return trial.StatePruned, t.lastValue(), "stopped by objective"
	}
	return trial.StateFailed, nil, fmt.Sprintf("objective returned invalid state %q", out.State)
}

func (s *Study) logOutcome(rec trial.Record, prunedStep int, reason string) {
	entry := logging.EventEntry{TrialNumber: rec.Number, Reason: reason}
	switch rec.State {
	case trial.StateComplete:
		log.Printf("[TRIAL] %s #%d complete value=%.6f", s.name, rec.Number, *rec.Value)
		entry.Kind = logging.EventCompleted
		entry.DetailJSON = fmt.Sprintf(`{"value":%s}`, jsonFloat(*rec.Value))
	case trial.StatePruned:
		log.Printf("[TRIAL] %s #%d pruned (%s)", s.name, rec.Number, reason)
		entry.Kind = logging.EventPruned
		entry.Step = prunedStep
	default:
		log.Printf("[TRIAL] %s #%d failed: %s", s.name, rec.Number, reason)
		entry.Kind = logging.EventFailed
	}
	s.event(entry)
}

// #endregion run-trial

// #region events
func (s *Study) event(entry logging.EventEntry) {
	if s.opts.Events == nil {
		return
	}
	entry.StudyName = s.name
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.opts.Now().UTC()
	}
	if err := s.opts.Events.Log(entry); err != nil {
		log.Printf("[STUDY] %s: event log: %v", s.name, err)
	}
}

// #endregion events
