package objective

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/sampler"
	"github.com/danielpatrickdp/hpsearch/internal/space"
	"github.com/danielpatrickdp/hpsearch/internal/storage"
	"github.com/danielpatrickdp/hpsearch/internal/study"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
func metrics(p, r float64) Metrics {
	return Metrics{DefaultPrecisionKey: p, DefaultRecallKey: r, "metrics/mAP50(B)": 0.1}
}

// pruneFrom stops every trial once it reports at or after step.
type pruneFrom struct{ step int }

func (p pruneFrom) Prune(_ pruner.Evidence, step int, _ float64) bool { return step >= p.step }

func newStudy(t *testing.T, pr pruner.Pruner) (*study.Study, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "study.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sp, err := space.New(space.Float("lr0", 1e-4, 0.02).WithLog(), space.Categorical("imgsz", 96))
	require.NoError(t, err)
	s, err := study.Load(context.Background(), store, "yolo", trial.Maximize, study.Options{
		Space:   sp,
		Sampler: sampler.Random{},
		Pruner:  pr,
		Seed:    7,
	})
	require.NoError(t, err)
	return s, store
}

func epochTrainer(epochs int, final Metrics, trainErr error) TrainerFunc {
	return func(ctx context.Context, run Run, obs EpochObserver) (Metrics, error) {
		for e := 1; e <= epochs; e++ {
			switch obs.OnEpochEnd(e, metrics(0.2*float64(e), 0.1*float64(e))) {
			case study.VerdictPrune:
				return nil, errStopped
			case study.VerdictFail:
				return nil, errors.New("report rejected")
			}
		}
		return final, trainErr
	}
}

// #endregion helpers

// #region score-tests
func TestF1(t *testing.T) {
	// precision 0.8, recall 0.6
	assert.InDelta(t, 0.6857142857, F1(0.8, 0.6), 1e-9)
	// precision 0, recall 0
	assert.Equal(t, 0.0, F1(0, 0))
	assert.Equal(t, 1.0, F1(1, 1))
	assert.Equal(t, 0.0, F1(0, 0.7))

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		p, r := rng.Float64(), rng.Float64()
		f := F1(p, r)
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
}

func TestKeyExtractor(t *testing.T) {
	score, err := Score(DefaultExtractor(), metrics(0.8, 0.6))
	require.NoError(t, err)
	assert.InDelta(t, 0.6857, score, 1e-4)

	_, err = Score(DefaultExtractor(), Metrics{DefaultPrecisionKey: 0.5})
	assert.ErrorIs(t, err, ErrMissingMetric)

	custom := KeyExtractor{PrecisionKey: "p", RecallKey: "r"}
	score, err = Score(custom, Metrics{"p": 0, "r": 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

// #endregion score-tests

// #region adapter-tests
func TestAdapterCompletesWithFinalScore(t *testing.T) {
	s, store := newStudy(t, pruner.Nop{})
	a := &Adapter{Trainer: epochTrainer(3, metrics(0.8, 0.6), nil)}

	rec, err := s.RunTrial(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, trial.StateComplete, rec.State)
	require.NotNil(t, rec.Value)
	assert.InDelta(t, 0.6857, *rec.Value, 1e-4)

	stored, err := store.GetTrial(context.Background(), "yolo", rec.Number)
	require.NoError(t, err)
	require.Len(t, stored.Reports, 3)
	assert.Equal(t, 3, stored.Reports[2].Step)
	assert.InDelta(t, F1(0.6, 0.3), stored.Reports[2].Value, 1e-12)
}

func TestAdapterPrunedTrial(t *testing.T) {
	s, _ := newStudy(t, pruneFrom{step: 2})
	a := &Adapter{Trainer: epochTrainer(5, metrics(0.9, 0.9), nil)}

	rec, err := s.RunTrial(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, trial.StatePruned, rec.State)
	require.NotNil(t, rec.Value)
	assert.InDelta(t, F1(0.4, 0.2), *rec.Value, 1e-12)
}

func TestAdapterTrainerErrorFailsTrial(t *testing.T) {
	s, _ := newStudy(t, pruner.Nop{})
	a := &Adapter{Trainer: epochTrainer(1, nil, errors.New("dataset not found"))}

	rec, err := s.RunTrial(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, trial.StateFailed, rec.State)
}

func TestAdapterMissingMetricFailsTrial(t *testing.T) {
	s, _ := newStudy(t, pruner.Nop{})
	trainer := TrainerFunc(func(ctx context.Context, run Run, obs EpochObserver) (Metrics, error) {
		v := obs.OnEpochEnd(1, Metrics{"loss": 1.2})
		assert.Equal(t, study.VerdictFail, v)
		return metrics(0.5, 0.5), nil
	})

	rec, err := s.RunTrial(context.Background(), &Adapter{Trainer: trainer})
	require.NoError(t, err)
	assert.Equal(t, trial.StateFailed, rec.State)
}

func TestAdapterPassesRunIdentity(t *testing.T) {
	s, _ := newStudy(t, pruner.Nop{})
	var got Run
	trainer := TrainerFunc(func(ctx context.Context, run Run, obs EpochObserver) (Metrics, error) {
		got = run
		return metrics(0.5, 0.5), nil
	})

	rec, err := s.RunTrial(context.Background(), &Adapter{Trainer: trainer})
	require.NoError(t, err)
	assert.Equal(t, "yolo", got.StudyName)
	assert.Equal(t, rec.Number, got.Number)
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, 96, got.Params["imgsz"])
	assert.IsType(t, float64(0), got.Params["lr0"])
}

// #endregion adapter-tests

// #region command-trainer-tests
type fakeSession struct {
	pruned chan struct{}
	final  Metrics
}

func (f *fakeSession) Pruned() <-chan struct{} { return f.pruned }
func (f *fakeSession) Final() (Metrics, bool)  { return f.final, f.final != nil }
func (f *fakeSession) Close()                  {}

type fakeReporter struct {
	sess   *fakeSession
	opened []string
}

func (f *fakeReporter) Addr() string { return "127.0.0.1:0" }

func (f *fakeReporter) Open(runID string, obs EpochObserver) ReportSession {
	f.opened = append(f.opened, runID)
	return f.sess
}

func helperTrainer(mode string, rep Reporter) *CommandTrainer {
	return &CommandTrainer{
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		Reports: rep,
	}
}

var helperRun = Run{StudyName: "yolo", Number: 4, RunID: "run-4", Params: map[string]any{"lr0": 0.01}}

func TestCommandTrainerSuccess(t *testing.T) {
	rep := &fakeReporter{sess: &fakeSession{pruned: make(chan struct{}), final: metrics(0.8, 0.6)}}

	final, err := helperTrainer("ok", rep).Train(context.Background(), helperRun, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.8, final[DefaultPrecisionKey])
	assert.Equal(t, []string{"run-4"}, rep.opened)
}

func TestCommandTrainerNonZeroExit(t *testing.T) {
	rep := &fakeReporter{sess: &fakeSession{pruned: make(chan struct{}), final: metrics(0.8, 0.6)}}

	_, err := helperTrainer("fail", rep).Train(context.Background(), helperRun, nil)
	assert.Error(t, err)
}

func TestCommandTrainerMissingFinalReport(t *testing.T) {
	rep := &fakeReporter{sess: &fakeSession{pruned: make(chan struct{})}}

	_, err := helperTrainer("ok", rep).Train(context.Background(), helperRun, nil)
	assert.Error(t, err)
}

func TestCommandTrainerKilledOnPrune(t *testing.T) {
	pruned := make(chan struct{})
	close(pruned)
	rep := &fakeReporter{sess: &fakeSession{pruned: pruned}}

	start := time.Now()
	_, err := helperTrainer("sleep", rep).Train(context.Background(), helperRun, nil)
	assert.ErrorIs(t, err, errStopped)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCommandTrainerNoCommand(t *testing.T) {
	_, err := (&CommandTrainer{}).Train(context.Background(), helperRun, nil)
	assert.Error(t, err)
}

// TestHelperProcess is the training command started by the tests above.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "ok":
		var params map[string]any
		if err := json.Unmarshal([]byte(os.Getenv(EnvParams)), &params); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(3)
		}
		if os.Getenv(EnvRunID) != "run-4" || os.Getenv(EnvTrialNumber) != "4" ||
			os.Getenv(EnvStudy) != "yolo" || os.Getenv(EnvReportAddr) == "" || params["lr0"] != 0.01 {
			os.Exit(3)
		}
		os.Exit(0)
	case "sleep":
		time.Sleep(60 * time.Second)
		os.Exit(0)
	default:
		os.Exit(2)
	}
}

// #endregion command-trainer-tests
