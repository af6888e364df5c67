package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/sampler"
	"github.com/danielpatrickdp/hpsearch/internal/space"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tune.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultCampaign(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	dir, err := cfg.Direction()
	require.NoError(t, err)
	assert.Equal(t, trial.Maximize, dir)
	assert.Equal(t, 672*time.Hour, cfg.Study.Timeout)

	sp, err := cfg.BuildSpace()
	require.NoError(t, err)
	assert.Equal(t, 7, sp.Len())
	lrf, ok := sp.Lookup("lrf")
	require.True(t, ok)
	assert.Equal(t, "lr0", lrf.HighRef)
	assert.True(t, lrf.Log)

	s, err := cfg.BuildSampler()
	require.NoError(t, err)
	assert.IsType(t, &sampler.TPE{}, s)

	p, err := cfg.BuildPruner()
	require.NoError(t, err)
	assert.IsType(t, &pruner.Hyperband{}, p)

	ex := cfg.Extractor()
	assert.Equal(t, "metrics/precision(B)", ex.PrecisionKey)
	assert.Equal(t, "metrics/recall(B)", ex.RecallKey)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
study:
  direction: minimize
  timeout: 90m
  n_trials: 12
sampler:
  name: random
pruner:
  name: none
space:
  - {name: epochs, type: int, low: 5, high: 50}
  - {name: optimizer, type: categorical, choices: [SGD, AdamW]}
trainer:
  command: [python, train.py, --data, coco.yaml]
  recall_key: recall
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "minimize", cfg.Study.Direction)
	assert.Equal(t, 90*time.Minute, cfg.Study.Timeout)
	assert.Equal(t, 12, cfg.Study.NTrials)
	assert.Equal(t, []string{"python", "train.py", "--data", "coco.yaml"}, cfg.Trainer.Command)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Pruner.ReductionFactor)

	sp, err := cfg.BuildSpace()
	require.NoError(t, err)
	require.Equal(t, 2, sp.Len())
	opt, _ := sp.Lookup("optimizer")
	assert.Equal(t, []any{"SGD", "AdamW"}, opt.Choices)

	s, err := cfg.BuildSampler()
	require.NoError(t, err)
	assert.Equal(t, sampler.Random{}, s)

	p, err := cfg.BuildPruner()
	require.NoError(t, err)
	assert.Equal(t, pruner.Nop{}, p)

	ex := cfg.Extractor()
	assert.Equal(t, "metrics/precision(B)", ex.PrecisionKey)
	assert.Equal(t, "recall", ex.RecallKey)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "study: [not, a, map]"))
	assert.Error(t, err)
}

func TestBuildSpaceRejectsBadDeclarations(t *testing.T) {
	cfg := Default()
	cfg.Space = []ParamConfig{{Name: "x", Type: "complex"}}
	_, err := cfg.BuildSpace()
	assert.ErrorIs(t, err, space.ErrInvalidSpace)

	cfg.Space = []ParamConfig{
		{Name: "lrf", Type: "float", Low: 1e-4, HighRef: "lr0"},
		{Name: "lr0", Type: "float", Low: 1e-4, High: 0.02},
	}
	_, err = cfg.BuildSpace()
	assert.ErrorIs(t, err, space.ErrInvalidSpace)

	cfg.Space = []ParamConfig{
		{Name: "a", Type: "float", Low: 0, High: 10},
		{Name: "b", Type: "int", Low: 0, High: 10, LowRef: "a"},
	}
	_, err = cfg.BuildSpace()
	assert.ErrorIs(t, err, space.ErrInvalidSpace)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HPSEARCH_SAMPLER", "random")
	t.Setenv("HPSEARCH_PRUNER", "successive_halving")
	t.Setenv("HPSEARCH_TIMEOUT", "2h")
	t.Setenv("HPSEARCH_N_TRIALS", "8")
	t.Setenv("HPSEARCH_SEED", "99")
	t.Setenv("HPSEARCH_TRAIN_CMD", "yolo train model=yolov8n.pt")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "random", cfg.Sampler.Name)
	assert.Equal(t, "successive_halving", cfg.Pruner.Name)
	assert.Equal(t, 2*time.Hour, cfg.Study.Timeout)
	assert.Equal(t, 8, cfg.Study.NTrials)
	assert.Equal(t, int64(99), cfg.Study.Seed)
	assert.Equal(t, []string{"yolo", "train", "model=yolov8n.pt"}, cfg.Trainer.Command)
	assert.Equal(t, "maximize", cfg.Study.Direction)
}

func TestApplyEnvBadValue(t *testing.T) {
	t.Setenv("HPSEARCH_N_TRIALS", "lots")
	cfg := Default()
	assert.Error(t, cfg.ApplyEnv())
}
