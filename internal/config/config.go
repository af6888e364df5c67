package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/objective"
	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/sampler"
	"github.com/danielpatrickdp/hpsearch/internal/space"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
	"gopkg.in/yaml.v3"
)

// #region types
// Config is the full tuning setup, usually read from a YAML file.
type Config struct {
	Study   StudyConfig   `yaml:"study"`
	Sampler SamplerConfig `yaml:"sampler"`
	Pruner  PrunerConfig  `yaml:"pruner"`
	Space   []ParamConfig `yaml:"space"`
	Trainer TrainerConfig `yaml:"trainer"`
}

type StudyConfig struct {
	Direction  string        `yaml:"direction"`
	Timeout    time.Duration `yaml:"timeout"`
	NTrials    int           `yaml:"n_trials"`
	Seed       int64         `yaml:"seed"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type SamplerConfig struct {
	Name           string  `yaml:"name"`
	NStartupTrials int     `yaml:"n_startup_trials"`
	NEICandidates  int     `yaml:"n_ei_candidates"`
	PriorWeight    float64 `yaml:"prior_weight"`
}

type PrunerConfig struct {
	Name            string `yaml:"name"`
	MinResource     int    `yaml:"min_resource"`
	MaxResource     int    `yaml:"max_resource"` // 0 = auto
	ReductionFactor int    `yaml:"reduction_factor"`
	MinPeers        int    `yaml:"min_peers"`
}

// ParamConfig declares one search-space parameter.
type ParamConfig struct {
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"` // float | int | categorical
	Low     float64 `yaml:"low"`
	High    float64 `yaml:"high"`
	Log     bool    `yaml:"log"`
	LowRef  string  `yaml:"low_ref"`
	HighRef string  `yaml:"high_ref"`
	Choices []any   `yaml:"choices"`
}

type TrainerConfig struct {
	Command      []string `yaml:"command"`
	Dir          string   `yaml:"dir"`
	Env          []string `yaml:"env"`
	BridgeAddr   string   `yaml:"bridge_addr"`
	PrecisionKey string   `yaml:"precision_key"`
	RecallKey    string   `yaml:"recall_key"`
}

// #endregion types

// #region defaults
// Default returns the YOLO fine-tuning campaign: four weeks, TPE with
// Hyperband, maximizing the F1 of box precision and recall.
func Default() Config {
	return Config{
		Study: StudyConfig{
			Direction: string(trial.Maximize),
			Timeout:   4 * 7 * 24 * time.Hour,
		},
		Sampler: SamplerConfig{Name: sampler.NameTPE},
		Pruner: PrunerConfig{
			Name:            pruner.NameHyperband,
			MinResource:     1,
			ReductionFactor: 3,
		},
		Space: []ParamConfig{
			{Name: "imgsz", Type: "categorical", Choices: []any{96}},
			{Name: "label_smoothing", Type: "float", Low: 0, High: 0.3},
			{Name: "dropout", Type: "float", Low: 0, High: 0.8},
			{Name: "lr0", Type: "float", Low: 1e-4, High: 0.02, Log: true},
			{Name: "lrf", Type: "float", Low: 1e-4, HighRef: "lr0", Log: true},
			{Name: "momentum", Type: "float", Low: 0.8, High: 0.999},
			{Name: "weight_decay", Type: "float", Low: 0, High: 0.001},
		},
		Trainer: TrainerConfig{
			BridgeAddr:   "127.0.0.1:0",
			PrecisionKey: objective.DefaultPrecisionKey,
			RecallKey:    objective.DefaultRecallKey,
		},
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from HPSEARCH_* environment variables.
func (c *Config) ApplyEnv() error {
	c.Study.Direction = envOr("HPSEARCH_DIRECTION", c.Study.Direction)
	c.Sampler.Name = envOr("HPSEARCH_SAMPLER", c.Sampler.Name)
	c.Pruner.Name = envOr("HPSEARCH_PRUNER", c.Pruner.Name)
	c.Trainer.BridgeAddr = envOr("HPSEARCH_BRIDGE_ADDR", c.Trainer.BridgeAddr)

	if v := os.Getenv("HPSEARCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HPSEARCH_TIMEOUT: %w", err)
		}
		c.Study.Timeout = d
	}
	if v := os.Getenv("HPSEARCH_N_TRIALS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HPSEARCH_N_TRIALS: %w", err)
		}
		c.Study.NTrials = n
	}
	if v := os.Getenv("HPSEARCH_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("HPSEARCH_SEED: %w", err)
		}
		c.Study.Seed = n
	}
	if v := os.Getenv("HPSEARCH_TRAIN_CMD"); v != "" {
		c.Trainer.Command = strings.Fields(v)
	}
	return nil
}

// #endregion load

// #region build
// Direction parses the study direction.
func (c *Config) Direction() (trial.Direction, error) {
	return trial.ParseDirection(c.Study.Direction)
}

// BuildSpace declares the parameters in file order; refs must point backwards.
func (c *Config) BuildSpace() (*space.Space, error) {
	params := make([]space.Param, 0, len(c.Space))
	for _, pc := range c.Space {
		var p space.Param
		switch space.Kind(pc.Type) {
		case space.KindFloat:
			p = space.Float(pc.Name, pc.Low, pc.High)
		case space.KindInt:
			p = space.Int(pc.Name, int(pc.Low), int(pc.High))
		case space.KindCategorical:
			p = space.Categorical(pc.Name, pc.Choices...)
		default:
			return nil, fmt.Errorf("%w: parameter %q has unknown type %q", space.ErrInvalidSpace, pc.Name, pc.Type)
		}
		if pc.Log {
			p = p.WithLog()
		}
		if pc.LowRef != "" {
			p = p.WithLowRef(pc.LowRef)
		}
		if pc.HighRef != "" {
			p = p.WithHighRef(pc.HighRef)
		}
		params = append(params, p)
	}
	return space.New(params...)
}

// BuildSampler creates the configured sampler.
func (c *Config) BuildSampler() (sampler.Sampler, error) {
	tpe := sampler.DefaultTPEConfig()
	if c.Sampler.NStartupTrials > 0 {
		tpe.NStartupTrials = c.Sampler.NStartupTrials
	}
	if c.Sampler.NEICandidates > 0 {
		tpe.NEICandidates = c.Sampler.NEICandidates
	}
	if c.Sampler.PriorWeight > 0 {
		tpe.PriorWeight = c.Sampler.PriorWeight
	}
	return sampler.New(c.Sampler.Name, tpe)
}

// BuildPruner creates the configured pruner.
func (c *Config) BuildPruner() (pruner.Pruner, error) {
	return pruner.New(c.Pruner.Name, pruner.Config{
		MinResource:     c.Pruner.MinResource,
		MaxResource:     c.Pruner.MaxResource,
		ReductionFactor: c.Pruner.ReductionFactor,
		MinPeers:        c.Pruner.MinPeers,
	})
}

// Extractor returns the metric extractor for the trainer's metric names.
func (c *Config) Extractor() objective.KeyExtractor {
	ex := objective.DefaultExtractor()
	if c.Trainer.PrecisionKey != "" {
		ex.PrecisionKey = c.Trainer.PrecisionKey
	}
	if c.Trainer.RecallKey != "" {
		ex.RecallKey = c.Trainer.RecallKey
	}
	return ex
}

// #endregion build

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
