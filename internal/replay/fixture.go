package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region fixture-types

// Fixture is a self-contained study history for replaying a pruner offline.
type Fixture struct {
	Description     string                  `json:"description"`
	StudyName       string                  `json:"study_name"`
	Direction       string                  `json:"direction"`
	Config          FixtureConfig           `json:"config"`
	Trials          []FixtureTrial          `json:"trials"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig selects the pruner to replay with.
type FixtureConfig struct {
	Pruner          string `json:"pruner"`
	MinResource     int    `json:"min_resource"`
	MaxResource     int    `json:"max_resource"`
	ReductionFactor int    `json:"reduction_factor"`
	MinPeers        int    `json:"min_peers"`
}

// FixtureTrial mirrors trial.Record with JSON tags.
type FixtureTrial struct {
	Number  int             `json:"number"`
	State   string          `json:"state"`
	Value   *float64        `json:"value,omitempty"`
	Params  trial.Params    `json:"params,omitempty"`
	Reports []FixtureReport `json:"reports"`
}

// FixtureReport is one intermediate value.
type FixtureReport struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// FixtureExpectedResult captures the expected action per trial.
type FixtureExpectedResult struct {
	Number int    `json:"number"`
	Action string `json:"action"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToRecords converts the fixture trials to domain records.
func (f *Fixture) ToRecords() []trial.Record {
	out := make([]trial.Record, len(f.Trials))
	for i, ft := range f.Trials {
		rec := trial.Record{
			StudyName: f.StudyName,
			Number:    ft.Number,
			State:     trial.State(ft.State),
			Value:     ft.Value,
			Params:    ft.Params,
		}
		for _, r := range ft.Reports {
			rec.Reports = append(rec.Reports, trial.Report{Step: r.Step, Value: r.Value})
		}
		out[i] = rec
	}
	return out
}

// ToPruner builds the configured pruner.
func (fc *FixtureConfig) ToPruner() (pruner.Pruner, error) {
	return pruner.New(fc.Pruner, pruner.Config{
		MinResource:     fc.MinResource,
		MaxResource:     fc.MaxResource,
		ReductionFactor: fc.ReductionFactor,
		MinPeers:        fc.MinPeers,
	})
}

// #endregion fixture-loader

// #region fixture-builder

// BuildFixture captures a stored study as a fixture. Expected actions are what
// originally happened to each trial.
func BuildFixture(st trial.Study, history []trial.Record, cfg FixtureConfig) Fixture {
	f := Fixture{
		Description: fmt.Sprintf("Export of study %q: %d trials", st.Name, len(history)),
		StudyName:   st.Name,
		Direction:   string(st.Direction),
		Config:      cfg,
	}
	for _, rec := range history {
		ft := FixtureTrial{
			Number:  rec.Number,
			State:   string(rec.State),
			Value:   rec.Value,
			Params:  rec.Params,
			Reports: make([]FixtureReport, 0, len(rec.Reports)),
		}
		for _, r := range rec.Reports {
			// NaN has no JSON form.
			if math.IsNaN(r.Value) {
				continue
			}
			ft.Reports = append(ft.Reports, FixtureReport{Step: r.Step, Value: r.Value})
		}
		f.Trials = append(f.Trials, ft)
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			Number: rec.Number,
			Action: ExpectedAction(rec),
		})
	}
	return f
}

// #endregion fixture-builder
