package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region fixture-tests

// TestFixture_ScenarioA replays the scenario_a fixture and compares each
// trial's action against the expected one. Catches drift in rung placement
// and the keep/stop cutoff.
func TestFixture_ScenarioA(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "scenario_a.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	p, err := f.Config.ToPruner()
	if err != nil {
		t.Fatalf("ToPruner: %v", err)
	}
	dir, err := trial.ParseDirection(f.Direction)
	if err != nil {
		t.Fatalf("ParseDirection: %v", err)
	}

	results := Replay(f.StudyName, dir, f.ToRecords(), p)

	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}
	for i, expected := range f.ExpectedResults {
		actual := results[i]
		if actual.Number != expected.Number {
			t.Errorf("result %d: expected trial #%d, got #%d", i, expected.Number, actual.Number)
		}
		if actual.Action != expected.Action {
			t.Errorf("trial #%d: expected action=%s, got action=%s (reason: %s)",
				expected.Number, expected.Action, actual.Action, actual.Reason)
		}
	}
	if results[4].StopStep != 1 || results[4].StopValue != 0.45 {
		t.Errorf("expected trial #5 stopped at step 1 with 0.45, got step %d value %v",
			results[4].StopStep, results[4].StopValue)
	}
}

// TestBuildFixture_RoundTrip exports records, writes them and replays the result.
func TestBuildFixture_RoundTrip(t *testing.T) {
	src, err := LoadFixture(filepath.Join("testdata", "scenario_a.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	st := trial.Study{Name: "exported", Direction: trial.Maximize}
	built := BuildFixture(st, src.ToRecords(), src.Config)

	if built.StudyName != "exported" || built.Direction != "maximize" {
		t.Fatalf("unexpected header: %+v", built)
	}
	for i, e := range built.ExpectedResults {
		if e != src.ExpectedResults[i] {
			t.Errorf("expected result %d: got %+v, want %+v", i, e, src.ExpectedResults[i])
		}
	}

	data, err := json.Marshal(built)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "export.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if len(loaded.Trials) != 6 || len(loaded.Trials[1].Reports) != 2 {
		t.Fatalf("trials lost in export: %+v", loaded.Trials)
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestFixtureConfig_UnknownPruner(t *testing.T) {
	fc := FixtureConfig{Pruner: "median"}
	if _, err := fc.ToPruner(); err == nil {
		t.Fatal("expected error for unknown pruner")
	}
}

// #endregion fixture-tests
