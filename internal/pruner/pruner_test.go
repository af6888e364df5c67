package pruner

import (
	"testing"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

// peer builds a trial that reported value at every step up to last.
func peer(number int, state trial.State, value float64, last int) trial.Record {
	r := trial.Record{Number: number, State: state}
	for s := 1; s <= last; s++ {
		r.Reports = append(r.Reports, trial.Report{Step: s, Value: value})
	}
	if state == trial.StateComplete {
		r.Value = ptr(value)
	}
	return r
}

func TestNewByName(t *testing.T) {
	p, err := New("hyperband", DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &Hyperband{}, p)

	p, err = New("none", DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)

	p, err = New("successive_halving", DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &SuccessiveHalving{}, p)

	_, err = New("median", DefaultConfig())
	assert.Error(t, err)
}

func TestNopNeverPrunes(t *testing.T) {
	assert.False(t, Nop{}.Prune(Evidence{}, 100, -1e9))
}

func TestRungSteps(t *testing.T) {
	sh := NewSuccessiveHalving(DefaultConfig(), 0)
	assert.Equal(t, []int{1, 3, 9, 27}, []int{sh.RungStep(0), sh.RungStep(1), sh.RungStep(2), sh.RungStep(3)})

	sh = NewSuccessiveHalving(Config{MinResource: 2, ReductionFactor: 3}, 1)
	assert.Equal(t, 6, sh.RungStep(0))

	_, ok := sh.rungFor(5)
	assert.False(t, ok)
	r, ok := sh.rungFor(20)
	require.True(t, ok)
	assert.Equal(t, 1, r)
}

func scenarioA() Evidence {
	return Evidence{
		StudyName: "scenario-a",
		Direction: trial.Maximize,
		Trial: trial.Record{Number: 5, State: trial.StateRunning,
			Reports: []trial.Report{{Step: 1, Value: 0.45}, {Step: 3, Value: 0.4}}},
		Others: []trial.Record{
			peer(1, trial.StateComplete, 0.5, 9),
			peer(2, trial.StateComplete, 0.7, 9),
			peer(3, trial.StateComplete, 0.6, 9),
			peer(4, trial.StateRunning, 0.8, 3),
		},
	}
}

func TestSuccessiveHalvingScenarioA(t *testing.T) {
	sh := NewSuccessiveHalving(DefaultConfig(), 0)
	assert.True(t, sh.Prune(scenarioA(), 3, 0.4))
}

func TestHyperbandScenarioA(t *testing.T) {
	// max resource 2 leaves a single bracket, so every trial is a peer.
	hb := NewHyperband(Config{MinResource: 1, MaxResource: 2, ReductionFactor: 3})
	assert.True(t, hb.Prune(scenarioA(), 3, 0.4))
}

func TestTopValueSurvives(t *testing.T) {
	sh := NewSuccessiveHalving(DefaultConfig(), 0)
	ev := scenarioA()
	ev.Trial.Reports[1].Value = 0.9
	assert.False(t, sh.Prune(ev, 3, 0.9))
}

func TestTooFewPeersNeverPrunes(t *testing.T) {
	sh := NewSuccessiveHalving(DefaultConfig(), 0)
	ev := Evidence{
		Direction: trial.Maximize,
		Trial:     trial.Record{Number: 3, Reports: []trial.Report{{Step: 1, Value: 0.01}}},
		Others:    []trial.Record{peer(1, trial.StateComplete, 0.9, 3)},
	}
	assert.False(t, sh.Prune(ev, 1, 0.01))
}

func TestBeforeFirstRungNeverPrunes(t *testing.T) {
	sh := NewSuccessiveHalving(Config{MinResource: 5, ReductionFactor: 3}, 0)
	ev := scenarioA()
	assert.False(t, sh.Prune(ev, 3, 0.0))
}

func TestMinimizeDirection(t *testing.T) {
	sh := NewSuccessiveHalving(DefaultConfig(), 0)
	ev := Evidence{
		Direction: trial.Minimize,
		Trial:     trial.Record{Number: 9, Reports: []trial.Report{{Step: 1, Value: 0.1}}},
		Others: []trial.Record{
			peer(1, trial.StateComplete, 0.5, 3),
			peer(2, trial.StateComplete, 0.6, 3),
			peer(3, trial.StateComplete, 0.7, 3),
		},
	}
	assert.False(t, sh.Prune(ev, 1, 0.1), "lowest loss must survive")
	ev.Trial.Reports[0].Value = 0.9
	assert.True(t, sh.Prune(ev, 1, 0.9))
}

func TestPeersThatStoppedBeforeRungAreIgnored(t *testing.T) {
	sh := NewSuccessiveHalving(DefaultConfig(), 0)
	ev := Evidence{
		Direction: trial.Maximize,
		Trial:     trial.Record{Number: 9, Reports: []trial.Report{{Step: 3, Value: 0.1}}},
		Others: []trial.Record{
			peer(1, trial.StatePruned, 0.9, 1),
			peer(2, trial.StatePruned, 0.9, 2),
			peer(3, trial.StateComplete, 0.9, 3),
		},
	}
	// Only trial 3 reached step 3: two values at the rung, below MinPeers.
	assert.False(t, sh.Prune(ev, 3, 0.1))
}

func TestIdenticalTrialsGetIdenticalDecisions(t *testing.T) {
	sh := NewSuccessiveHalving(DefaultConfig(), 0)
	others := []trial.Record{
		peer(1, trial.StateComplete, 0.5, 9),
		peer(2, trial.StateComplete, 0.7, 9),
		peer(3, trial.StateComplete, 0.6, 9),
	}
	reports := []trial.Report{
		{Step: 1, Value: 0.55}, {Step: 2, Value: 0.58}, {Step: 3, Value: 0.62}, {Step: 4, Value: 0.61}, {Step: 9, Value: 0.65},
	}

	decide := func(number int) []bool {
		var out []bool
		rec := trial.Record{Number: number}
		for _, rep := range reports {
			rec.Reports = append(rec.Reports, rep)
			out = append(out, sh.Prune(Evidence{Direction: trial.Maximize, Trial: rec, Others: others}, rep.Step, rep.Value))
		}
		return out
	}
	assert.Equal(t, decide(10), decide(11))
}

func TestHyperbandBrackets(t *testing.T) {
	hb := NewHyperband(DefaultConfig())
	assert.Equal(t, 1, hb.NumBrackets(1))
	assert.Equal(t, 4, hb.NumBrackets(27))
	assert.Equal(t, 5, hb.NumBrackets(200))

	counts := make([]int, 4)
	for n := 1; n <= 2000; n++ {
		b := hb.BracketOf("study", n, 4)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 4)
		assert.Equal(t, b, hb.BracketOf("study", n, 4), "assignment must be stable")
		counts[b]++
	}
	assert.Greater(t, counts[0], counts[3], "aggressive bracket gets the largest budget")
}

func TestHyperbandAutoMaxResourceWaitsForCompleteTrial(t *testing.T) {
	hb := NewHyperband(DefaultConfig())
	ev := scenarioA()
	for i := range ev.Others {
		ev.Others[i].State = trial.StateRunning
	}
	assert.False(t, hb.Prune(ev, 3, 0.0))
}

func TestHyperbandAutoMaxResourceFixedByFirstCompletion(t *testing.T) {
	hb := NewHyperband(DefaultConfig())
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	long := peer(2, trial.StateComplete, 0.9, 27)
	long.CompletedAt = t0.Add(time.Hour)
	short := peer(1, trial.StateComplete, 0.5, 3)
	short.CompletedAt = t0
	running := peer(3, trial.StateRunning, 0.7, 81)

	before := []trial.Record{short, running}
	after := []trial.Record{long, running, short}
	assert.Equal(t, 3, hb.maxResource(before))
	assert.Equal(t, 3, hb.maxResource(after), "a later, longer completion must not move the max resource")

	n := hb.NumBrackets(hb.maxResource(before))
	assert.Equal(t, n, hb.NumBrackets(hb.maxResource(after)))
	for number := 4; number < 40; number++ {
		assert.Equal(t, hb.BracketOf("study", number, n), hb.BracketOf("study", number, hb.NumBrackets(hb.maxResource(after))))
	}

	// Same completion time: lowest number wins.
	long.CompletedAt = t0
	assert.Equal(t, 3, hb.maxResource([]trial.Record{long, short}))
}
