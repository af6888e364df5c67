package replay

import (
	"testing"

	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// helper: a finished trial reporting the same value at every step.
func flatTrial(number int, state trial.State, value float64, steps ...int) trial.Record {
	rec := trial.Record{Number: number, State: state}
	if state == trial.StateComplete {
		v := value
		rec.Value = &v
	}
	for _, s := range steps {
		rec.Reports = append(rec.Reports, trial.Report{Step: s, Value: value})
	}
	return rec
}

func halving(minPeers int) pruner.Pruner {
	return pruner.NewSuccessiveHalving(pruner.Config{MinResource: 1, ReductionFactor: 3, MinPeers: minPeers}, 0)
}

// 1. A never-pruning pruner keeps every trial that reported.
func TestReplay_NopKeepsEverything(t *testing.T) {
	history := []trial.Record{
		flatTrial(1, trial.StateComplete, 0.5, 1, 3),
		flatTrial(2, trial.StatePruned, 0.1, 1),
		{Number: 3, State: trial.StateFailed},
	}

	results := Replay("s", trial.Maximize, history, pruner.Nop{})

	want := []string{ActionKeep, ActionKeep, ActionSkip}
	for i, r := range results {
		if r.Action != want[i] {
			t.Errorf("trial #%d: expected %s, got %s", r.Number, want[i], r.Action)
		}
	}
}

// 2. Results come back in trial-number order whatever the input order.
func TestReplay_OrdersByNumber(t *testing.T) {
	history := []trial.Record{
		flatTrial(3, trial.StateComplete, 0.3, 1),
		flatTrial(1, trial.StateComplete, 0.1, 1),
		flatTrial(2, trial.StateComplete, 0.2, 1),
	}
	results := Replay("s", trial.Maximize, history, pruner.Nop{})
	for i, r := range results {
		if r.Number != i+1 {
			t.Fatalf("position %d holds trial #%d", i, r.Number)
		}
	}
}

// recordingPruner stops trial numbers at fixed steps and remembers the peers
// each trial was judged against.
type recordingPruner struct {
	stopAt map[int]int
	seen   map[int][]trial.Record
}

func (p *recordingPruner) Prune(ev pruner.Evidence, step int, _ float64) bool {
	p.seen[ev.Trial.Number] = ev.Others
	return p.stopAt[ev.Trial.Number] == step
}

// 3. A stopped trial counts as a short PRUNED peer for later trials.
func TestReplay_StoppedTrialIsShortForLaterPeers(t *testing.T) {
	history := []trial.Record{
		flatTrial(1, trial.StateComplete, 0.9, 1, 3, 9),
		flatTrial(2, trial.StateComplete, 0.4, 1, 3, 9),
		flatTrial(3, trial.StateComplete, 0.6, 1, 3, 9),
	}
	p := &recordingPruner{stopAt: map[int]int{2: 3}, seen: map[int][]trial.Record{}}

	results := Replay("s", trial.Maximize, history, p)

	if results[1].Action != ActionStop || results[1].StopStep != 3 || results[1].StepsSaved != 6 {
		t.Fatalf("expected trial #2 stopped at 3 saving 6 steps, got %+v", results[1])
	}
	peers := p.seen[3]
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers for trial #3, got %d", len(peers))
	}
	short := peers[1]
	if short.State != trial.StatePruned || len(short.Reports) != 2 || short.Value == nil || *short.Value != 0.4 {
		t.Fatalf("expected trial #2 to look PRUNED at step 3, got %+v", short)
	}
	if peers[0].State != trial.StateComplete || len(peers[0].Reports) != 3 {
		t.Fatalf("expected trial #1 untouched, got %+v", peers[0])
	}
}

// 4. Minimize direction flips which trials survive.
func TestReplay_Minimize(t *testing.T) {
	history := []trial.Record{
		flatTrial(1, trial.StateComplete, 0.1, 1),
		flatTrial(2, trial.StateComplete, 0.2, 1),
		flatTrial(3, trial.StateComplete, 0.05, 1),
	}
	results := Replay("s", trial.Minimize, history, halving(3))
	if results[2].Action != ActionKeep {
		t.Fatalf("expected lowest value kept when minimizing, got %+v", results[2])
	}
}

// 5. Summarize counts actions, agreements and saved steps.
func TestSummarize(t *testing.T) {
	history := []trial.Record{
		flatTrial(1, trial.StateComplete, 0.9, 1, 3),
		flatTrial(2, trial.StateComplete, 0.8, 1, 3),
		flatTrial(3, trial.StatePruned, 0.1, 1),
		flatTrial(4, trial.StateComplete, 0.2, 1, 3),
		{Number: 5, State: trial.StateFailed},
	}
	results := Replay("s", trial.Maximize, history, halving(3))
	s := Summarize(results, history, trial.Maximize)

	if s.TotalTrials != 5 || s.Kept != 2 || s.Stopped != 2 || s.Skipped != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	// #4 was COMPLETE originally but is stopped in replay.
	if s.Agreements != 4 {
		t.Errorf("expected 4 agreements, got %d", s.Agreements)
	}
	if s.StepsSaved != 2 {
		t.Errorf("expected 2 steps saved, got %d", s.StepsSaved)
	}
	if s.BestStopped {
		t.Error("best trial should survive")
	}
}

func TestExpectedAction(t *testing.T) {
	cases := []struct {
		rec  trial.Record
		want string
	}{
		{trial.Record{State: trial.StateFailed}, ActionSkip},
		{flatTrial(1, trial.StatePruned, 0.1, 1), ActionStop},
		{flatTrial(1, trial.StateComplete, 0.1, 1), ActionKeep},
		{flatTrial(1, trial.StateFailed, 0.1, 1, 2), ActionKeep},
	}
	for _, c := range cases {
		if got := ExpectedAction(c.rec); got != c.want {
			t.Errorf("ExpectedAction(%s, %d reports) = %s, want %s", c.rec.State, len(c.rec.Reports), got, c.want)
		}
	}
}
