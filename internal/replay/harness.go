package replay

import (
	"sort"

	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// Replay actions.
const (
	ActionKeep = "keep" // ran to its last recorded step
	ActionStop = "stop" // the pruner would have stopped it
	ActionSkip = "skip" // no intermediate reports to judge
)

// #region types
// Result is what the pruner would have done with one stored trial.
type Result struct {
	Number     int
	Original   trial.State
	Action     string
	Reason     string
	StopStep   int     // set when Action == ActionStop
	StopValue  float64 // set when Action == ActionStop
	LastStep   int     // last step the trial actually reported
	StepsSaved int
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	TotalTrials int
	Kept        int
	Stopped     int
	Skipped     int
	Agreements  int // replayed action matches what happened originally
	StepsSaved  int
	BestStopped bool // the best COMPLETE trial would have been stopped
}

// #endregion types

// #region replay
// Replay re-judges a study's trials in number order, feeding each trial's
// reports to p one at a time. Earlier trials are seen as the replay left
// them: a trial the replay stopped looks PRUNED at its stop step to every
// later trial. Runs entirely in memory.
func Replay(studyName string, dir trial.Direction, history []trial.Record, p pruner.Pruner) []Result {
	ordered := make([]trial.Record, len(history))
	copy(ordered, history)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	replayed := make([]trial.Record, 0, len(ordered))
	results := make([]Result, 0, len(ordered))

	for _, rec := range ordered {
		last, ok := rec.LastReport()
		if !ok {
			results = append(results, Result{
				Number:   rec.Number,
				Original: rec.State,
				Action:   ActionSkip,
				Reason:   "no intermediate reports",
			})
			replayed = append(replayed, rec)
			continue
		}

		self := rec
		self.State = trial.StateRunning
		self.Value = nil
		self.Reports = nil

		res := Result{Number: rec.Number, Original: rec.State, Action: ActionKeep, LastStep: last.Step}
		for _, r := range rec.Reports {
			self.Reports = append(self.Reports, r)
			ev := pruner.Evidence{StudyName: studyName, Direction: dir, Trial: self, Others: replayed}
			if p.Prune(ev, r.Step, r.Value) {
				res.Action = ActionStop
				res.Reason = "pruned at rung"
				res.StopStep = r.Step
				res.StopValue = r.Value
				res.StepsSaved = last.Step - r.Step
				break
			}
		}

		if res.Action == ActionStop {
			v := res.StopValue
			self.State = trial.StatePruned
			self.Value = &v
			replayed = append(replayed, self)
		} else {
			replayed = append(replayed, rec)
		}
		results = append(results, res)
	}
	return results
}

// ExpectedAction maps what originally happened to a trial onto a replay action.
func ExpectedAction(rec trial.Record) string {
	if len(rec.Reports) == 0 {
		return ActionSkip
	}
	if rec.State == trial.StatePruned {
		return ActionStop
	}
	return ActionKeep
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result, history []trial.Record, dir trial.Direction) Summary {
	byNumber := make(map[int]trial.Record, len(history))
	for _, rec := range history {
		byNumber[rec.Number] = rec
	}
	best, hasBest := trial.Best(history, dir)

	s := Summary{TotalTrials: len(results)}
	for _, r := range results {
		switch r.Action {
		case ActionKeep:
			s.Kept++
		case ActionStop:
			s.Stopped++
			s.StepsSaved += r.StepsSaved
			if hasBest && r.Number == best.Number {
				s.BestStopped = true
			}
		case ActionSkip:
			s.Skipped++
		}
		if rec, ok := byNumber[r.Number]; ok && ExpectedAction(rec) == r.Action {
			s.Agreements++
		}
	}
	return s
}

// #endregion replay
