package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/hpsearch/internal/logging"
	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/replay"
	"github.com/danielpatrickdp/hpsearch/internal/storage"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the study store")
	studyName := flag.String("study", "", "show one study's trials")
	number := flag.Int("trial", 0, "show single trial detail")
	replayPruner := flag.String("replay-pruner", "", "replay the study with a pruner (hyperband|successive_halving|none)")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" || (*studyName == "" && (*number != 0 || *replayPruner != "")) {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/studies.db [--study name [--trial N | --replay-pruner hyperband]] [--json]")
		os.Exit(2)
	}

	store, err := storage.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	switch {
	case *studyName == "":
		err = runStudiesMode(ctx, store, *jsonOut)
	case *number != 0:
		err = runDetailMode(ctx, store, *studyName, *number, *jsonOut)
	case *replayPruner != "":
		err = runReplayMode(ctx, store, *studyName, *replayPruner, *jsonOut)
	default:
		err = runListMode(ctx, store, *studyName, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region studies-mode

type studyRow struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Running   int    `json:"running"`
	Complete  int    `json:"complete"`
	Pruned    int    `json:"pruned"`
	Failed    int    `json:"failed"`
	CreatedAt string `json:"created_at"`
}

func runStudiesMode(ctx context.Context, store *storage.Store, jsonOut bool) error {
	summaries, err := store.ListStudies(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stderr, "no studies found")
		return nil
	}

	rows := make([]studyRow, len(summaries))
	for i, s := range summaries {
		rows[i] = studyRow{
			Name:      s.Name,
			Direction: string(s.Direction),
			Running:   s.Counts[trial.StateRunning],
			Complete:  s.Counts[trial.StateComplete],
			Pruned:    s.Counts[trial.StatePruned],
			Failed:    s.Counts[trial.StateFailed],
			CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-24s  %-9s  %7s  %8s  %6s  %6s  %s\n",
		"Study", "Direction", "Running", "Complete", "Pruned", "Failed", "Created")
	fmt.Printf("%-24s+-%-9s+-%7s+-%8s+-%6s+-%6s+-%s\n",
		"------------------------", "---------", "-------", "--------", "------", "------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-24s  %-9s  %7d  %8d  %6d  %6d  %s\n",
			r.Name, r.Direction, r.Running, r.Complete, r.Pruned, r.Failed, r.CreatedAt)
	}
	return nil
}

// #endregion studies-mode

// #region list-mode

type listRow struct {
	Number    int                `json:"number"`
	State     string             `json:"state"`
	Value     *float64           `json:"value,omitempty"`
	LastStep  int                `json:"last_step"`
	Params    map[string]float64 `json:"params"`
	StartedAt string             `json:"started_at"`
	Best      bool               `json:"best,omitempty"`
}

func runListMode(ctx context.Context, store *storage.Store, studyName string, jsonOut bool) error {
	st, err := store.GetStudy(ctx, studyName)
	if err != nil {
		return err
	}
	history, err := store.LoadHistory(ctx, studyName)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(os.Stderr, "no trials found")
		return nil
	}
	best, hasBest := trial.Best(history, st.Direction)

	rows := make([]listRow, len(history))
	for i, r := range history {
		lr := listRow{
			Number:    r.Number,
			State:     string(r.State),
			Value:     r.Value,
			Params:    r.Params,
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
			Best:      hasBest && r.Number == best.Number,
		}
		if last, ok := r.LastReport(); ok {
			lr.LastStep = last.Step
		}
		rows[i] = lr
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("Study %s (%s)\n\n", st.Name, st.Direction)
	fmt.Printf("%-6s  %-8s  %10s  %5s  %-20s  %s\n", "Trial", "State", "Value", "Step", "Started", "Params")
	fmt.Printf("%-6s+-%-8s+-%10s+-%5s+-%-20s+-%s\n",
		"------", "--------", "----------", "-----", "--------------------", "--------------------")
	for _, r := range rows {
		marker := " "
		if r.Best {
			marker = "*"
		}
		fmt.Printf("%s%-5d  %-8s  %10s  %5d  %-20s  %s\n",
			marker, r.Number, r.State, formatValue(r.Value), r.LastStep, r.StartedAt, formatParams(r.Params))
	}
	if hasBest {
		fmt.Printf("\n* best trial #%d value=%.6f\n", best.Number, *best.Value)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Number      int                `json:"number"`
	RunID       string             `json:"run_id"`
	State       string             `json:"state"`
	Value       *float64           `json:"value,omitempty"`
	Params      map[string]float64 `json:"params"`
	Reports     []reportRow        `json:"reports"`
	Events      []eventRow         `json:"events"`
	StartedAt   string             `json:"started_at"`
	CompletedAt string             `json:"completed_at,omitempty"`
}

type reportRow struct {
	Step  int      `json:"step"`
	Value *float64 `json:"value"`
}

type eventRow struct {
	Kind   string `json:"kind"`
	Step   int    `json:"step,omitempty"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
	At     string `json:"at"`
}

func runDetailMode(ctx context.Context, store *storage.Store, studyName string, number int, jsonOut bool) error {
	rec, err := store.GetTrial(ctx, studyName, number)
	if err != nil {
		return err
	}
	entries, err := logging.ListEvents(store.DB(), studyName, number)
	if err != nil {
		// Stores written without an event log have no trial_events table.
		entries = nil
	}

	out := detailOutput{
		Number:    rec.Number,
		RunID:     rec.RunID,
		State:     string(rec.State),
		Value:     rec.Value,
		Params:    rec.Params,
		StartedAt: rec.StartedAt.Format("2006-01-02T15:04:05Z"),
	}
	if !rec.CompletedAt.IsZero() {
		out.CompletedAt = rec.CompletedAt.Format("2006-01-02T15:04:05Z")
	}
	for _, r := range rec.Reports {
		row := reportRow{Step: r.Step}
		if !math.IsNaN(r.Value) {
			v := r.Value
			row.Value = &v
		}
		out.Reports = append(out.Reports, row)
	}
	for _, e := range entries {
		out.Events = append(out.Events, eventRow{
			Kind:   string(e.Kind),
			Step:   e.Step,
			Detail: e.DetailJSON,
			Reason: e.Reason,
			At:     e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Trial:     #%d\n", out.Number)
	fmt.Printf("Run ID:    %s\n", out.RunID)
	fmt.Printf("State:     %s\n", out.State)
	fmt.Printf("Value:     %s\n", formatValue(out.Value))
	fmt.Printf("Started:   %s\n", out.StartedAt)
	fmt.Printf("Completed: %s\n", out.CompletedAt)
	fmt.Printf("Params:    %s\n", formatParams(out.Params))

	fmt.Printf("\nIntermediate values:\n")
	for _, r := range out.Reports {
		fmt.Printf("  step %-5d %s\n", r.Step, formatValue(r.Value))
	}

	if len(out.Events) > 0 {
		fmt.Printf("\nEvents:\n")
		for _, e := range out.Events {
			fmt.Printf("  %s  %-9s step=%-4d %s %s\n", e.At, e.Kind, e.Step, e.Detail, e.Reason)
		}
	}
	return nil
}

// #endregion detail-mode

// #region replay-mode

type replayRow struct {
	Number     int    `json:"number"`
	Original   string `json:"original"`
	Action     string `json:"action"`
	StopStep   int    `json:"stop_step,omitempty"`
	StepsSaved int    `json:"steps_saved,omitempty"`
}

func runReplayMode(ctx context.Context, store *storage.Store, studyName, prunerName string, jsonOut bool) error {
	st, err := store.GetStudy(ctx, studyName)
	if err != nil {
		return err
	}
	history, err := store.LoadHistory(ctx, studyName)
	if err != nil {
		return err
	}
	p, err := pruner.New(prunerName, pruner.DefaultConfig())
	if err != nil {
		return err
	}

	results := replay.Replay(st.Name, st.Direction, history, p)
	summary := replay.Summarize(results, history, st.Direction)

	rows := make([]replayRow, len(results))
	for i, r := range results {
		rows[i] = replayRow{
			Number:     r.Number,
			Original:   string(r.Original),
			Action:     r.Action,
			StopStep:   r.StopStep,
			StepsSaved: r.StepsSaved,
		}
	}
	if jsonOut {
		return printJSON(map[string]interface{}{"results": rows, "summary": summary})
	}

	fmt.Printf("%-6s| %-9s| %-7s| %s\n", "Trial", "Original", "Replay", "Stop step")
	fmt.Printf("%-6s+%-10s+%-8s+%s\n", "------", "----------", "--------", "----------")
	for _, r := range rows {
		stop := "—"
		if r.Action == replay.ActionStop {
			stop = fmt.Sprintf("%d (-%d)", r.StopStep, r.StepsSaved)
		}
		fmt.Printf("%-6d| %-9s| %-7s| %s\n", r.Number, r.Original, r.Action, stop)
	}
	fmt.Printf("\nSummary: %d trials, %d kept, %d stopped, %d skipped, %d agree, %d steps saved\n",
		summary.TotalTrials, summary.Kept, summary.Stopped, summary.Skipped, summary.Agreements, summary.StepsSaved)
	if summary.BestStopped {
		fmt.Println("Warning: the best trial would have been stopped")
	}
	return nil
}

// #endregion replay-mode

// #region output

func formatValue(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%.6f", *v)
}

func formatParams(p map[string]float64) string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.4g", name, p[name])
	}
	return strings.Join(parts, " ")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// #endregion output
