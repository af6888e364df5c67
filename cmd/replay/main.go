package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/hpsearch/internal/pruner"
	"github.com/danielpatrickdp/hpsearch/internal/replay"
	"github.com/danielpatrickdp/hpsearch/internal/storage"
	"github.com/danielpatrickdp/hpsearch/internal/trial"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the study store (DB mode)")
	studyName := flag.String("study", "", "study to replay (DB mode)")
	prunerName := flag.String("pruner", pruner.NameHyperband, "pruner to replay with (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	flag.Parse()

	dbMode := *dbPath != "" && *studyName != ""
	if dbMode == (*fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/studies.db --study name [--pruner hyperband]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath)
	} else {
		exitCode = runDBMode(*dbPath, *studyName, *prunerName)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region db-mode

// runDBMode replays a stored study and compares against what actually happened.
func runDBMode(dbPath, studyName, prunerName string) int {
	store, err := storage.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	ctx := context.Background()
	st, err := store.GetStudy(ctx, studyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get study: %v\n", err)
		return 2
	}
	history, err := store.LoadHistory(ctx, studyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load history: %v\n", err)
		return 2
	}
	if len(history) == 0 {
		fmt.Fprintf(os.Stderr, "study %s has no trials\n", studyName)
		return 2
	}

	p, err := pruner.New(prunerName, pruner.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "pruner: %v\n", err)
		return 2
	}

	results := replay.Replay(st.Name, st.Direction, history, p)
	expected := make([]string, len(history))
	for i, rec := range history {
		expected[i] = replay.ExpectedAction(rec)
	}
	code := printComparison(results, expected)

	s := replay.Summarize(results, history, st.Direction)
	fmt.Printf("Steps saved: %d", s.StepsSaved)
	if s.BestStopped {
		fmt.Print(" (best trial would have been stopped)")
	}
	fmt.Println()
	return code
}

// #endregion db-mode

// #region fixture-mode

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	dir, err := trial.ParseDirection(f.Direction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture direction: %v\n", err)
		return 2
	}
	p, err := f.Config.ToPruner()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture pruner: %v\n", err)
		return 2
	}

	results := replay.Replay(f.StudyName, dir, f.ToRecords(), p)

	expected := make([]string, len(f.ExpectedResults))
	for i, e := range f.ExpectedResults {
		expected[i] = e.Action
	}
	return printComparison(results, expected)
}

// #endregion fixture-mode

// #region output

// printComparison outputs a comparison table and returns exit code.
// expected holds the reference actions (from DB or fixture).
func printComparison(results []replay.Result, expected []string) int {
	fmt.Printf("%-8s| %-10s| %-10s| %s\n", "Trial", "Expected", "Replayed", "Match")
	fmt.Printf("%-8s+%-11s+%-11s+%s\n", "--------", "-----------", "-----------", "------")

	matches := 0
	total := len(results)
	if len(expected) < total {
		total = len(expected)
	}

	for i := 0; i < total; i++ {
		exp := expected[i]
		got := results[i].Action
		match := "DIFF"
		if exp == got {
			match = "OK"
			matches++
		}
		fmt.Printf("#%-7d| %-10s| %-10s| %s\n", results[i].Number, exp, got, match)
	}

	diverge := total - matches
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", total, matches, diverge)

	if diverge > 0 {
		return 1
	}
	return 0
}

// #endregion output
