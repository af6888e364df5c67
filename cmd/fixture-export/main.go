package main

import (
	"context"
	"encoding/json"
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
	dbPath := flag.String("db", "", "path to the study store")
	studyName := flag.String("study", "", "study to export")
	last := flag.Int("last", 0, "export only the N most recent trials (0 = all)")
	prunerName := flag.String("pruner", pruner.NameHyperband, "pruner recorded in the fixture config")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *studyName == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/db --study name --out path/to/fixture.json [--last N] [--pruner hyperband]")
		os.Exit(2)
	}

	if err := run(*dbPath, *studyName, *last, *prunerName, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, studyName string, last int, prunerName, outPath string) error {
	store, err := storage.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	st, err := store.GetStudy(ctx, studyName)
	if err != nil {
		return fmt.Errorf("get study: %w", err)
	}
	history, err := store.LoadHistory(ctx, studyName)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	// Only finished trials; a RUNNING trial has no settled outcome to expect.
	finished := make([]trial.Record, 0, len(history))
	for _, rec := range history {
		if rec.State.IsTerminal() {
			finished = append(finished, rec)
		}
	}
	if last > 0 && len(finished) > last {
		finished = finished[len(finished)-last:]
	}
	if len(finished) == 0 {
		return fmt.Errorf("study %s has no finished trials", studyName)
	}

	fmt.Printf("Found %d finished trials\n", len(finished))

	def := pruner.DefaultConfig()
	fixture := replay.BuildFixture(st, finished, replay.FixtureConfig{
		Pruner:          prunerName,
		MinResource:     def.MinResource,
		MaxResource:     def.MaxResource,
		ReductionFactor: def.ReductionFactor,
		MinPeers:        def.MinPeers,
	})
	return writeFixture(fixture, outPath)
}

// #endregion extract

// #region output

func writeFixture(fixture replay.Fixture, outPath string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}

	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	fmt.Printf("Wrote fixture to %s (%d bytes, %d trials)\n", outPath, len(data), len(fixture.Trials))
	return nil
}

// #endregion output
