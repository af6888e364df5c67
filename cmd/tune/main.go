package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/bridge"
	"github.com/danielpatrickdp/hpsearch/internal/config"
	"github.com/danielpatrickdp/hpsearch/internal/logging"
	"github.com/danielpatrickdp/hpsearch/internal/objective"
	"github.com/danielpatrickdp/hpsearch/internal/storage"
	"github.com/danielpatrickdp/hpsearch/internal/study"
)

// #region main
func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	cfg, err := opts.config()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if len(cfg.Trainer.Command) == 0 {
		log.Fatalf("no training command configured (trainer.command or HPSEARCH_TRAIN_CMD)")
	}

	sp, err := cfg.BuildSpace()
	if err != nil {
		log.Fatalf("search space: %v", err)
	}
	smp, err := cfg.BuildSampler()
	if err != nil {
		log.Fatalf("sampler: %v", err)
	}
	pr, err := cfg.BuildPruner()
	if err != nil {
		log.Fatalf("pruner: %v", err)
	}
	dir, err := cfg.Direction()
	if err != nil {
		log.Fatalf("direction: %v", err)
	}

	store, err := storage.NewStore(opts.storePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	events, err := logging.NewEventLog(store.DB())
	if err != nil {
		log.Fatalf("failed to open event log: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := study.Load(ctx, store, opts.studyName, dir, study.Options{
		Space:      sp,
		Sampler:    smp,
		Pruner:     pr,
		Seed:       cfg.Study.Seed,
		StaleAfter: cfg.Study.StaleAfter,
		Events:     events,
	})
	if err != nil {
		log.Fatalf("failed to load study: %v", err)
	}

	srv, err := bridge.NewServer(cfg.Trainer.BridgeAddr)
	if err != nil {
		log.Fatalf("failed to start report bridge: %v", err)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			log.Printf("[BRIDGE] serve: %v", err)
		}
	}()
	defer srv.Stop()

	adapter := &objective.Adapter{
		Trainer: &objective.CommandTrainer{
			Command: cfg.Trainer.Command,
			Dir:     cfg.Trainer.Dir,
			Env:     cfg.Trainer.Env,
			Reports: srv,
		},
		Extractor: cfg.Extractor(),
	}

	fmt.Println("Hyperparameter search ready.")
	fmt.Printf("  Study: %s (%s) | Store: %s | Bridge: %s\n", st.Name(), st.Direction(), opts.storePath, srv.Addr())
	fmt.Printf("  Sampler: %s | Pruner: %s | Budget: %s\n", cfg.Sampler.Name, cfg.Pruner.Name, budget(cfg))

	sum, err := st.Optimize(ctx, adapter, study.OptimizeOptions{
		Timeout: cfg.Study.Timeout,
		NTrials: cfg.Study.NTrials,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("study failed: %v", err)
	}
	fmt.Printf("\nRan %d trials: %d complete, %d pruned, %d failed\n", sum.Started, sum.Complete, sum.Pruned, sum.Failed)

	best, err := st.BestTrial(context.Background())
	if err != nil {
		fmt.Printf("No best trial yet: %v\n", err)
		return
	}
	fmt.Printf("Best trial #%d value=%.6f\n", best.Number, *best.Value)
	params := sp.Decode(best.Params)
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-16s %v\n", name, params[name])
	}
}

// #endregion main

// #region args
type options struct {
	studyName  string
	storePath  string
	configPath string

	sampler   string
	pruner    string
	direction string
	timeout   time.Duration
	nTrials   int
	seed      int64
	set       map[string]bool
}

// parseArgs accepts "<study> <store-path>" with flags before or after them.
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: map[string]bool{}}
	fs := flag.NewFlagSet("tune", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	fs.StringVar(&o.sampler, "sampler", "", "sampler: tpe|random")
	fs.StringVar(&o.pruner, "pruner", "", "pruner: hyperband|successive_halving|none")
	fs.StringVar(&o.direction, "direction", "", "maximize|minimize")
	fs.DurationVar(&o.timeout, "timeout", 0, "wall-clock budget, e.g. 672h")
	fs.IntVar(&o.nTrials, "n-trials", 0, "stop after N trials in this run")
	fs.Int64Var(&o.seed, "seed", 0, "sampler seed (0 = clock)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: tune <study-name> <store-path> [-config tune.yaml] [-sampler tpe] [-pruner hyperband] [-direction maximize] [-timeout 672h] [-n-trials N] [-seed N]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		fs.Usage()
		return nil, errors.New("study name and store path are required")
	}
	o.studyName, o.storePath = rest[0], rest[1]
	if err := fs.Parse(rest[2:]); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// config layers the file, the environment and explicit flags, in that order.
func (o *options) config() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if o.set["sampler"] {
		cfg.Sampler.Name = o.sampler
	}
	if o.set["pruner"] {
		cfg.Pruner.Name = o.pruner
	}
	if o.set["direction"] {
		cfg.Study.Direction = o.direction
	}
	if o.set["timeout"] {
		cfg.Study.Timeout = o.timeout
	}
	if o.set["n-trials"] {
		cfg.Study.NTrials = o.nTrials
	}
	if o.set["seed"] {
		cfg.Study.Seed = o.seed
	}
	return cfg, nil
}

func budget(cfg *config.Config) string {
	s := "unbounded"
	if cfg.Study.Timeout > 0 {
		s = cfg.Study.Timeout.String()
	}
	if cfg.Study.NTrials > 0 {
		s += fmt.Sprintf(", %d trials", cfg.Study.NTrials)
	}
	return s
}

// #endregion args
