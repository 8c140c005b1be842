package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Readm/wb_sim/logger"
	"github.com/Readm/wb_sim/script"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	config    string
	headless  bool
	cycles    uint64
	script    string
	web       string
	logLevel  string
	trace     bool
	list      bool
	seed      int64
	benchmark bool
}

func parseFlags(args []string) (*cliOptions, error) {
	fs := flag.NewFlagSet("wb_sim", flag.ContinueOnError)
	opts := &cliOptions{}
	fs.StringVar(&opts.config, "config", "", "Predefined configuration name or path to a JSON config file")
	fs.BoolVar(&opts.headless, "headless", false, "Run without the web API and print statistics")
	fs.Uint64Var(&opts.cycles, "cycles", 0, "Override the number of cycles to simulate")
	fs.StringVar(&opts.script, "script", "", "Lua script that drives initiator 0")
	fs.StringVar(&opts.web, "web", "", "Web API listen address (default "+DefaultWebAddr+")")
	fs.StringVar(&opts.logLevel, "log", "info", "Log level: error, warn, info, debug")
	fs.BoolVar(&opts.trace, "trace", false, "Print the per-cycle fabric trace when the run ends")
	fs.BoolVar(&opts.list, "list", false, "List predefined configurations and exit")
	fs.Int64Var(&opts.seed, "seed", 0, "Override the random traffic seed")
	fs.BoolVar(&opts.benchmark, "benchmark", false, "Measure headless throughput of the predefined configurations")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig resolves -config: a predefined name, a JSON file, or the first
// predefined configuration when empty.
func loadConfig(opts *cliOptions) (*Config, error) {
	name := opts.config
	if name == "" {
		name = GetPredefinedConfigs()[0].Name
	}
	var cfg *Config
	if strings.HasSuffix(name, ".json") {
		loaded, err := LoadConfigFile(name)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = GetConfigByName(name)
		if cfg == nil {
			return nil, errors.Errorf("configuration %q not found (see -list)", name)
		}
	}
	if opts.headless || opts.script != "" {
		cfg.Headless = true
	}
	if opts.cycles > 0 {
		cfg.TotalCycles = opts.cycles
	}
	if opts.web != "" {
		cfg.WebAddr = opts.web
		cfg.Headless = false
	}
	if opts.seed != 0 {
		cfg.Seed = opts.seed
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func listConfigs() {
	for _, c := range GetPredefinedConfigs() {
		fmt.Printf("%-20s %s\n", c.Name, c.Description)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.list {
		listConfigs()
		return nil
	}
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger.Get().SetLevel(level)

	if opts.benchmark {
		return RunBenchmarkSuite(context.Background(), os.Stdout, []uint64{10000, 100000})
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" && opts.logLevel == "info" {
		if lvl, err := logger.ParseLevel(cfg.LogLevel); err == nil {
			logger.Get().SetLevel(lvl)
		}
	}

	sim, err := NewSimulator(cfg)
	if err != nil {
		return err
	}
	logger.Get().Infof("configuration %s: %d initiators, %d targets, policy %s, registered=%v",
		cfg.Name, cfg.NumInitiators, len(cfg.Targets), sim.Fabric().Policy(), cfg.Registered)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.script != "":
		err = runScript(ctx, sim, opts.script)
	case cfg.Headless:
		err = sim.Run(ctx)
	default:
		err = runWeb(ctx, sim, cfg.WebAddr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	PrintStats(sim.CollectStats())
	if opts.trace {
		names := make([]string, len(cfg.Targets))
		for i, t := range cfg.Targets {
			names[i] = t.Name
		}
		events := sim.TraceEvents()
		events = events[len(events)-traceRows(os.Stdout, len(events)):]
		fmt.Println()
		PrintTrace(os.Stdout, events, cfg.NumInitiators, names, terminalWidth(os.Stdout))
	}
	return nil
}

func runScript(ctx context.Context, sim *Simulator, path string) error {
	sim.ReserveInitiator(0)
	rt := script.New(sim, logger.Get())
	defer rt.Close()
	if err := rt.RunFile(ctx, path); err != nil {
		return err
	}
	reads, writes := rt.Accesses()
	logger.Get().Infof("script finished at cycle %d after %d reads and %d writes", sim.Cycle(), reads, writes)
	return nil
}

// runWeb serves the API while the simulator runs; the server stays up after
// the run ends until the process is interrupted.
func runWeb(ctx context.Context, sim *Simulator, addr string) error {
	server := NewWebServer(addr)
	server.SetTraceSource(sim.TraceEvents)
	sim.SetVisualizer(NewWebVisualizer(server))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx)
	})
	g.Go(func() error {
		if err := sim.Run(gctx); err != nil {
			return err
		}
		logger.Get().Infof("simulation finished at cycle %d; press Ctrl+C to exit", sim.Cycle())
		return nil
	})
	return g.Wait()
}
