package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// BenchmarkResult stores one headless throughput measurement.
type BenchmarkResult struct {
	Config           string
	TotalCycles      uint64
	TotalDuration    time.Duration
	CyclesPerSec     float64
	DurationPerCycle time.Duration
	Completed        uint64
}

// RunBenchmark steps a headless copy of cfg for cycles cycles.
func RunBenchmark(ctx context.Context, cycles uint64, cfg *Config) (*BenchmarkResult, error) {
	if cycles == 0 {
		return nil, errors.New("benchmark needs at least one cycle")
	}
	run := cfg.Clone()
	run.Headless = true
	run.TotalCycles = cycles
	run.FrameDelay = 0

	sim, err := NewSimulator(run)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := sim.Run(ctx); err != nil {
		return nil, err
	}
	duration := time.Since(start)

	res := &BenchmarkResult{
		Config:           run.Name,
		TotalCycles:      cycles,
		TotalDuration:    duration,
		DurationPerCycle: duration / time.Duration(cycles),
		Completed:        sim.CollectStats().Global.Completed,
	}
	if s := duration.Seconds(); s > 0 {
		res.CyclesPerSec = float64(cycles) / s
	}
	return res, nil
}

// RunBenchmarkSuite measures every predefined configuration with random
// traffic at a few run lengths.
func RunBenchmarkSuite(ctx context.Context, w io.Writer, sizes []uint64) error {
	fmt.Fprintln(w, "=== Headless Mode Performance Benchmark ===")
	for _, pc := range GetPredefinedConfigs() {
		cfg := pc.Config.Clone()
		cfg.Name = pc.Name
		if len(cfg.Schedule) > 0 || cfg.RequestRate == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s: %s\n", pc.Name, pc.Description)
		for _, cycles := range sizes {
			res, err := RunBenchmark(ctx, cycles, cfg)
			if err != nil {
				return errors.Wrapf(err, "benchmark %s", pc.Name)
			}
			fmt.Fprintf(w, "  %8d cycles: %12.0f cycles/sec, %.2f us/cycle, %d transactions\n",
				cycles, res.CyclesPerSec, float64(res.DurationPerCycle.Nanoseconds())/1000.0, res.Completed)
		}
	}
	return nil
}
