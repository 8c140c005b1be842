package main

import (
	"fmt"
	"io"
	"os"
)

// GlobalStats aggregates every initiator.
type GlobalStats struct {
	Cycles         uint64  `json:"cycles"`
	Submitted      uint64  `json:"submitted"`
	Completed      uint64  `json:"completed"`
	Errors         uint64  `json:"errors"`
	Timeouts       uint64  `json:"timeouts"`
	CompletionRate float64 `json:"completionRate"`
	AvgLatency     float64 `json:"avgLatency"`
	MaxLatency     uint64  `json:"maxLatency"`
	MinLatency     uint64  `json:"minLatency"`
	BusUtilization float64 `json:"busUtilization"`
	DecodeMisses   uint64  `json:"decodeMisses"`
	Violations     uint64  `json:"violations"`
	CheckFailures  int     `json:"checkFailures"`
}

// InitiatorStats is one initiator's view.
type InitiatorStats struct {
	Name       string  `json:"name"`
	Submitted  uint64  `json:"submitted"`
	Rejected   uint64  `json:"rejected"`
	Completed  uint64  `json:"completed"`
	Errors     uint64  `json:"errors"`
	Timeouts   uint64  `json:"timeouts"`
	Grants     uint64  `json:"grants"`
	AvgLatency float64 `json:"avgLatency"`
	MaxLatency uint64  `json:"maxLatency"`
	MinLatency uint64  `json:"minLatency"`
	AvgWait    float64 `json:"avgWait"`
	QueuePeak  int     `json:"queuePeak"`
}

// TargetStats is one target's view.
type TargetStats struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Range      string `json:"range"`
	Selected   uint64 `json:"selected"`
	Violations uint64 `json:"violations"`
}

// SimulationStats is the result of CollectStats.
type SimulationStats struct {
	Global       *GlobalStats      `json:"global"`
	PerInitiator []*InitiatorStats `json:"perInitiator"`
	PerTarget    []*TargetStats    `json:"perTarget"`
}

// PrintStats writes a human-readable summary to stdout.
func PrintStats(stats *SimulationStats) {
	FprintStats(os.Stdout, stats)
}

// FprintStats writes a human-readable summary to w.
func FprintStats(w io.Writer, stats *SimulationStats) {
	if stats == nil || stats.Global == nil {
		fmt.Fprintln(w, "No stats available")
		return
	}
	g := stats.Global
	fmt.Fprintln(w, "=== Global Statistics ===")
	fmt.Fprintf(w, "Cycles: %d\n", g.Cycles)
	fmt.Fprintf(w, "Submitted: %d\n", g.Submitted)
	fmt.Fprintf(w, "Completed: %d (errors %d, timeouts %d)\n", g.Completed, g.Errors, g.Timeouts)
	fmt.Fprintf(w, "Completion Rate: %.2f%%\n", g.CompletionRate)
	fmt.Fprintf(w, "Latency: avg %.2f, min %d, max %d cycles\n", g.AvgLatency, g.MinLatency, g.MaxLatency)
	fmt.Fprintf(w, "Bus Utilization: %.2f%%\n", g.BusUtilization)
	fmt.Fprintf(w, "Decode Misses: %d\n", g.DecodeMisses)
	fmt.Fprintf(w, "Protocol Violations: %d\n", g.Violations)
	if g.CheckFailures > 0 {
		fmt.Fprintf(w, "Checker Failures: %d\n", g.CheckFailures)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Initiator Statistics ===")
	for i, st := range stats.PerInitiator {
		if st == nil {
			continue
		}
		fmt.Fprintf(w, "Initiator %d (%s): Grants=%d, Completed=%d, Errors=%d, Timeouts=%d, AvgLatency=%.2f, AvgWait=%.2f, QueuePeak=%d\n",
			i, st.Name, st.Grants, st.Completed, st.Errors, st.Timeouts, st.AvgLatency, st.AvgWait, st.QueuePeak)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Target Statistics ===")
	for i, st := range stats.PerTarget {
		if st == nil {
			continue
		}
		fmt.Fprintf(w, "Target %d (%s, %s) %s: Selected=%d, Violations=%d\n",
			i, st.Name, st.Kind, st.Range, st.Selected, st.Violations)
	}
}

func percent(a, b uint64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b) * 100.0
}
