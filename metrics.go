package main

import (
	"sync"
	"time"

	"github.com/Readm/wb_sim/logger"
)

// window accumulates fabric activity between two throughput reports.
type window struct {
	cycles    uint64
	busy      uint64
	completed uint64
	failed    uint64
	started   time.Time
}

// metricsCollector logs cycle rate, trunk occupancy and transaction outcome
// at a fixed wall-clock interval.
type metricsCollector struct {
	mu       sync.Mutex
	interval time.Duration
	cur      window
}

func newMetricsCollector(interval time.Duration) *metricsCollector {
	return &metricsCollector{
		interval: interval,
		cur:      window{started: time.Now()},
	}
}

// RecordCycle counts one evaluated cycle; busy means the trunk was granted.
func (m *metricsCollector) RecordCycle(busy bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur.cycles++
	if busy {
		m.cur.busy++
	}
	m.emitIfNeeded()
}

// RecordCompletion counts a finished transaction; ok is false for err and
// timeout completions.
func (m *metricsCollector) RecordCompletion(ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.cur.completed++
	} else {
		m.cur.failed++
	}
}

func (m *metricsCollector) emitIfNeeded() {
	now := time.Now()
	elapsed := now.Sub(m.cur.started)
	if elapsed < m.interval {
		return
	}
	w := m.cur
	rate := float64(w.cycles)
	if s := elapsed.Seconds(); s > 0 {
		rate /= s
	}
	logger.Get().Infof("Throughput %.0f cycles/s, trunk busy %.1f%%, %d transactions completed, %d failed",
		rate, percent(w.busy, w.cycles), w.completed, w.failed)
	m.cur = window{started: now}
}

var metrics = newMetricsCollector(5 * time.Second)
