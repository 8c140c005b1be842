package main

import (
	"math/rand"
	"sort"

	"github.com/Readm/wb_sim/device"
	"github.com/Readm/wb_sim/fabric"
	"github.com/Readm/wb_sim/initiator"
)

// RequestGenerator decides which transactions each initiator submits.
type RequestGenerator interface {
	// Generate returns the transactions initiator submits at cycle.
	Generate(cycle uint64, initiator int) []*initiator.Txn
	Reset()
}

// ProbabilityGenerator submits one random access per initiator and cycle
// with probability RequestRate, aimed at a target picked by weight.
type ProbabilityGenerator struct {
	RequestRate float64
	WriteRatio  float64
	Weights     []int

	regions []region
	seed    int64
	rng     *rand.Rand
}

// region is the part of a target's range that random traffic may touch.
type region struct {
	base  uint32
	words uint32
	kind  device.Kind
}

// NewProbabilityGenerator builds a seeded generator over the resolved map.
func NewProbabilityGenerator(cfg *Config, amap []fabric.ResolvedEntry) *ProbabilityGenerator {
	regions := make([]region, len(amap))
	for i, e := range amap {
		span := uint64(e.Range.Hi-e.Range.Lo)/4 + 1
		words := uint64(cfg.Targets[i].Words)
		if device.Kind(cfg.Targets[i].Kind) == device.KindRegister {
			words = device.RegFaultEvery + 1
		}
		if words > span {
			words = span
		}
		regions[i] = region{base: e.Range.Lo, words: uint32(words), kind: device.Kind(cfg.Targets[i].Kind)}
	}
	return &ProbabilityGenerator{
		RequestRate: cfg.RequestRate,
		WriteRatio:  cfg.WriteRatio,
		Weights:     cfg.TargetWeights,
		regions:     regions,
		seed:        cfg.Seed,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (pg *ProbabilityGenerator) Generate(cycle uint64, _ int) []*initiator.Txn {
	if pg.rng.Float64() >= pg.RequestRate {
		return nil
	}
	t := weightedChoose(pg.rng, pg.Weights)
	if t < 0 || t >= len(pg.regions) {
		return nil
	}
	r := pg.regions[t]
	addr := r.base + uint32(pg.rng.Int63n(int64(r.words)))*4
	// register banks only see reads so random traffic never starts a run
	if r.kind != device.KindRegister && pg.rng.Float64() < pg.WriteRatio {
		return []*initiator.Txn{initiator.NewWrite(addr, pg.rng.Uint32())}
	}
	return []*initiator.Txn{initiator.NewRead(addr)}
}

func (pg *ProbabilityGenerator) Reset() {
	pg.rng = rand.New(rand.NewSource(pg.seed))
}

func weightedChoose(rng *rand.Rand, weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return -1
	}
	pick := rng.Intn(total)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if pick < w {
			return i
		}
		pick -= w
	}
	return -1
}

// ScheduleGenerator replays a fixed list of transactions.
type ScheduleGenerator struct {
	items map[uint64]map[int][]ScheduleItem
}

// NewScheduleGenerator indexes items by cycle and initiator, keeping their
// order within a slot.
func NewScheduleGenerator(items []ScheduleItem) *ScheduleGenerator {
	sorted := append([]ScheduleItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Cycle < sorted[j].Cycle })
	idx := make(map[uint64]map[int][]ScheduleItem)
	for _, it := range sorted {
		if idx[it.Cycle] == nil {
			idx[it.Cycle] = make(map[int][]ScheduleItem)
		}
		idx[it.Cycle][it.Initiator] = append(idx[it.Cycle][it.Initiator], it)
	}
	return &ScheduleGenerator{items: idx}
}

func (sg *ScheduleGenerator) Generate(cycle uint64, ini int) []*initiator.Txn {
	slot := sg.items[cycle][ini]
	if len(slot) == 0 {
		return nil
	}
	out := make([]*initiator.Txn, len(slot))
	for i, it := range slot {
		var txn *initiator.Txn
		if it.Write {
			txn = initiator.NewWrite(it.Address, it.Data)
		} else {
			txn = initiator.NewRead(it.Address)
		}
		if it.ByteSelect != 0 {
			txn.ByteSelect = it.ByteSelect
		}
		out[i] = txn
	}
	return out
}

// Reset is a no-op: the schedule is read-only and indexed by cycle.
func (sg *ScheduleGenerator) Reset() {}

// NewRequestGenerator picks the generator the configuration asks for.
func NewRequestGenerator(cfg *Config, amap []fabric.ResolvedEntry) RequestGenerator {
	if len(cfg.Schedule) > 0 {
		return NewScheduleGenerator(cfg.Schedule)
	}
	return NewProbabilityGenerator(cfg, amap)
}
