package main

import (
	"github.com/Readm/wb_sim/bus"
	"github.com/Readm/wb_sim/fabric"
	"github.com/Readm/wb_sim/initiator"
)

// PortSnapshot is the state of one socket in a frame.
type PortSnapshot struct {
	Index   int               `json:"index"`
	Name    string            `json:"name"`
	Kind    string            `json:"kind,omitempty"`
	Fields  map[string]uint32 `json:"fields"`
	Pending int               `json:"pending,omitempty"`
	Current *initiator.Txn    `json:"current,omitempty"`
}

// CompletionRecord is a transaction that finished in the frame's cycle.
type CompletionRecord struct {
	Initiator int           `json:"initiator"`
	Txn       initiator.Txn `json:"txn"`
}

// SimulationFrame is the per-cycle snapshot published to the web API.
type SimulationFrame struct {
	Cycle            uint64                 `json:"cycle"`
	Requests         string                 `json:"requests"`
	Grant            int                    `json:"grant"`
	Select           int                    `json:"select"`
	SelectRegistered int                    `json:"selectRegistered"`
	Shared           map[string]uint32      `json:"shared"`
	Initiators       []PortSnapshot         `json:"initiators"`
	Targets          []PortSnapshot         `json:"targets"`
	Completions      []CompletionRecord     `json:"completions,omitempty"`
	Violations       uint64                 `json:"violations"`
	AddressMap       []fabric.ResolvedEntry `json:"addressMap"`
	Stats            *SimulationStats       `json:"stats,omitempty"`
}

func snapshotPort(index int, p *bus.Port) PortSnapshot {
	return PortSnapshot{Index: index, Name: p.Name(), Fields: p.Snapshot().Map()}
}
