package main

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"os"

	"github.com/pkg/errors"

	"github.com/Readm/wb_sim/device"
	"github.com/Readm/wb_sim/fabric"
	"github.com/Readm/wb_sim/logger"
)

const (
	DefaultQueueDepth  = 4
	DefaultMaxWait     = 256
	DefaultWebAddr     = "127.0.0.1:8080"
	DefaultFrameDelay  = 50 // milliseconds between published frames in web mode
	DefaultTraceDepth  = 256
	DefaultTotalCycles = 1000
)

// TargetConfig describes one target slot: its device and its decode pattern.
type TargetConfig struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Pattern uint32 `json:"pattern"`
	// Width of the pattern in bits. Zero gives every zero-width target the
	// width of the widest such pattern.
	Width      uint   `json:"width"`
	WaitStates int    `json:"waitStates"`
	Words      int    `json:"words"`
	Fault      string `json:"fault,omitempty"`
}

// ScheduleItem is one deterministic transaction.
type ScheduleItem struct {
	Cycle      uint64 `json:"cycle"`
	Initiator  int    `json:"initiator"`
	Write      bool   `json:"write"`
	Address    uint32 `json:"address"`
	Data       uint32 `json:"data"`
	ByteSelect uint32 `json:"byteSelect,omitempty"`
}

// Config holds the fabric topology and the traffic that runs over it.
type Config struct {
	Name          string         `json:"name,omitempty"`
	NumInitiators int            `json:"numInitiators"`
	Targets       []TargetConfig `json:"targets"`
	AddressWidth  uint           `json:"addressWidth,omitempty"`
	Offset        uint           `json:"offset"`
	Registered    bool           `json:"registered"`
	SwitchPolicy  string         `json:"switchPolicy"`

	TotalCycles uint64 `json:"totalCycles"`
	// Schedule replaces random traffic when non-empty.
	Schedule      []ScheduleItem `json:"schedule,omitempty"`
	RequestRate   float64        `json:"requestRate"`
	WriteRatio    float64        `json:"writeRatio"`
	TargetWeights []int          `json:"targetWeights,omitempty"`
	Seed          int64          `json:"seed"`
	QueueDepth    int            `json:"queueDepth"`
	MaxWait       uint64         `json:"maxWait"`

	Headless   bool   `json:"headless"`
	WebAddr    string `json:"webAddr,omitempty"`
	FrameDelay int    `json:"frameDelay"`
	TraceDepth int    `json:"traceDepth"`
	LogLevel   string `json:"logLevel,omitempty"`
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Targets = append([]TargetConfig(nil), c.Targets...)
	out.Schedule = append([]ScheduleItem(nil), c.Schedule...)
	out.TargetWeights = append([]int(nil), c.TargetWeights...)
	return &out
}

// MapEntries returns the decode table of the configured targets.
func (c *Config) MapEntries() []fabric.MapEntry {
	out := make([]fabric.MapEntry, len(c.Targets))
	for i, t := range c.Targets {
		out[i] = fabric.Pattern(t.Pattern, t.Width)
	}
	return out
}

// Policy returns the parsed switch policy; ValidateConfig has checked it.
func (c *Config) Policy() fabric.SwitchPolicy {
	p, _ := fabric.ParseSwitchPolicy(c.SwitchPolicy)
	return p
}

// ValidateConfig applies structural checks to Config and populates defaults
// where required. Address map overlaps are left to the fabric constructor.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.NumInitiators <= 0 || cfg.NumInitiators > fabric.MaxPorts {
		return errors.Errorf("NumInitiators must be within [1,%d], got %d", fabric.MaxPorts, cfg.NumInitiators)
	}
	if len(cfg.Targets) == 0 || len(cfg.Targets) > fabric.MaxPorts {
		return errors.Errorf("Targets must hold between 1 and %d entries, got %d", fabric.MaxPorts, len(cfg.Targets))
	}
	if cfg.RequestRate < 0 || cfg.RequestRate > 1 {
		return errors.Errorf("RequestRate must be within [0,1], got %.3f", cfg.RequestRate)
	}
	if cfg.WriteRatio < 0 || cfg.WriteRatio > 1 {
		return errors.Errorf("WriteRatio must be within [0,1], got %.3f", cfg.WriteRatio)
	}
	policy, ok := fabric.ParseSwitchPolicy(cfg.SwitchPolicy)
	if !ok {
		return errors.Errorf("unknown SwitchPolicy %q", cfg.SwitchPolicy)
	}
	if cfg.LogLevel != "" {
		if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
			return err
		}
	}

	uniform := uint(1)
	for _, t := range cfg.Targets {
		if t.Width == 0 {
			if w := uint(bits.Len32(t.Pattern)); w > uniform {
				uniform = w
			}
		}
	}
	waits := false
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if t.Name == "" {
			t.Name = defaultTargetName(i)
		}
		if t.Kind == "" {
			t.Kind = string(device.KindMemory)
		}
		switch device.Kind(t.Kind) {
		case device.KindMemory, device.KindRegister:
		case device.KindFaulty:
			if _, ok := device.ParseFaultMode(t.Fault); !ok {
				return errors.Errorf("target %s: unknown fault mode %q", t.Name, t.Fault)
			}
		default:
			return errors.Errorf("target %s: unknown kind %q", t.Name, t.Kind)
		}
		if t.Width == 0 {
			t.Width = uniform
		}
		if t.WaitStates < 0 {
			return errors.Errorf("target %s: WaitStates must be non-negative, got %d", t.Name, t.WaitStates)
		}
		if t.Words <= 0 {
			t.Words = device.DefaultWords
		}
		// the registered select lags one cycle, so read data must not be
		// needed before then
		if cfg.Registered && t.WaitStates < 1 && device.Kind(t.Kind) != device.KindFaulty {
			return errors.Errorf("target %s: registered mode needs at least one wait state", t.Name)
		}
		if t.WaitStates > 0 {
			waits = true
		}
	}
	if cfg.NumInitiators > 1 && (waits || cfg.Registered) && policy == fabric.SwitchEveryCycle {
		return errors.New("multi-cycle targets need SwitchPolicy \"on-withdraw\" when several initiators share the bus")
	}

	if len(cfg.TargetWeights) != len(cfg.Targets) {
		cfg.TargetWeights = make([]int, len(cfg.Targets))
		for i := range cfg.TargetWeights {
			cfg.TargetWeights[i] = 1
		}
	}
	for i, item := range cfg.Schedule {
		if item.Initiator < 0 || item.Initiator >= cfg.NumInitiators {
			return errors.Errorf("schedule item %d: initiator %d out of range", i, item.Initiator)
		}
	}

	if cfg.TotalCycles == 0 {
		cfg.TotalCycles = DefaultTotalCycles
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.WebAddr == "" {
		cfg.WebAddr = DefaultWebAddr
	}
	if cfg.FrameDelay < 0 {
		cfg.FrameDelay = 0
	}
	if cfg.TraceDepth <= 0 {
		cfg.TraceDepth = DefaultTraceDepth
	}
	return nil
}

func defaultTargetName(i int) string {
	return fmt.Sprintf("t%d", i)
}

// LoadConfigFile reads a JSON Config from path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return &cfg, nil
}
