package main

// PredefinedConfig is a named, ready-to-run fabric configuration.
type PredefinedConfig struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Config      *Config `json:"-"`
}

// GetPredefinedConfigs returns all available predefined configurations.
func GetPredefinedConfigs() []PredefinedConfig {
	return []PredefinedConfig{
		{
			Name:        "shared_bus",
			Description: "3 initiators, 2 zero-wait RAMs split on address bit 31, random traffic",
			Config: &Config{
				NumInitiators: 3,
				Targets: []TargetConfig{
					{Name: "ram0", Kind: "memory", Pattern: 0},
					{Name: "ram1", Kind: "memory", Pattern: 1},
				},
				SwitchPolicy: "every-cycle",
				TotalCycles:  1000,
				RequestRate:  0.5,
				WriteRatio:   0.3,
				Seed:         1,
			},
		},
		{
			Name:        "arbitration_demo",
			Description: "Initiators 0 and 2 request together, then 2 alone; shows round-robin grant and decode",
			Config: &Config{
				NumInitiators: 3,
				Targets: []TargetConfig{
					{Name: "A", Kind: "memory", Pattern: 0},
					{Name: "B", Kind: "memory", Pattern: 1},
				},
				SwitchPolicy: "every-cycle",
				TotalCycles:  8,
				Schedule: []ScheduleItem{
					{Cycle: 0, Initiator: 0, Address: 0x00000010},
					{Cycle: 0, Initiator: 2, Write: true, Address: 0x80000000, Data: 0xcafe},
					{Cycle: 3, Initiator: 1, Address: 0x80000000},
				},
				Headless: true,
			},
		},
		{
			Name:        "wait_states",
			Description: "4 initiators, heterogeneous map (1/2/3-bit patterns), wait-stated RAM and register bank",
			Config: &Config{
				NumInitiators: 4,
				Targets: []TargetConfig{
					{Name: "ram", Kind: "memory", Pattern: 0b0, Width: 1},
					{Name: "slow", Kind: "memory", Pattern: 0b10, Width: 2, WaitStates: 2},
					{Name: "bist", Kind: "registers", Pattern: 0b110, Width: 3, WaitStates: 1},
				},
				SwitchPolicy:  "on-withdraw",
				TotalCycles:   2000,
				RequestRate:   0.3,
				WriteRatio:    0.2,
				TargetWeights: []int{2, 1, 1},
				Seed:          7,
			},
		},
		{
			Name:        "registered_select",
			Description: "Registered response select: read data is muxed one cycle after decode",
			Config: &Config{
				NumInitiators: 2,
				Targets: []TargetConfig{
					{Name: "ram0", Kind: "memory", Pattern: 0, WaitStates: 1},
					{Name: "ram1", Kind: "memory", Pattern: 1, WaitStates: 1},
				},
				Registered:   true,
				SwitchPolicy: "on-withdraw",
				TotalCycles:  1000,
				RequestRate:  0.4,
				WriteRatio:   0.5,
				Seed:         3,
			},
		},
		{
			Name:        "bist_diagnostic",
			Description: "Single initiator in front of a RAM and a self-test register bank; drive it with -script",
			Config: &Config{
				NumInitiators: 1,
				Targets: []TargetConfig{
					{Name: "ram", Kind: "memory", Pattern: 0x0, Width: 4},
					{Name: "bist", Kind: "registers", Pattern: 0x1, Width: 4},
				},
				Offset:       4,
				SwitchPolicy: "every-cycle",
				TotalCycles:  5000,
				Headless:     true,
			},
		},
		{
			Name:        "fault_injection",
			Description: "A target that answers with err plus one that acks while unselected",
			Config: &Config{
				NumInitiators: 2,
				Targets: []TargetConfig{
					{Name: "ram", Kind: "memory", Pattern: 0b0, Width: 1},
					{Name: "err", Kind: "faulty", Pattern: 0b10, Width: 2, Fault: "error"},
					{Name: "stray", Kind: "faulty", Pattern: 0b11, Width: 2, Fault: "stray-ack"},
				},
				SwitchPolicy: "every-cycle",
				TotalCycles:  200,
				RequestRate:  0.3,
				Seed:         11,
				Headless:     true,
			},
		},
	}
}

// GetConfigByName returns a copy of the predefined configuration, or nil.
func GetConfigByName(name string) *Config {
	for _, c := range GetPredefinedConfigs() {
		if c.Name == name {
			cfg := c.Config.Clone()
			cfg.Name = c.Name
			return cfg
		}
	}
	return nil
}
