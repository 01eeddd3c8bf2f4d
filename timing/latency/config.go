package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// Hazard modes for the scoreboard.
const (
	// HazardInOrder blocks issue while any writer to a source or
	// destination register is in flight (in-order per register).
	HazardInOrder = "inorder"
	// HazardOutOfOrder allows multiple concurrent writers to the same
	// register; only read-after-write still blocks.
	HazardOutOfOrder = "outoforder"
)

// Scheduler policy names accepted in Config.SchedulerPolicy.
const (
	PolicyRoundRobin        = "round_robin"
	PolicyGreedyThenOldest  = "greedy_then_oldest"
	PolicyLoosestScoreboard = "loosest_scoreboard"
)

// UnitConfig describes one execution-unit class.
type UnitConfig struct {
	// IssueWidth is how many instructions the unit accepts per cycle.
	IssueWidth int `json:"issue_width"`

	// Depth is the pipeline depth: cycles from issue to result-ready.
	Depth uint64 `json:"depth"`

	// Occupancy is the maximum number of concurrently in-flight
	// instructions the unit holds.
	Occupancy int `json:"occupancy"`
}

// Config is the static configuration of one core. It is fixed before
// a run starts; the core rejects inconsistent combinations at
// initialization and never after.
type Config struct {
	// WarpWidth is the number of lanes per warp.
	WarpWidth int `json:"warp_width"`

	// SchedulerWidth is how many warps may issue per cycle.
	SchedulerWidth int `json:"scheduler_width"`

	// SchedulerPolicy selects the warp-selection policy.
	SchedulerPolicy string `json:"scheduler_policy"`

	// ResidentWarpCapacity is the number of warp slots in the core.
	ResidentWarpCapacity int `json:"resident_warp_capacity"`

	// RegFileSize is the register budget shared by resident warps.
	// Launch admission checks warp register requirements against it.
	RegFileSize int `json:"reg_file_size"`

	// HazardMode selects the scoreboard discipline.
	HazardMode string `json:"hazard_mode"`

	// GranuleSize is the aligned coalescing granule in bytes. Lane
	// addresses falling in one granule merge into one request.
	GranuleSize uint64 `json:"granule_size"`

	// MemMaxOutstanding is the memory port occupancy: the number of
	// memory instructions that may be in flight at once.
	MemMaxOutstanding int `json:"mem_max_outstanding"`

	// Per-class execution units.
	IntALU UnitConfig `json:"int_alu"`
	FPALU  UnitConfig `json:"fp_alu"`
	SFU    UnitConfig `json:"sfu"`
	Branch UnitConfig `json:"branch"`
}

// DefaultConfig returns a configuration modeled on a modest
// GCN-style compute unit: 32-lane warps, 40 resident warp slots,
// single-issue scheduler.
func DefaultConfig() *Config {
	return &Config{
		WarpWidth:            32,
		SchedulerWidth:       1,
		SchedulerPolicy:      PolicyRoundRobin,
		ResidentWarpCapacity: 40,
		RegFileSize:          2048,
		HazardMode:           HazardInOrder,
		GranuleSize:          64,
		MemMaxOutstanding:    8,
		IntALU:               UnitConfig{IssueWidth: 1, Depth: 1, Occupancy: 4},
		FPALU:                UnitConfig{IssueWidth: 1, Depth: 4, Occupancy: 8},
		SFU:                  UnitConfig{IssueWidth: 1, Depth: 8, Occupancy: 4},
		Branch:               UnitConfig{IssueWidth: 1, Depth: 1, Occupancy: 1},
	}
}

// LoadConfig loads a Config from a JSON file. Missing fields keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read core config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse core config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize core config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write core config file: %w", err)
	}

	return nil
}

// Validate checks for inconsistent parameter combinations. A failing
// Validate is fatal: the run never starts.
func (c *Config) Validate() error {
	if c.WarpWidth <= 0 || c.WarpWidth > 64 {
		return fmt.Errorf("warp_width must be in 1..64, got %d", c.WarpWidth)
	}
	if c.SchedulerWidth <= 0 {
		return fmt.Errorf("scheduler_width must be > 0")
	}
	switch c.SchedulerPolicy {
	case PolicyRoundRobin, PolicyGreedyThenOldest, PolicyLoosestScoreboard:
	default:
		return fmt.Errorf("unknown scheduler_policy %q", c.SchedulerPolicy)
	}
	if c.ResidentWarpCapacity <= 0 {
		return fmt.Errorf("resident_warp_capacity must be > 0")
	}
	if c.RegFileSize < 0 {
		return fmt.Errorf("reg_file_size must be >= 0")
	}
	switch c.HazardMode {
	case HazardInOrder, HazardOutOfOrder:
	default:
		return fmt.Errorf("unknown hazard_mode %q", c.HazardMode)
	}
	if c.GranuleSize == 0 || c.GranuleSize&(c.GranuleSize-1) != 0 {
		return fmt.Errorf("granule_size must be a power of two, got %d", c.GranuleSize)
	}
	if c.MemMaxOutstanding <= 0 {
		return fmt.Errorf("mem_max_outstanding must be > 0")
	}
	for _, uc := range []struct {
		name string
		cfg  UnitConfig
	}{
		{"int_alu", c.IntALU},
		{"fp_alu", c.FPALU},
		{"sfu", c.SFU},
		{"branch", c.Branch},
	} {
		if uc.cfg.IssueWidth <= 0 {
			return fmt.Errorf("%s issue_width must be > 0", uc.name)
		}
		if uc.cfg.Depth == 0 {
			return fmt.Errorf("%s depth must be > 0", uc.name)
		}
		if uc.cfg.Occupancy < uc.cfg.IssueWidth {
			return fmt.Errorf("%s occupancy %d below issue_width %d",
				uc.name, uc.cfg.Occupancy, uc.cfg.IssueWidth)
		}
	}
	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}
