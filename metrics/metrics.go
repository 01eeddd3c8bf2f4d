// Package metrics aggregates the core's performance counters.
//
// All counters increase monotonically and reset only when the core is
// reinitialized. Consumers read them through Snapshot, which returns a
// detached copy valid at a cycle boundary.
package metrics

// StallCause classifies why a warp could not issue this cycle.
type StallCause int

// Stall causes tracked per cycle.
const (
	StallScoreboard StallCause = iota // register hazard unresolved
	StallUnitBusy                     // no free slot in the target unit
	StallMemPending                   // memory-port occupancy exhausted
	StallNoReadyWarp                  // scheduler had nothing to pick
)

func (c StallCause) String() string {
	switch c {
	case StallScoreboard:
		return "scoreboard"
	case StallUnitBusy:
		return "unit_busy"
	case StallMemPending:
		return "mem_pending"
	case StallNoReadyWarp:
		return "no_ready_warp"
	default:
		return "unknown"
	}
}

// UnitStats holds per-execution-unit utilization counters.
type UnitStats struct {
	Issued     uint64
	BusyCycles uint64
	IdleCycles uint64
}

// Utilization returns the busy fraction of all ticked cycles.
func (u UnitStats) Utilization() float64 {
	total := u.BusyCycles + u.IdleCycles
	if total == 0 {
		return 0
	}
	return float64(u.BusyCycles) / float64(total)
}

// Snapshot is a read-only copy of all counters.
type Snapshot struct {
	Cycles              uint64
	InstructionsIssued  uint64
	InstructionsRetired uint64

	WarpsLaunched uint64
	WarpsRetired  uint64

	Stalls map[StallCause]uint64

	BranchesResolved uint64
	BranchesDiverged uint64
	Reconvergences   uint64

	MemInstructions uint64
	MemRequests     uint64
	LanesCoalesced  uint64

	Units map[string]UnitStats
}

// TotalStalls sums the stall counters across causes.
func (s Snapshot) TotalStalls() uint64 {
	var total uint64
	for _, n := range s.Stalls {
		total += n
	}
	return total
}

// IPC returns retired instructions per cycle.
func (s Snapshot) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.InstructionsRetired) / float64(s.Cycles)
}

// Collector accumulates counters fed by the core's components.
type Collector struct {
	snap Snapshot
}

// NewCollector creates a collector with all counters at zero.
func NewCollector() *Collector {
	return &Collector{snap: Snapshot{
		Stalls: make(map[StallCause]uint64),
		Units:  make(map[string]UnitStats),
	}}
}

// AddCycle advances the cycle counter.
func (c *Collector) AddCycle() { c.snap.Cycles++ }

// AddIssued counts an issued instruction.
func (c *Collector) AddIssued() { c.snap.InstructionsIssued++ }

// AddRetired counts a retired instruction.
func (c *Collector) AddRetired() { c.snap.InstructionsRetired++ }

// AddStall counts one stalled warp-cycle for the given cause.
func (c *Collector) AddStall(cause StallCause) { c.snap.Stalls[cause]++ }

// AddWarpsLaunched counts warps admitted by a launch.
func (c *Collector) AddWarpsLaunched(n int) { c.snap.WarpsLaunched += uint64(n) }

// AddWarpRetired counts a retired warp.
func (c *Collector) AddWarpRetired() { c.snap.WarpsRetired++ }

// AddBranch counts a resolved branch; diverged marks a mask split.
func (c *Collector) AddBranch(diverged bool) {
	c.snap.BranchesResolved++
	if diverged {
		c.snap.BranchesDiverged++
	}
}

// AddReconvergence counts one reconvergence-stack restore.
func (c *Collector) AddReconvergence() { c.snap.Reconvergences++ }

// AddMemInstruction counts one memory instruction that was split into
// the given number of physical requests covering the given lane count.
func (c *Collector) AddMemInstruction(requests, lanes int) {
	c.snap.MemInstructions++
	c.snap.MemRequests += uint64(requests)
	c.snap.LanesCoalesced += uint64(lanes)
}

// SetUnitStats records the utilization counters of one unit.
func (c *Collector) SetUnitStats(name string, stats UnitStats) {
	c.snap.Units[name] = stats
}

// Snapshot returns a detached copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	out := c.snap
	out.Stalls = make(map[StallCause]uint64, len(c.snap.Stalls))
	for k, v := range c.snap.Stalls {
		out.Stalls[k] = v
	}
	out.Units = make(map[string]UnitStats, len(c.snap.Units))
	for k, v := range c.snap.Units {
		out.Units[k] = v
	}
	return out
}

// Reset clears every counter. Only the core calls this, at
// (re)initialization.
func (c *Collector) Reset() {
	c.snap = Snapshot{
		Stalls: make(map[StallCause]uint64),
		Units:  make(map[string]UnitStats),
	}
}
