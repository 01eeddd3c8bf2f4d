// Package exec models the fixed pool of pipelined functional units.
//
// Each unit holds up to Occupancy in-flight instructions and accepts
// up to IssueWidth new ones per cycle. Every tick decrements the
// remaining latency of all in-flight slots; slots reaching zero
// produce writeback events for the scoreboard and metrics. The
// memory port is not modeled here: memory completions are
// event-driven through the memory request interface.
package exec

import (
	"fmt"

	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/metrics"
	"github.com/duoduoyeah/tinygpusim/timing/latency"
)

// Writeback is the completion event of one in-flight instruction.
type Writeback struct {
	WarpID int
	Inst   *insts.Instruction
}

type slot struct {
	warpID    int
	inst      *insts.Instruction
	remaining uint64
}

// Unit is one pipelined functional unit.
type Unit struct {
	name        string
	issueWidth  int
	occupancy   int
	inflight    []slot
	issuedCycle int
	stats       metrics.UnitStats
}

// NewUnit creates a unit from its configuration.
func NewUnit(name string, cfg latency.UnitConfig) *Unit {
	return &Unit{
		name:       name,
		issueWidth: cfg.IssueWidth,
		occupancy:  cfg.Occupancy,
	}
}

// Name returns the unit's class name.
func (u *Unit) Name() string { return u.name }

// CanAccept reports whether the unit has a free pipeline slot and
// issue bandwidth left this cycle.
func (u *Unit) CanAccept() bool {
	return len(u.inflight) < u.occupancy && u.issuedCycle < u.issueWidth
}

// TryIssue places an instruction into the pipeline. It fails with
// Busy semantics (returns false) when no slot is free.
func (u *Unit) TryIssue(warpID int, inst *insts.Instruction, lat uint64) bool {
	if !u.CanAccept() {
		return false
	}
	if lat == 0 {
		lat = 1
	}
	u.inflight = append(u.inflight, slot{warpID: warpID, inst: inst, remaining: lat})
	u.issuedCycle++
	u.stats.Issued++
	return true
}

// Tick advances all in-flight latencies by one cycle and returns the
// writebacks of instructions that completed, in issue order.
func (u *Unit) Tick() []Writeback {
	u.issuedCycle = 0

	if len(u.inflight) == 0 {
		u.stats.IdleCycles++
		return nil
	}
	u.stats.BusyCycles++

	var done []Writeback
	remaining := u.inflight[:0]
	for _, s := range u.inflight {
		s.remaining--
		if s.remaining == 0 {
			done = append(done, Writeback{WarpID: s.warpID, Inst: s.inst})
		} else {
			remaining = append(remaining, s)
		}
	}
	u.inflight = remaining
	return done
}

// InFlight returns the number of occupied pipeline slots.
func (u *Unit) InFlight() int { return len(u.inflight) }

// Stats returns the unit's utilization counters.
func (u *Unit) Stats() metrics.UnitStats { return u.stats }

// Flush discards all in-flight instructions without writeback side
// effects. Used on abort.
func (u *Unit) Flush() {
	u.inflight = nil
	u.issuedCycle = 0
}

// Pool groups the core's functional units by opcode class.
type Pool struct {
	units []*Unit
	byOp  map[insts.OpClass]*Unit
}

// NewPool builds the unit pool from the core configuration.
func NewPool(cfg *latency.Config) *Pool {
	intALU := NewUnit("int_alu", cfg.IntALU)
	fpALU := NewUnit("fp_alu", cfg.FPALU)
	sfu := NewUnit("sfu", cfg.SFU)
	branch := NewUnit("branch", cfg.Branch)

	return &Pool{
		units: []*Unit{intALU, fpALU, sfu, branch},
		byOp: map[insts.OpClass]*Unit{
			insts.OpClassIntALU: intALU,
			insts.OpClassFPALU:  fpALU,
			insts.OpClassSFU:    sfu,
			insts.OpClassBranch: branch,
		},
	}
}

// UnitFor returns the unit serving an opcode class.
func (p *Pool) UnitFor(class insts.OpClass) (*Unit, error) {
	u, ok := p.byOp[class]
	if !ok {
		return nil, fmt.Errorf("no execution unit serves class %s", class)
	}
	return u, nil
}

// Tick advances every unit and returns all writebacks, grouped per
// unit in a fixed order for determinism.
func (p *Pool) Tick() []Writeback {
	var out []Writeback
	for _, u := range p.units {
		out = append(out, u.Tick()...)
	}
	return out
}

// Units returns the pool's units in fixed order.
func (p *Pool) Units() []*Unit { return p.units }

// Flush discards all in-flight work in every unit.
func (p *Pool) Flush() {
	for _, u := range p.units {
		u.Flush()
	}
}
