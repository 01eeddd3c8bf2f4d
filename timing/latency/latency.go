// Package latency provides the core configuration surface and the
// latency table that maps opcode classes to execution timing.
package latency

import (
	"github.com/duoduoyeah/tinygpusim/insts"
)

// Table provides latency lookups per opcode class.
type Table struct {
	config *Config
}

// NewTable creates a latency table with default timing values.
func NewTable() *Table {
	return &Table{config: DefaultConfig()}
}

// NewTableWithConfig creates a latency table backed by the given
// configuration.
func NewTableWithConfig(config *Config) *Table {
	return &Table{config: config}
}

// ForClass returns the pipeline latency in cycles for the class.
// Memory classes return 1: their real timing is event-driven through
// the memory subsystem, so only the issue slot is accounted here.
func (t *Table) ForClass(class insts.OpClass) uint64 {
	switch class {
	case insts.OpClassIntALU:
		return t.config.IntALU.Depth
	case insts.OpClassFPALU:
		return t.config.FPALU.Depth
	case insts.OpClassSFU:
		return t.config.SFU.Depth
	case insts.OpClassBranch:
		return t.config.Branch.Depth
	default:
		return 1
	}
}

// ForInst returns the latency for one record, honoring a per-record
// override when present.
func (t *Table) ForInst(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}
	if inst.LatencyOverride > 0 {
		return inst.LatencyOverride
	}
	return t.ForClass(inst.Class)
}
