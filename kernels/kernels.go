// Package kernels defines kernel launch descriptors and the in-memory
// instruction programs that back them.
package kernels

import (
	"fmt"

	"github.com/duoduoyeah/tinygpusim/insts"
)

// Launch describes one kernel launch as produced by the external
// command processor. The core admits the launch if it has resident
// warp slots and register-file capacity; rejected launches are queued
// by the caller, never by the core.
type Launch struct {
	// KernelID identifies the launch for barrier grouping and
	// diagnostics.
	KernelID string `json:"kernel_id"`

	// WarpCount is the number of warps the launch creates.
	WarpCount int `json:"warp_count"`

	// EntryPC is the initial program counter of every warp.
	EntryPC uint64 `json:"entry_pc"`

	// RegsPerWarp is the register-file requirement per warp.
	RegsPerWarp int `json:"regs_per_warp"`
}

// Validate checks the descriptor before admission.
func (l Launch) Validate() error {
	if l.KernelID == "" {
		return fmt.Errorf("launch has empty kernel id")
	}
	if l.WarpCount <= 0 {
		return fmt.Errorf("launch %s has warp count %d", l.KernelID, l.WarpCount)
	}
	if l.RegsPerWarp < 0 {
		return fmt.Errorf("launch %s has negative register requirement", l.KernelID)
	}
	return nil
}

// Program is an instruction store keyed by program counter. It
// implements the instruction-source contract for the core. All warps
// of a launch share one program.
type Program struct {
	records map[uint64]*insts.Instruction
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{records: make(map[uint64]*insts.Instruction)}
}

// Add inserts a record at its PC. Adding a second record at the same
// PC replaces the first. Returns the program for chaining.
func (p *Program) Add(inst *insts.Instruction) *Program {
	p.records[inst.PC] = inst
	return p
}

// Len returns the number of records in the program.
func (p *Program) Len() int {
	return len(p.records)
}

// Fetch returns the record at pc. The second result is false at end
// of program (no record for pc). The warp id is unused here but part
// of the contract so trace-driven sources can serve per-warp streams.
func (p *Program) Fetch(warpID int, pc uint64) (*insts.Instruction, bool) {
	inst, ok := p.records[pc]
	return inst, ok
}
