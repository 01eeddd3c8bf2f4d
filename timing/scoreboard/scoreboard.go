// Package scoreboard tracks per-warp register dependencies.
//
// Each destination register of an in-flight instruction holds a
// writer count from issue to writeback. A nonzero count blocks both
// readers (read-after-write) and, in the default in-order mode,
// rewriters (write-after-write).
package scoreboard

import (
	"fmt"

	"github.com/duoduoyeah/tinygpusim/insts"
)

// Mode selects the hazard discipline.
type Mode int

// Hazard modes.
const (
	// ModeInOrder blocks issue while any source or destination
	// register has an in-flight writer.
	ModeInOrder Mode = iota
	// ModeOutOfOrder permits concurrent writers to one register;
	// only source registers with in-flight writers block.
	ModeOutOfOrder
)

// Scoreboard is the hazard tracker for all resident warps.
type Scoreboard struct {
	mode    Mode
	writers map[int]map[insts.Reg]int
}

// New creates an empty scoreboard.
func New(mode Mode) *Scoreboard {
	return &Scoreboard{
		mode:    mode,
		writers: make(map[int]map[insts.Reg]int),
	}
}

// Mode returns the configured hazard discipline.
func (s *Scoreboard) Mode() Mode {
	return s.mode
}

// Acquire increments the writer count of each destination register at
// issue time.
func (s *Scoreboard) Acquire(warpID int, dst []insts.Reg) {
	if len(dst) == 0 {
		return
	}
	regs, ok := s.writers[warpID]
	if !ok {
		regs = make(map[insts.Reg]int)
		s.writers[warpID] = regs
	}
	for _, r := range dst {
		regs[r]++
	}
}

// Release decrements writer counts at writeback or memory completion.
// A count going negative is an invariant breach and returns an error
// for the core to fault on.
func (s *Scoreboard) Release(warpID int, dst []insts.Reg) error {
	regs := s.writers[warpID]
	for _, r := range dst {
		if regs[r] <= 0 {
			return fmt.Errorf(
				"scoreboard release of warp %d reg %d with no in-flight writer",
				warpID, r)
		}
		regs[r]--
		if regs[r] == 0 {
			delete(regs, r)
		}
	}
	return nil
}

// IsReady reports whether the instruction can issue without a
// register hazard for the given warp.
func (s *Scoreboard) IsReady(warpID int, inst *insts.Instruction) bool {
	regs := s.writers[warpID]
	if len(regs) == 0 {
		return true
	}
	for _, r := range inst.Src {
		if regs[r] > 0 {
			return false
		}
	}
	if s.mode == ModeInOrder {
		for _, r := range inst.Dst {
			if regs[r] > 0 {
				return false
			}
		}
	}
	return true
}

// PendingWriters returns the total in-flight writer count for a warp.
// Feeds the loosest-scoreboard scheduling policy.
func (s *Scoreboard) PendingWriters(warpID int) int {
	total := 0
	for _, n := range s.writers[warpID] {
		total += n
	}
	return total
}

// FreeWarp drops all state for a warp on retirement or abort.
func (s *Scoreboard) FreeWarp(warpID int) {
	delete(s.writers, warpID)
}

// Reset clears the whole scoreboard.
func (s *Scoreboard) Reset() {
	s.writers = make(map[int]map[insts.Reg]int)
}
