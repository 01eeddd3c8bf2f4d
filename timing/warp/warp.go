// Package warp models the per-warp SIMT state: program counter,
// status, active-thread mask, and the divergence/reconvergence stack.
//
// The divergence stack follows the standard immediate-post-dominator
// discipline: a divergent branch pushes a frame holding the original
// mask and the not-yet-executed path; reaching the reconvergence PC
// switches to the pending path first and restores the full mask once
// both paths arrived.
package warp

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/duoduoyeah/tinygpusim/insts"
)

// ErrStackUnderflow reports a pop on an empty divergence stack. It
// marks an internal invariant breach and faults the run.
var ErrStackUnderflow = errors.New("divergence stack underflow")

// Status marks where a warp is in its lifecycle.
type Status int

// All warp statuses.
const (
	StatusReady      Status = iota // next instruction can be considered for issue
	StatusStalled                  // blocked by a hazard or a busy unit this cycle
	StatusIssued                   // issued an instruction this cycle
	StatusWaitingMem               // blocked on outstanding memory requests
	StatusAtBarrier                // waiting for the kernel's other warps
	StatusRetired                  // finished; slot reclaimable
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusStalled:
		return "stalled"
	case StatusIssued:
		return "issued"
	case StatusWaitingMem:
		return "waiting_mem"
	case StatusAtBarrier:
		return "at_barrier"
	case StatusRetired:
		return "retired"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StackFrame is one divergence record.
type StackFrame struct {
	// ReconvergePC is the merge point where the frame resolves.
	ReconvergePC uint64

	// RestoreMask is the active mask before the split, restored when
	// both paths have reached the merge point.
	RestoreMask uint64

	// PendingMask covers the lanes of the not-yet-executed path.
	// Zero once the pending path has been switched in.
	PendingMask uint64

	// PendingPC is where the pending path starts.
	PendingPC uint64

	// ElseTaken marks that the pending path already ran.
	ElseTaken bool
}

// FullMask returns the mask with the low width lanes set.
func FullMask(width int) uint64 {
	return insts.LaneMaskFor(width)
}

// Warp is one resident warp. The core owns the struct; the scheduler
// mutates Status and branch resolution mutates mask and stack.
type Warp struct {
	ID       int
	KernelID string
	Width    int

	PC         uint64
	Status     Status
	ActiveMask uint64

	// NextInst buffers the fetched-but-not-issued record.
	NextInst *insts.Instruction

	// LastIssueCycle feeds age-aware scheduling policies.
	LastIssueCycle uint64

	stack []StackFrame
}

// NewWarp creates a warp with a full active mask and the mandatory
// bottom stack frame (full mask, reconverging at program end).
func NewWarp(id int, kernelID string, width int, entryPC uint64) *Warp {
	mask := FullMask(width)
	return &Warp{
		ID:         id,
		KernelID:   kernelID,
		Width:      width,
		PC:         entryPC,
		Status:     StatusReady,
		ActiveMask: mask,
		stack: []StackFrame{{
			ReconvergePC: ^uint64(0),
			RestoreMask:  mask,
		}},
	}
}

// ActiveLanes returns the population of the active mask.
func (w *Warp) ActiveLanes() int {
	return bits.OnesCount64(w.ActiveMask)
}

// StackDepth returns the divergence-stack depth, bottom frame
// included.
func (w *Warp) StackDepth() int {
	return len(w.stack)
}

// Stack returns a copy of the divergence stack, bottom first. Used
// for checkpointing and diagnostics.
func (w *Warp) Stack() []StackFrame {
	out := make([]StackFrame, len(w.stack))
	copy(out, w.stack)
	return out
}

// Resolve applies a branch record to the warp. Lanes agreeing on the
// outcome keep a single path; disagreement pushes a divergence frame
// and continues on the taken subset. Returns true when the branch
// diverged.
func (w *Warp) Resolve(branch *insts.Instruction) bool {
	taken := w.ActiveMask & branch.TakenLanes
	notTaken := w.ActiveMask &^ branch.TakenLanes

	switch {
	case notTaken == 0:
		w.PC = branch.TakenPC
		return false
	case taken == 0:
		w.PC = branch.NotTakenPC
		return false
	default:
		w.stack = append(w.stack, StackFrame{
			ReconvergePC: branch.ReconvergePC,
			RestoreMask:  w.ActiveMask,
			PendingMask:  notTaken,
			PendingPC:    branch.NotTakenPC,
		})
		w.ActiveMask = taken
		w.PC = branch.TakenPC
		return true
	}
}

// AtReconvergence reports whether the PC reached the top frame's
// merge point. The bottom frame never matches a real PC.
func (w *Warp) AtReconvergence() bool {
	if len(w.stack) == 0 {
		return false
	}
	return w.PC == w.stack[len(w.stack)-1].ReconvergePC
}

// Reconverge resolves the top frame. If the pending path has not run
// yet, the warp switches to it and the frame stays as a completed
// marker; otherwise the saved mask is restored and the frame pops.
// Returns true when the mask was restored (full reconvergence).
func (w *Warp) Reconverge() (bool, error) {
	if len(w.stack) == 0 {
		return false, fmt.Errorf("warp %d at 0x%x: %w", w.ID, w.PC, ErrStackUnderflow)
	}

	top := &w.stack[len(w.stack)-1]
	if top.PendingMask != 0 && !top.ElseTaken {
		w.ActiveMask = top.PendingMask
		w.PC = top.PendingPC
		top.PendingMask = 0
		top.ElseTaken = true
		return false, nil
	}

	w.ActiveMask = top.RestoreMask
	w.stack = w.stack[:len(w.stack)-1]
	return true, nil
}

// Retire marks the warp finished and drops its transient state.
func (w *Warp) Retire() {
	w.Status = StatusRetired
	w.NextInst = nil
}

func (w *Warp) String() string {
	return fmt.Sprintf("warp %d [%s] pc=0x%x mask=%0*b %s",
		w.ID, w.KernelID, w.PC, w.Width, w.ActiveMask, w.Status)
}
