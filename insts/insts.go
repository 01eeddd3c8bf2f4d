// Package insts defines the normalized instruction records consumed by
// the timing core.
//
// The core is ISA-neutral: an external instruction source (decoder,
// trace reader, or hand-built program) produces Instruction values and
// the core only looks at the opcode class, the register identifiers,
// and the per-lane memory addresses. This keeps the pipeline free of
// any vendor instruction-encoding coupling.
package insts

import (
	"fmt"
	"strings"
)

// InstBytes is the architectural spacing between consecutive
// instruction records. Sequential execution advances the program
// counter by this amount.
const InstBytes = 4

// OpClass identifies which execution resource an instruction needs.
type OpClass int

// All opcode classes understood by the core.
const (
	OpClassUnknown OpClass = iota
	OpClassIntALU          // integer arithmetic/logic
	OpClassFPALU           // floating-point arithmetic
	OpClassSFU             // special function (transcendental, etc.)
	OpClassLoad            // vector memory read
	OpClassStore           // vector memory write
	OpClassBranch          // control flow, possibly divergent
	OpClassBarrier         // kernel-wide synchronization point
	OpClassExit            // end of the warp's program
)

var opClassNames = map[OpClass]string{
	OpClassUnknown: "unknown",
	OpClassIntALU:  "int_alu",
	OpClassFPALU:   "fp_alu",
	OpClassSFU:     "sfu",
	OpClassLoad:    "load",
	OpClassStore:   "store",
	OpClassBranch:  "branch",
	OpClassBarrier: "barrier",
	OpClassExit:    "exit",
}

func (c OpClass) String() string {
	if name, ok := opClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("OpClass(%d)", int(c))
}

// ParseOpClass converts a class name (as used in program files) back
// to an OpClass. Unrecognized names map to OpClassUnknown.
func ParseOpClass(name string) OpClass {
	for c, n := range opClassNames {
		if n == strings.ToLower(name) {
			return c
		}
	}
	return OpClassUnknown
}

// IsMemory reports whether the class accesses the memory subsystem.
func (c OpClass) IsMemory() bool {
	return c == OpClassLoad || c == OpClassStore
}

// LaneMaskFor returns the mask with the low n lanes set.
func LaneMaskFor(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// Reg identifies a register within a warp's architectural register
// file.
type Reg uint8

// Instruction is one normalized instruction record. Records are
// immutable once handed to the core.
type Instruction struct {
	// PC is the address this record was fetched from.
	PC uint64

	// Class selects the execution unit and the latency class.
	Class OpClass

	// Dst lists destination registers. The scoreboard holds each of
	// them from issue until writeback (or memory completion).
	Dst []Reg

	// Src lists source registers.
	Src []Reg

	// LaneAddrs holds the per-lane byte address for memory
	// operations, indexed by lane. Lanes outside the warp's active
	// mask are ignored at issue.
	LaneAddrs []uint64

	// Branch control. TakenPC and NotTakenPC are the two successor
	// addresses. TakenLanes marks the lanes (before masking) that
	// take the branch; the instruction source computes outcomes, the
	// core only splits and reconverges masks. ReconvergePC is the
	// immediate post-dominator where the split paths merge.
	TakenPC      uint64
	NotTakenPC   uint64
	TakenLanes   uint64
	ReconvergePC uint64

	// SuccPC, when nonzero, overrides the sequential successor. A
	// path that ends right before a merge point uses it to land on
	// the reconvergence PC without an explicit jump record.
	SuccPC uint64

	// LatencyOverride, when nonzero, replaces the latency-class
	// lookup for this record. Used for variable-latency ops.
	LatencyOverride uint64
}

// NextPC returns the sequential successor address. Branch successors
// come from TakenPC/NotTakenPC instead.
func (i *Instruction) NextPC() uint64 {
	if i.SuccPC != 0 {
		return i.SuccPC
	}
	return i.PC + InstBytes
}

// Validate reports whether the record is well formed for its class.
// The core faults on malformed records rather than guessing defaults.
func (i *Instruction) Validate() error {
	if i.Class == OpClassUnknown {
		return fmt.Errorf("instruction at 0x%x has unknown op class", i.PC)
	}
	if i.Class.IsMemory() && len(i.LaneAddrs) == 0 {
		return fmt.Errorf("%s at 0x%x carries no lane addresses", i.Class, i.PC)
	}
	if i.Class == OpClassBranch && i.TakenPC == i.PC {
		return fmt.Errorf("branch at 0x%x targets itself on the taken path", i.PC)
	}
	return nil
}

func (i *Instruction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%04x %s", i.PC, i.Class)
	if len(i.Dst) > 0 {
		fmt.Fprintf(&sb, " dst=%v", i.Dst)
	}
	if len(i.Src) > 0 {
		fmt.Fprintf(&sb, " src=%v", i.Src)
	}
	if i.Class == OpClassBranch {
		fmt.Fprintf(&sb, " taken=0x%x reconv=0x%x", i.TakenPC, i.ReconvergePC)
	}
	return sb.String()
}
