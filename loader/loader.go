// Package loader reads kernel program files for the simulator CLI.
//
// A program file is JSON: one launch descriptor plus the normalized
// instruction records the core will fetch. Binary/ISA decoding is the
// job of an external toolchain; by the time a file reaches the
// loader, every instruction is already a normalized record.
package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/kernels"
)

// InstRecord is the on-disk form of one instruction.
type InstRecord struct {
	PC    uint64      `json:"pc"`
	Class string      `json:"class"`
	Dst   []insts.Reg `json:"dst,omitempty"`
	Src   []insts.Reg `json:"src,omitempty"`

	LaneAddrs []uint64 `json:"lane_addrs,omitempty"`

	TakenPC      uint64 `json:"taken_pc,omitempty"`
	NotTakenPC   uint64 `json:"not_taken_pc,omitempty"`
	TakenLanes   uint64 `json:"taken_lanes,omitempty"`
	ReconvergePC uint64 `json:"reconverge_pc,omitempty"`

	SuccPC          uint64 `json:"succ_pc,omitempty"`
	LatencyOverride uint64 `json:"latency_override,omitempty"`
}

// File is the on-disk form of one program file.
type File struct {
	Kernel       kernels.Launch `json:"kernel"`
	Instructions []InstRecord   `json:"instructions"`
}

// Load reads a program file and returns the launch descriptor and
// the program backing it.
func Load(path string) (kernels.Launch, *kernels.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return kernels.Launch{}, nil, fmt.Errorf("failed to read program file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return kernels.Launch{}, nil, fmt.Errorf("failed to parse program file: %w", err)
	}
	if err := file.Kernel.Validate(); err != nil {
		return kernels.Launch{}, nil, err
	}
	if len(file.Instructions) == 0 {
		return kernels.Launch{}, nil, fmt.Errorf("program file %s has no instructions", path)
	}

	program := kernels.NewProgram()
	for i, rec := range file.Instructions {
		class := insts.ParseOpClass(rec.Class)
		if class == insts.OpClassUnknown {
			return kernels.Launch{}, nil, fmt.Errorf(
				"instruction %d has unknown class %q", i, rec.Class)
		}
		inst := &insts.Instruction{
			PC:              rec.PC,
			Class:           class,
			Dst:             rec.Dst,
			Src:             rec.Src,
			LaneAddrs:       rec.LaneAddrs,
			TakenPC:         rec.TakenPC,
			NotTakenPC:      rec.NotTakenPC,
			TakenLanes:      rec.TakenLanes,
			ReconvergePC:    rec.ReconvergePC,
			SuccPC:          rec.SuccPC,
			LatencyOverride: rec.LatencyOverride,
		}
		if err := inst.Validate(); err != nil {
			return kernels.Launch{}, nil, err
		}
		program.Add(inst)
	}

	return file.Kernel, program, nil
}

// Save writes a program file, the inverse of Load. Useful for
// generating test inputs from builder-constructed programs.
func Save(path string, file *File) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize program file: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write program file: %w", err)
	}
	return nil
}
