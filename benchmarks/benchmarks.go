// Package benchmarks provides timing benchmark infrastructure for
// TinyGPUSim calibration.
package benchmarks

import (
	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/kernels"
)

// Benchmark defines a single benchmark kernel.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Launch describes the kernel launch to admit
	Launch kernels.Launch

	// Program holds the instruction records the core fetches
	Program *kernels.Program
}

// GetMicrobenchmarks returns the standard set of microbenchmarks.
// Each benchmark targets one scheduling or memory characteristic of
// the core.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		aluThroughput(),
		dependencyChain(),
		sfuChain(),
		divergentHalves(),
		coalescedStream(),
		scatteredStream(),
		multiWarpInterleave(),
		barrierSync(),
	}
}

// GetCoreBenchmarks returns a minimal set of 3 benchmarks for quick
// validation: straight-line issue, divergence, and coalescing.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		aluThroughput(),
		divergentHalves(),
		coalescedStream(),
	}
}

// builder appends records at consecutive PCs.
type builder struct {
	prog *kernels.Program
	pc   uint64
}

func newBuilder(entry uint64) *builder {
	return &builder{prog: kernels.NewProgram(), pc: entry}
}

func (b *builder) add(inst *insts.Instruction) *builder {
	inst.PC = b.pc
	b.prog.Add(inst)
	b.pc += insts.InstBytes
	return b
}

func (b *builder) alu(class insts.OpClass, dst insts.Reg, src ...insts.Reg) *builder {
	return b.add(&insts.Instruction{Class: class, Dst: []insts.Reg{dst}, Src: src})
}

func (b *builder) load(dst insts.Reg, addrs []uint64) *builder {
	return b.add(&insts.Instruction{Class: insts.OpClassLoad, Dst: []insts.Reg{dst}, LaneAddrs: addrs})
}

func (b *builder) exit() *builder {
	return b.add(&insts.Instruction{Class: insts.OpClassExit})
}

// unitStride returns one address per lane, spaced by stride bytes.
func unitStride(base, stride uint64, lanes int) []uint64 {
	addrs := make([]uint64, lanes)
	for i := range addrs {
		addrs[i] = base + uint64(i)*stride
	}
	return addrs
}

func launch(id string, warps int) kernels.Launch {
	return kernels.Launch{KernelID: id, WarpCount: warps, EntryPC: 0, RegsPerWarp: 16}
}

// 1. ALU Throughput - independent integer operations, one issue per cycle
func aluThroughput() Benchmark {
	b := newBuilder(0)
	for i := 0; i < 16; i++ {
		b.alu(insts.OpClassIntALU, insts.Reg(i%8), insts.Reg((i+8)%16))
	}
	b.exit()
	return Benchmark{
		Name:        "alu_throughput",
		Description: "16 independent integer ops - measures issue bandwidth",
		Launch:      launch("alu_throughput", 1),
		Program:     b.prog,
	}
}

// 2. Dependency Chain - RAW chain through the FP unit, exposes latency
func dependencyChain() Benchmark {
	b := newBuilder(0)
	for i := 0; i < 16; i++ {
		b.alu(insts.OpClassFPALU, 1, 1)
	}
	b.exit()
	return Benchmark{
		Name:        "dependency_chain",
		Description: "16 chained FP ops on one register - measures scoreboard stalls",
		Launch:      launch("dependency_chain", 1),
		Program:     b.prog,
	}
}

// 3. SFU Chain - long-latency special function unit back to back
func sfuChain() Benchmark {
	b := newBuilder(0)
	for i := 0; i < 8; i++ {
		b.alu(insts.OpClassSFU, 2, 2)
	}
	b.exit()
	return Benchmark{
		Name:        "sfu_chain",
		Description: "8 chained SFU ops - measures long-latency unit occupancy",
		Launch:      launch("sfu_chain", 1),
		Program:     b.prog,
	}
}

// 4. Divergent Halves - half the warp takes the branch, both paths run
// serially, then the warp reconverges at the post-dominator.
func divergentHalves() Benchmark {
	b := newBuilder(0)
	b.add(&insts.Instruction{
		Class:        insts.OpClassBranch,
		TakenPC:      0x10,
		NotTakenPC:   0x04,
		ReconvergePC: 0x18,
		TakenLanes:   insts.LaneMaskFor(16),
	})
	// else path, 0x04..0x0c, jumps to the merge point
	b.alu(insts.OpClassIntALU, 3, 4)
	b.alu(insts.OpClassIntALU, 3, 3)
	b.add(&insts.Instruction{
		Class: insts.OpClassIntALU, Dst: []insts.Reg{3}, Src: []insts.Reg{3},
		SuccPC: 0x18,
	})
	// taken path, 0x10..0x14, falls through to the merge point
	b.alu(insts.OpClassIntALU, 5, 6)
	b.alu(insts.OpClassIntALU, 5, 5)
	// merge at 0x18
	b.alu(insts.OpClassIntALU, 7, 3)
	b.exit()
	return Benchmark{
		Name:        "divergent_halves",
		Description: "half-warp divergence with reconvergence - measures path serialization",
		Launch:      launch("divergent_halves", 1),
		Program:     b.prog,
	}
}

// 5. Coalesced Stream - unit-stride 4-byte loads, few granules per warp
func coalescedStream() Benchmark {
	b := newBuilder(0)
	for i := 0; i < 4; i++ {
		b.load(insts.Reg(8+i), unitStride(0x1000+uint64(i)*0x100, 4, 32))
	}
	b.exit()
	return Benchmark{
		Name:        "coalesced_stream",
		Description: "unit-stride loads - measures coalescing efficiency",
		Launch:      launch("coalesced_stream", 1),
		Program:     b.prog,
	}
}

// 6. Scattered Stream - granule-stride loads, one request per lane
func scatteredStream() Benchmark {
	b := newBuilder(0)
	for i := 0; i < 4; i++ {
		b.load(insts.Reg(8+i), unitStride(0x4000+uint64(i)*0x10000, 64, 32))
	}
	b.exit()
	return Benchmark{
		Name:        "scattered_stream",
		Description: "granule-stride loads - measures worst-case request fan-out",
		Launch:      launch("scattered_stream", 1),
		Program:     b.prog,
	}
}

// 7. Multi-Warp Interleave - several warps hide a dependency chain
func multiWarpInterleave() Benchmark {
	b := newBuilder(0)
	for i := 0; i < 8; i++ {
		b.alu(insts.OpClassFPALU, 1, 1)
	}
	b.exit()
	return Benchmark{
		Name:        "multi_warp_interleave",
		Description: "4 warps over a FP chain - measures latency hiding",
		Launch:      launch("multi_warp_interleave", 4),
		Program:     b.prog,
	}
}

// 8. Barrier Sync - warps meet at a barrier before the second phase
func barrierSync() Benchmark {
	b := newBuilder(0)
	b.alu(insts.OpClassIntALU, 1, 2)
	b.alu(insts.OpClassSFU, 1, 1)
	b.add(&insts.Instruction{Class: insts.OpClassBarrier})
	b.alu(insts.OpClassIntALU, 3, 1)
	b.exit()
	return Benchmark{
		Name:        "barrier_sync",
		Description: "2 warps joining at a barrier - measures barrier release timing",
		Launch:      launch("barrier_sync", 2),
		Program:     b.prog,
	}
}
