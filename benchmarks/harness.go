package benchmarks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/duoduoyeah/tinygpusim/metrics"
	"github.com/duoduoyeah/tinygpusim/timing/core"
	"github.com/duoduoyeah/tinygpusim/timing/latency"
	"github.com/duoduoyeah/tinygpusim/timing/memsys"
)

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// FinalState is the run state the core ended in
	FinalState string `json:"final_state"`

	// SimulatedCycles is the total cycle count from the timing core
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsIssued counts warp-instructions accepted by a unit
	InstructionsIssued uint64 `json:"instructions_issued"`

	// InstructionsRetired counts warp-instructions that wrote back
	InstructionsRetired uint64 `json:"instructions_retired"`

	// IPC is retired instructions per cycle
	IPC float64 `json:"ipc"`

	// ScoreboardStalls counts cycles a warp lost to register hazards
	ScoreboardStalls uint64 `json:"scoreboard_stalls"`

	// UnitStalls counts cycles a warp lost to a busy execution unit
	UnitStalls uint64 `json:"unit_stalls"`

	// MemStalls counts cycles a warp lost to memory backpressure
	MemStalls uint64 `json:"mem_stalls"`

	// IdleCycles counts cycles with no ready warp at all
	IdleCycles uint64 `json:"idle_cycles"`

	// BranchesDiverged counts branches that split the active mask
	BranchesDiverged uint64 `json:"branches_diverged"`

	// Reconvergences counts full mask restorations
	Reconvergences uint64 `json:"reconvergences"`

	// MemRequests is the physical request count after coalescing
	MemRequests uint64 `json:"mem_requests"`

	// LanesCoalesced is the total lane count those requests covered
	LanesCoalesced uint64 `json:"lanes_coalesced"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Core is the core configuration to run under (nil means default)
	Core *latency.Config

	// Subsystem configures the memory model behind the core
	Subsystem memsys.SubsystemConfig

	// MaxCycles is the per-benchmark cycle budget
	MaxCycles uint64

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Verbose enables detailed output
	Verbose bool
}

// DefaultHarnessConfig returns a default harness configuration.
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		Core:      latency.DefaultConfig(),
		Subsystem: memsys.DefaultSubsystemConfig(),
		MaxCycles: 1_000_000,
		Output:    os.Stdout,
		Verbose:   false,
	}
}

// Harness runs timing benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Core == nil {
		config.Core = latency.DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.MaxCycles == 0 {
		config.MaxCycles = 1_000_000
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results.
func (h *Harness) RunAll() ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		result, err := h.runBenchmark(bench)
		if err != nil {
			return results, fmt.Errorf("benchmark %s: %w", bench.Name, err)
		}
		results = append(results, result)
	}

	return results, nil
}

// runBenchmark executes a single benchmark on a fresh core.
func (h *Harness) runBenchmark(bench Benchmark) (BenchmarkResult, error) {
	subsystem := memsys.NewLatencySubsystem(h.config.Subsystem)
	c, err := core.NewCore(h.config.Core.Clone(), bench.Program, subsystem)
	if err != nil {
		return BenchmarkResult{}, err
	}
	if err := c.Launch(bench.Launch); err != nil {
		return BenchmarkResult{}, err
	}

	start := time.Now()
	runErr := c.Run(h.config.MaxCycles)
	wallTime := time.Since(start)
	if runErr != nil {
		return BenchmarkResult{}, runErr
	}

	snap := c.Metrics()
	return BenchmarkResult{
		Name:                bench.Name,
		Description:         bench.Description,
		FinalState:          c.State().String(),
		SimulatedCycles:     snap.Cycles,
		InstructionsIssued:  snap.InstructionsIssued,
		InstructionsRetired: snap.InstructionsRetired,
		IPC:                 snap.IPC(),
		ScoreboardStalls:    snap.Stalls[metrics.StallScoreboard],
		UnitStalls:          snap.Stalls[metrics.StallUnitBusy],
		MemStalls:           snap.Stalls[metrics.StallMemPending],
		IdleCycles:          snap.Stalls[metrics.StallNoReadyWarp],
		BranchesDiverged:    snap.BranchesDiverged,
		Reconvergences:      snap.Reconvergences,
		MemRequests:         snap.MemRequests,
		LanesCoalesced:      snap.LanesCoalesced,
		WallTime:            wallTime,
	}, nil
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "=== TinyGPUSim Benchmark Results ===")
	_, _ = fmt.Fprintln(h.config.Output, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(h.config.Output, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(h.config.Output, "  Final State: %s\n", r.FinalState)
		_, _ = fmt.Fprintln(h.config.Output, "  --- Timing ---")
		_, _ = fmt.Fprintf(h.config.Output, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(h.config.Output, "  Instructions Issued:  %d\n", r.InstructionsIssued)
		_, _ = fmt.Fprintf(h.config.Output, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(h.config.Output, "  IPC:                  %.3f\n", r.IPC)
		_, _ = fmt.Fprintf(h.config.Output, "  Scoreboard Stalls:    %d\n", r.ScoreboardStalls)
		_, _ = fmt.Fprintf(h.config.Output, "  Unit Stalls:          %d\n", r.UnitStalls)
		_, _ = fmt.Fprintf(h.config.Output, "  Mem Stalls:           %d\n", r.MemStalls)
		_, _ = fmt.Fprintf(h.config.Output, "  Idle Cycles:          %d\n", r.IdleCycles)

		if r.BranchesDiverged > 0 || r.Reconvergences > 0 {
			_, _ = fmt.Fprintln(h.config.Output, "  --- Divergence ---")
			_, _ = fmt.Fprintf(h.config.Output, "  Diverged:       %d\n", r.BranchesDiverged)
			_, _ = fmt.Fprintf(h.config.Output, "  Reconvergences: %d\n", r.Reconvergences)
		}

		if r.MemRequests > 0 {
			_, _ = fmt.Fprintln(h.config.Output, "  --- Memory ---")
			_, _ = fmt.Fprintf(h.config.Output, "  Requests:       %d\n", r.MemRequests)
			_, _ = fmt.Fprintf(h.config.Output, "  Lanes Covered:  %d\n", r.LanesCoalesced)
			if r.MemRequests > 0 {
				_, _ = fmt.Fprintf(h.config.Output, "  Lanes/Request:  %.2f\n",
					float64(r.LanesCoalesced)/float64(r.MemRequests))
			}
		}

		_, _ = fmt.Fprintf(h.config.Output, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(h.config.Output, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,cycles,issued,retired,ipc,sb_stalls,unit_stalls,mem_stalls,idle,diverged,reconv,mem_reqs,lanes")
	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output,
			"%s,%d,%d,%d,%.3f,%d,%d,%d,%d,%d,%d,%d,%d\n",
			r.Name, r.SimulatedCycles, r.InstructionsIssued, r.InstructionsRetired,
			r.IPC, r.ScoreboardStalls, r.UnitStalls, r.MemStalls, r.IdleCycles,
			r.BranchesDiverged, r.Reconvergences, r.MemRequests, r.LanesCoalesced)
	}
}

// SaveJSON writes results to a JSON file for later comparison runs.
func SaveJSON(path string, results []BenchmarkResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	return nil
}

// LoadJSON reads results previously written by SaveJSON.
func LoadJSON(path string) ([]BenchmarkResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	var results []BenchmarkResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse results file: %w", err)
	}
	return results, nil
}
