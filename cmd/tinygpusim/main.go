// Package main provides the TinyGPUSim CLI.
//
// TinyGPUSim simulates one SIMT compute core at cycle level. It takes
// a JSON program file (launch descriptor plus normalized instruction
// records), runs it to completion, and prints the counter report.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/tebeka/atexit"

	"github.com/duoduoyeah/tinygpusim/loader"
	"github.com/duoduoyeah/tinygpusim/metrics"
	"github.com/duoduoyeah/tinygpusim/timing/core"
	"github.com/duoduoyeah/tinygpusim/timing/latency"
	"github.com/duoduoyeah/tinygpusim/timing/memsys"
)

var (
	configPath = flag.String("config", "", "Path to core configuration JSON file")
	maxCycles  = flag.Uint64("cycles", 10_000_000, "Cycle budget before the run is cut off")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: tinygpusim [options] <program.json>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		atexit.Exit(1)
	}

	programPath := flag.Arg(0)

	cfg := latency.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = latency.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			atexit.Exit(1)
		}
	}

	launch, program, err := loader.Load(programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		atexit.Exit(1)
	}

	if *verbose {
		fmt.Printf("Loaded: %s\n", programPath)
		fmt.Printf("Kernel: %s (%d warps, entry 0x%x)\n",
			launch.KernelID, launch.WarpCount, launch.EntryPC)
		fmt.Printf("Instructions: %d\n", program.Len())
	}

	subsystem := memsys.NewLatencySubsystem(memsys.DefaultSubsystemConfig())
	c, err := core.NewCore(cfg, program, subsystem)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building core: %v\n", err)
		atexit.Exit(1)
	}

	if err := c.Launch(launch); err != nil {
		fmt.Fprintf(os.Stderr, "Error launching kernel: %v\n", err)
		atexit.Exit(1)
	}

	// The report covers every fully completed cycle, so print it even
	// when the run faults or runs out of budget.
	atexit.Register(func() { printReport(c) })

	if err := c.Run(*maxCycles); err != nil {
		fmt.Fprintf(os.Stderr, "Run stopped: %v\n", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func printReport(c *core.Core) {
	snap := c.Metrics()

	header := color.New(color.FgCyan, color.Bold)
	header.Println("\n=== TinyGPUSim Report ===")

	fmt.Printf("State:                %s\n", c.State())
	if f := c.Fault(); f != nil {
		color.Red("Fault:                %s", f)
	}
	fmt.Printf("Cycles:               %d\n", snap.Cycles)
	fmt.Printf("Instructions issued:  %d\n", snap.InstructionsIssued)
	fmt.Printf("Instructions retired: %d\n", snap.InstructionsRetired)
	fmt.Printf("IPC:                  %.3f\n", snap.IPC())
	fmt.Printf("Warps:                %d launched, %d retired\n",
		snap.WarpsLaunched, snap.WarpsRetired)
	fmt.Printf("Branches:             %d resolved, %d diverged, %d reconvergences\n",
		snap.BranchesResolved, snap.BranchesDiverged, snap.Reconvergences)
	fmt.Printf("Memory:               %d instructions -> %d requests (%d lanes)\n",
		snap.MemInstructions, snap.MemRequests, snap.LanesCoalesced)

	fmt.Printf("Stalls:               %d total\n", snap.TotalStalls())
	causes := make([]metrics.StallCause, 0, len(snap.Stalls))
	for cause := range snap.Stalls {
		causes = append(causes, cause)
	}
	sort.Slice(causes, func(i, j int) bool { return causes[i] < causes[j] })
	for _, cause := range causes {
		fmt.Printf("  %-18s %d\n", cause.String()+":", snap.Stalls[cause])
	}

	names := make([]string, 0, len(snap.Units))
	for name := range snap.Units {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		u := snap.Units[name]
		fmt.Printf("Unit %-8s         %d issued, %.1f%% busy\n",
			name, u.Issued, 100*u.Utilization())
	}
}
