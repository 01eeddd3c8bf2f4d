// Package main provides the entry point for TinyGPUSim.
// TinyGPUSim is a cycle-level simulator of one SIMT GPU compute core.
//
// For the full CLI, use: go run ./cmd/tinygpusim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("TinyGPUSim - SIMT GPU Core Simulator")
	fmt.Println("")
	fmt.Println("Usage: tinygpusim [options] <program.json>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config    Path to core configuration JSON file")
	fmt.Println("  -cycles    Cycle budget before the run is cut off")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/tinygpusim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/tinygpusim' instead.")
	}
}
