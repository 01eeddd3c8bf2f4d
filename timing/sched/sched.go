// Package sched provides pluggable warp-selection policies.
//
// A policy is a pure selection function over the cycle's ready-warp
// list; any state it keeps (like the round-robin cursor) lives inside
// the policy value. The core applies the returned order up to the
// configured scheduler width.
package sched

import (
	"fmt"
	"sort"

	"github.com/duoduoyeah/tinygpusim/timing/latency"
)

// ReadyWarp is the per-warp view a policy selects from.
type ReadyWarp struct {
	// ID is the warp id; ties always break ascending on it.
	ID int

	// PendingWriters is the warp's in-flight scoreboard writer count.
	PendingWriters int

	// LastIssueCycle is the cycle the warp last issued (0 if never).
	LastIssueCycle uint64
}

// Policy orders the ready warps for issue.
type Policy interface {
	Name() string

	// Select returns warp ids in issue order, at most width entries.
	// The ready slice is sorted by ascending warp id on entry.
	Select(ready []ReadyWarp, cycle uint64, width int) []int
}

// New builds a policy from its configuration name.
func New(name string) (Policy, error) {
	switch name {
	case latency.PolicyRoundRobin:
		return &RoundRobin{lastID: -1}, nil
	case latency.PolicyGreedyThenOldest:
		return &GreedyThenOldest{lastID: -1}, nil
	case latency.PolicyLoosestScoreboard:
		return &LoosestScoreboard{}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler policy %q", name)
	}
}

// RoundRobin starts each selection just past the previously selected
// warp id, so every ready warp is picked within N cycles of becoming
// ready (N = resident warps).
type RoundRobin struct {
	lastID int
}

// Name implements Policy.
func (p *RoundRobin) Name() string { return latency.PolicyRoundRobin }

// Select implements Policy.
func (p *RoundRobin) Select(ready []ReadyWarp, cycle uint64, width int) []int {
	if len(ready) == 0 {
		return nil
	}

	// First ready warp with id greater than the previous pick, then
	// wrap around.
	start := 0
	for i, rw := range ready {
		if rw.ID > p.lastID {
			start = i
			break
		}
	}

	n := min(width, len(ready))
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ready[(start+i)%len(ready)].ID)
	}
	p.lastID = out[len(out)-1]
	return out
}

// GreedyThenOldest keeps issuing from the warp that issued last
// cycle while it stays ready, then falls back to the warp that has
// waited longest.
type GreedyThenOldest struct {
	lastID int
}

// Name implements Policy.
func (p *GreedyThenOldest) Name() string { return latency.PolicyGreedyThenOldest }

// Select implements Policy.
func (p *GreedyThenOldest) Select(ready []ReadyWarp, cycle uint64, width int) []int {
	if len(ready) == 0 {
		return nil
	}

	ordered := make([]ReadyWarp, len(ready))
	copy(ordered, ready)
	sort.SliceStable(ordered, func(i, j int) bool {
		gi := ordered[i].ID == p.lastID
		gj := ordered[j].ID == p.lastID
		if gi != gj {
			return gi
		}
		if ordered[i].LastIssueCycle != ordered[j].LastIssueCycle {
			return ordered[i].LastIssueCycle < ordered[j].LastIssueCycle
		}
		return ordered[i].ID < ordered[j].ID
	})

	n := min(width, len(ordered))
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ordered[i].ID)
	}
	p.lastID = out[0]
	return out
}

// LoosestScoreboard prefers warps with the fewest in-flight writers,
// favoring warps least likely to stall next cycle.
type LoosestScoreboard struct{}

// Name implements Policy.
func (p *LoosestScoreboard) Name() string { return latency.PolicyLoosestScoreboard }

// Select implements Policy.
func (p *LoosestScoreboard) Select(ready []ReadyWarp, cycle uint64, width int) []int {
	if len(ready) == 0 {
		return nil
	}

	ordered := make([]ReadyWarp, len(ready))
	copy(ordered, ready)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].PendingWriters != ordered[j].PendingWriters {
			return ordered[i].PendingWriters < ordered[j].PendingWriters
		}
		return ordered[i].ID < ordered[j].ID
	})

	n := min(width, len(ordered))
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ordered[i].ID)
	}
	return out
}
