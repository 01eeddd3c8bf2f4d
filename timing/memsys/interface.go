// Package memsys implements the core's memory request interface:
// address coalescing, pending-request tracking, and the contract with
// the external memory subsystem.
//
// Per-lane addresses of a memory instruction are grouped into aligned
// granules; each granule becomes one physical request with a unique
// handle. The subsystem signals completion per handle, exactly once,
// in any order; the instruction finishes only when every one of its
// requests completed. Completions are buffered and drained by the
// driver at the start of a cycle, never applied mid-cycle, to keep
// the per-cycle ordering deterministic.
package memsys

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/rs/xid"

	"github.com/duoduoyeah/tinygpusim/insts"
)

// Issue failure classes. Port exhaustion is backpressure the issuing
// core retries next cycle; the others are invariant breaches.
var (
	// ErrPortBusy reports that the memory port's instruction
	// occupancy is exhausted.
	ErrPortBusy = errors.New("memory port occupancy exhausted")

	// ErrNoActiveLanes reports a memory record whose lane addresses
	// cover none of the warp's active lanes.
	ErrNoActiveLanes = errors.New("memory instruction covers no active lanes")
)

// Request is one coalesced physical memory request.
type Request struct {
	// Handle uniquely identifies the request for completion matching.
	Handle string

	// WarpID and PC identify the originating instruction.
	WarpID int
	PC     uint64

	// GranuleAddr is the aligned granule base address.
	GranuleAddr uint64

	// LaneMask marks the lanes served by this request.
	LaneMask uint64

	// Addrs are the originating per-lane byte addresses, in lane
	// order.
	Addrs []uint64

	// Store distinguishes writes from reads.
	Store bool

	// IssueCycle is when the request was submitted.
	IssueCycle uint64
}

// Subsystem is the external memory-subsystem collaborator. Submit
// hands over one physical request; the subsystem must later signal
// completion exactly once through the Interface's Complete, no
// earlier than MinLatency cycles after submission.
type Subsystem interface {
	Submit(req *Request)
	MinLatency() uint64
}

// CycleDriven is implemented by subsystems that the core drives in
// lockstep. Tick delivers all completions due at the given cycle.
type CycleDriven interface {
	Tick(cycle uint64) error
}

// Finished reports a memory instruction whose physical requests all
// completed.
type Finished struct {
	WarpID int
	Inst   *insts.Instruction
}

type inflight struct {
	inst        *insts.Instruction
	outstanding int
}

// Interface is the core-side memory request tracker.
type Interface struct {
	granule        uint64
	maxOutstanding int
	subsystem      Subsystem

	requests map[string]*Request
	byWarp   map[int]*inflight
	finished []Finished
}

// NewInterface creates the request interface. granule must be a power
// of two (validated by the core configuration).
func NewInterface(granule uint64, maxOutstanding int, subsystem Subsystem) *Interface {
	return &Interface{
		granule:        granule,
		maxOutstanding: maxOutstanding,
		subsystem:      subsystem,
		requests:       make(map[string]*Request),
		byWarp:         make(map[int]*inflight),
	}
}

// CanAccept reports whether the memory port has occupancy for one
// more in-flight memory instruction.
func (m *Interface) CanAccept() bool {
	return len(m.byWarp) < m.maxOutstanding
}

// Issue coalesces the instruction's active-lane addresses and submits
// one physical request per touched granule. Returns the number of
// physical requests created.
func (m *Interface) Issue(
	warpID int,
	inst *insts.Instruction,
	activeMask uint64,
	cycle uint64,
) (int, error) {
	if !m.CanAccept() {
		return 0, ErrPortBusy
	}
	if _, busy := m.byWarp[warpID]; busy {
		return 0, fmt.Errorf("warp %d already has a memory instruction in flight", warpID)
	}
	lanes := activeMask & insts.LaneMaskFor(len(inst.LaneAddrs))
	if lanes == 0 {
		return 0, fmt.Errorf("at 0x%x: %w", inst.PC, ErrNoActiveLanes)
	}

	// Group active lanes by granule in first-touch order so request
	// creation is deterministic.
	var order []uint64
	groups := make(map[uint64]*Request)
	for lane := 0; lane < len(inst.LaneAddrs); lane++ {
		if lanes&(1<<lane) == 0 {
			continue
		}
		addr := inst.LaneAddrs[lane]
		base := addr &^ (m.granule - 1)
		req, ok := groups[base]
		if !ok {
			req = &Request{
				Handle:      xid.New().String(),
				WarpID:      warpID,
				PC:          inst.PC,
				GranuleAddr: base,
				Store:       inst.Class == insts.OpClassStore,
				IssueCycle:  cycle,
			}
			groups[base] = req
			order = append(order, base)
		}
		req.LaneMask |= 1 << lane
		req.Addrs = append(req.Addrs, addr)
	}

	m.byWarp[warpID] = &inflight{inst: inst, outstanding: len(order)}
	for _, base := range order {
		req := groups[base]
		m.requests[req.Handle] = req
		m.subsystem.Submit(req)
	}
	return len(order), nil
}

// Complete marks one physical request done. Calling it with an
// unknown handle, or a second time for the same handle, is a protocol
// violation and returns an error for the core to fault on.
func (m *Interface) Complete(handle string) error {
	req, ok := m.requests[handle]
	if !ok {
		return fmt.Errorf("memory completion for unknown or already-completed request %s", handle)
	}
	delete(m.requests, handle)

	fl := m.byWarp[req.WarpID]
	if fl == nil {
		return fmt.Errorf("memory completion %s for warp %d with no instruction in flight",
			handle, req.WarpID)
	}
	fl.outstanding--
	if fl.outstanding == 0 {
		m.finished = append(m.finished, Finished{WarpID: req.WarpID, Inst: fl.inst})
		delete(m.byWarp, req.WarpID)
	}
	return nil
}

// DrainFinished returns the instructions that completed since the
// last drain, in completion order, and clears the buffer. The driver
// calls this once per cycle, first thing.
func (m *Interface) DrainFinished() []Finished {
	out := m.finished
	m.finished = nil
	return out
}

// OutstandingRequests returns the number of in-flight physical
// requests.
func (m *Interface) OutstandingRequests() int {
	return len(m.requests)
}

// OutstandingInstructions returns the number of memory instructions
// still waiting on completions.
func (m *Interface) OutstandingInstructions() int {
	return len(m.byWarp)
}

// LaneCount returns the number of lanes a request serves.
func (r *Request) LaneCount() int {
	return bits.OnesCount64(r.LaneMask)
}

// Abort discards all in-flight requests and buffered completions
// without side effects.
func (m *Interface) Abort() {
	m.requests = make(map[string]*Request)
	m.byWarp = make(map[int]*inflight)
	m.finished = nil
}
