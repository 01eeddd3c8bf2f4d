// Package core provides the cycle-level driver of one SIMT compute
// core: launch admission, the per-cycle phase order, and the run
// state machine.
//
// Every cycle executes, strictly in this order: (1) deliver memory
// completions, (2) advance execution-unit latencies and process
// writebacks, (3) schedule and issue ready warps, (4) resolve
// branches issued this cycle and release satisfied barriers, (5)
// advance the cycle counter. The
// fixed order makes runs reproducible: replaying the same programs
// against a fresh core yields identical counters.
package core

import (
	"errors"
	"fmt"

	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/kernels"
	"github.com/duoduoyeah/tinygpusim/metrics"
	"github.com/duoduoyeah/tinygpusim/timing/exec"
	"github.com/duoduoyeah/tinygpusim/timing/latency"
	"github.com/duoduoyeah/tinygpusim/timing/memsys"
	"github.com/duoduoyeah/tinygpusim/timing/scoreboard"
	"github.com/duoduoyeah/tinygpusim/timing/sched"
	"github.com/duoduoyeah/tinygpusim/timing/warp"
)

// ErrInsufficientResources rejects a launch that does not fit the
// core's warp slots or register file. The caller queues the launch
// externally; the core never queues.
var ErrInsufficientResources = errors.New("insufficient resources for launch")

// InstructionSource supplies decoded instruction records. The second
// result is false at end of program.
type InstructionSource interface {
	Fetch(warpID int, pc uint64) (*insts.Instruction, bool)
}

type pendingBranch struct {
	w    *warp.Warp
	inst *insts.Instruction
}

// Option configures a Core at construction.
type Option func(*Core)

// WithPolicy overrides the policy named in the configuration with a
// custom implementation.
func WithPolicy(p sched.Policy) Option {
	return func(c *Core) { c.policy = p }
}

// Core is one SIMT compute core.
type Core struct {
	cfg    *latency.Config
	table  *latency.Table
	source InstructionSource

	pool      *exec.Pool
	sb        *scoreboard.Scoreboard
	policy    sched.Policy
	msys      *memsys.Interface
	subsystem memsys.Subsystem

	warps    []*warp.Warp
	warpByID map[int]*warp.Warp
	warpRegs map[int]int
	regsUsed int
	nextID   int

	branches []pendingBranch

	collector *metrics.Collector
	cycle     uint64
	state     State
	fault     *Fault
}

// NewCore builds a core from its static configuration. Configuration
// errors are fatal: the constructor fails and no run ever starts.
func NewCore(
	cfg *latency.Config,
	source InstructionSource,
	subsystem memsys.Subsystem,
	opts ...Option,
) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid core configuration: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("invalid core configuration: no instruction source")
	}
	if subsystem == nil {
		return nil, fmt.Errorf("invalid core configuration: no memory subsystem")
	}

	hazard := scoreboard.ModeInOrder
	if cfg.HazardMode == latency.HazardOutOfOrder {
		hazard = scoreboard.ModeOutOfOrder
	}

	c := &Core{
		cfg:       cfg,
		table:     latency.NewTableWithConfig(cfg),
		source:    source,
		pool:      exec.NewPool(cfg),
		sb:        scoreboard.New(hazard),
		msys:      memsys.NewInterface(cfg.GranuleSize, cfg.MemMaxOutstanding, subsystem),
		subsystem: subsystem,
		warpByID:  make(map[int]*warp.Warp),
		warpRegs:  make(map[int]int),
		collector: metrics.NewCollector(),
		state:     StateUninitialized,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.policy == nil {
		p, err := sched.New(cfg.SchedulerPolicy)
		if err != nil {
			return nil, fmt.Errorf("invalid core configuration: %w", err)
		}
		c.policy = p
	}

	if binder, ok := subsystem.(interface {
		Bind(sink interface{ Complete(handle string) error })
	}); ok {
		binder.Bind(c.msys)
	}

	return c, nil
}

// Launch admits one kernel launch. All of its warps are created
// Ready at the launch's entry PC. Returns ErrInsufficientResources
// when the core lacks warp slots or register-file capacity; the
// launch is then untouched and may be retried after retirements.
func (c *Core) Launch(l kernels.Launch) error {
	if c.state == StateFaulted || c.state == StateTerminated {
		return fmt.Errorf("core is %s", c.state)
	}
	if err := l.Validate(); err != nil {
		return err
	}

	if c.ResidentWarps()+l.WarpCount > c.cfg.ResidentWarpCapacity {
		return fmt.Errorf("%w: %d warp slots free, launch %s needs %d",
			ErrInsufficientResources,
			c.cfg.ResidentWarpCapacity-c.ResidentWarps(), l.KernelID, l.WarpCount)
	}
	regsNeeded := l.WarpCount * l.RegsPerWarp
	if c.regsUsed+regsNeeded > c.cfg.RegFileSize {
		return fmt.Errorf("%w: %d registers free, launch %s needs %d",
			ErrInsufficientResources,
			c.cfg.RegFileSize-c.regsUsed, l.KernelID, regsNeeded)
	}

	for i := 0; i < l.WarpCount; i++ {
		w := warp.NewWarp(c.nextID, l.KernelID, c.cfg.WarpWidth, l.EntryPC)
		c.nextID++
		c.warps = append(c.warps, w)
		c.warpByID[w.ID] = w
		c.warpRegs[w.ID] = l.RegsPerWarp
	}
	c.regsUsed += regsNeeded
	c.collector.AddWarpsLaunched(l.WarpCount)
	return nil
}

// ResidentWarps returns the number of occupied warp slots (warps not
// yet retired).
func (c *Core) ResidentWarps() int {
	n := 0
	for _, w := range c.warps {
		if w.Status != warp.StatusRetired {
			n++
		}
	}
	return n
}

// State returns the run state.
func (c *Core) State() State { return c.state }

// Cycle returns the number of fully completed cycles.
func (c *Core) Cycle() uint64 { return c.cycle }

// Fault returns the diagnostic of a Faulted run, nil otherwise.
func (c *Core) Fault() *Fault { return c.fault }

// Metrics returns a counter snapshot valid at the last cycle
// boundary.
func (c *Core) Metrics() metrics.Snapshot {
	for _, u := range c.pool.Units() {
		c.collector.SetUnitStats(u.Name(), u.Stats())
	}
	return c.collector.Snapshot()
}

// Run ticks the core until it completes, faults, or exceeds
// maxCycles (0 means no bound). Returns the fault as an error when
// the run faulted.
func (c *Core) Run(maxCycles uint64) error {
	if c.state == StateUninitialized || c.state == StatePaused {
		c.state = StateRunning
	}
	for c.state == StateRunning {
		if maxCycles > 0 && c.cycle >= maxCycles {
			c.state = StatePaused
			return fmt.Errorf("cycle budget of %d exhausted", maxCycles)
		}
		if err := c.Tick(); err != nil {
			return err
		}
	}
	if c.state == StateFaulted {
		return c.fault
	}
	return nil
}

// Pause suspends a running core at the current cycle boundary.
func (c *Core) Pause() {
	if c.state == StateRunning {
		c.state = StatePaused
	}
}

// Abort cancels the run: all in-flight warps and memory requests are
// discarded without retirement side effects. Counters up to the last
// fully completed cycle remain valid.
func (c *Core) Abort() {
	c.pool.Flush()
	c.msys.Abort()
	c.branches = nil
	for _, w := range c.warps {
		w.Retire()
	}
	c.state = StateTerminated
}

// Reset returns the core to Uninitialized with all counters cleared.
func (c *Core) Reset() {
	c.pool = exec.NewPool(c.cfg)
	c.sb.Reset()
	c.msys.Abort()
	c.branches = nil
	c.warps = nil
	c.warpByID = make(map[int]*warp.Warp)
	c.warpRegs = make(map[int]int)
	c.regsUsed = 0
	c.nextID = 0
	c.collector.Reset()
	c.cycle = 0
	c.fault = nil
	c.state = StateUninitialized
	if r, ok := c.subsystem.(interface{ Reset() }); ok {
		r.Reset()
	}
}

// Tick advances the core by one cycle. On an unrecoverable condition
// the run transitions to Faulted and the fault is returned.
func (c *Core) Tick() error {
	switch c.state {
	case StateUninitialized, StatePaused:
		c.state = StateRunning
	case StateRunning:
	default:
		return fmt.Errorf("cannot tick a %s core", c.state)
	}

	// Phase 1: deliver memory completions due this cycle.
	if err := c.deliverCompletions(); err != nil {
		return err
	}

	// Phase 2: advance unit latencies, process writebacks.
	if err := c.processWritebacks(); err != nil {
		return err
	}

	// Phase 3: schedule and issue.
	if err := c.scheduleAndIssue(); err != nil {
		return err
	}

	// Phase 4: resolve branches issued this cycle, then release
	// barriers. Release runs after every retirement path of the cycle
	// so a kernel whose last straggler left this cycle cannot strand
	// its other warps at the barrier.
	c.resolveBranches()
	c.releaseBarriers()

	// Phase 5: advance the cycle and check for completion.
	c.cycle++
	c.collector.AddCycle()
	if len(c.warps) > 0 && c.ResidentWarps() == 0 {
		c.state = StateCompleted
	}
	return nil
}

func (c *Core) deliverCompletions() error {
	if ticker, ok := c.subsystem.(memsys.CycleDriven); ok {
		if err := ticker.Tick(c.cycle); err != nil {
			return c.failf(FaultProtocol, -1, "%v", err)
		}
	}

	for _, fin := range c.msys.DrainFinished() {
		w := c.warpByID[fin.WarpID]
		if w == nil {
			return c.failf(FaultProtocol, fin.WarpID,
				"memory completion for unknown warp")
		}
		if err := c.sb.Release(fin.WarpID, fin.Inst.Dst); err != nil {
			return c.failf(FaultScoreboard, fin.WarpID, "%v", err)
		}
		if w.Status == warp.StatusWaitingMem {
			w.Status = warp.StatusReady
		}
		c.collector.AddRetired()
	}
	return nil
}

func (c *Core) processWritebacks() error {
	for _, wb := range c.pool.Tick() {
		w := c.warpByID[wb.WarpID]
		if w != nil && w.Status == warp.StatusRetired {
			// The warp retired while this instruction was in flight;
			// its scoreboard state is already freed.
			c.collector.AddRetired()
			continue
		}
		if err := c.sb.Release(wb.WarpID, wb.Inst.Dst); err != nil {
			return c.failf(FaultScoreboard, wb.WarpID, "%v", err)
		}
		c.collector.AddRetired()
	}
	return nil
}

func (c *Core) scheduleAndIssue() error {
	// Warps that issued or stalled last cycle rejoin the candidates.
	for _, w := range c.warps {
		if w.Status == warp.StatusIssued || w.Status == warp.StatusStalled {
			w.Status = warp.StatusReady
		}
	}

	ready, anyCandidate, err := c.collectReady()
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		if !anyCandidate && c.ResidentWarps() > 0 {
			c.collector.AddStall(metrics.StallNoReadyWarp)
		}
		return nil
	}

	selected := c.policy.Select(ready, c.cycle, c.cfg.SchedulerWidth)
	for _, id := range selected {
		if err := c.issueWarp(c.warpByID[id]); err != nil {
			return err
		}
	}
	return nil
}

// collectReady fetches each candidate warp's next record, applies
// reconvergence, and filters by scoreboard and unit availability.
func (c *Core) collectReady() ([]sched.ReadyWarp, bool, error) {
	var ready []sched.ReadyWarp
	anyCandidate := false

	for _, w := range c.warps {
		if w.Status != warp.StatusReady {
			continue
		}
		anyCandidate = true

		if w.NextInst == nil {
			if err := c.fetchNext(w); err != nil {
				return nil, false, err
			}
			if w.Status == warp.StatusRetired {
				continue
			}
		}

		inst := w.NextInst
		if !c.sb.IsReady(w.ID, inst) {
			w.Status = warp.StatusStalled
			c.collector.AddStall(metrics.StallScoreboard)
			continue
		}
		if inst.Class.IsMemory() {
			if !c.msys.CanAccept() {
				w.Status = warp.StatusStalled
				c.collector.AddStall(metrics.StallMemPending)
				continue
			}
		} else if inst.Class != insts.OpClassExit && inst.Class != insts.OpClassBarrier {
			u, err := c.pool.UnitFor(inst.Class)
			if err != nil {
				return nil, false, c.failf(FaultMalformedInst, w.ID, "%v", err)
			}
			if !u.CanAccept() {
				w.Status = warp.StatusStalled
				c.collector.AddStall(metrics.StallUnitBusy)
				continue
			}
		}

		ready = append(ready, sched.ReadyWarp{
			ID:             w.ID,
			PendingWriters: c.sb.PendingWriters(w.ID),
			LastIssueCycle: w.LastIssueCycle,
		})
	}
	return ready, anyCandidate, nil
}

// fetchNext advances reconvergence to the warp's next real
// instruction and binds the fetched record to the warp.
func (c *Core) fetchNext(w *warp.Warp) error {
	for w.AtReconvergence() {
		restored, err := w.Reconverge()
		if err != nil {
			return c.failf(FaultStackUnderflow, w.ID, "%v", err)
		}
		if restored {
			c.collector.AddReconvergence()
		}
		if w.ActiveMask == 0 {
			// No live lanes left: expected terminal transition.
			c.retireWarp(w)
			return nil
		}
	}

	inst, ok := c.source.Fetch(w.ID, w.PC)
	if !ok {
		return c.failf(FaultStreamExhausted, w.ID,
			"no instruction at 0x%x and warp not retired", w.PC)
	}
	if err := inst.Validate(); err != nil {
		return c.failf(FaultMalformedInst, w.ID, "%v", err)
	}
	w.NextInst = inst
	return nil
}

func (c *Core) issueWarp(w *warp.Warp) error {
	inst := w.NextInst

	switch inst.Class {
	case insts.OpClassExit:
		c.collector.AddIssued()
		c.collector.AddRetired()
		c.retireWarp(w)

	case insts.OpClassBarrier:
		c.collector.AddIssued()
		c.collector.AddRetired()
		w.PC = inst.NextPC()
		w.NextInst = nil
		w.LastIssueCycle = c.cycle
		w.Status = warp.StatusAtBarrier

	case insts.OpClassBranch:
		u, err := c.pool.UnitFor(inst.Class)
		if err != nil {
			return c.failf(FaultMalformedInst, w.ID, "%v", err)
		}
		if !u.TryIssue(w.ID, inst, c.table.ForInst(inst)) {
			// Readiness was checked this cycle; a full unit here means
			// another selected warp took the slot first.
			w.Status = warp.StatusStalled
			c.collector.AddStall(metrics.StallUnitBusy)
			return nil
		}
		c.sb.Acquire(w.ID, inst.Dst)
		c.collector.AddIssued()
		w.NextInst = nil
		w.LastIssueCycle = c.cycle
		w.Status = warp.StatusIssued
		c.branches = append(c.branches, pendingBranch{w: w, inst: inst})

	case insts.OpClassLoad, insts.OpClassStore:
		n, err := c.msys.Issue(w.ID, inst, w.ActiveMask, c.cycle)
		switch {
		case errors.Is(err, memsys.ErrPortBusy):
			// Another selected warp took the last port slot this cycle.
			w.Status = warp.StatusStalled
			c.collector.AddStall(metrics.StallMemPending)
			return nil
		case errors.Is(err, memsys.ErrNoActiveLanes):
			return c.failf(FaultMalformedInst, w.ID, "%v", err)
		case err != nil:
			return c.failf(FaultProtocol, w.ID, "%v", err)
		}
		c.sb.Acquire(w.ID, inst.Dst)
		c.collector.AddIssued()
		c.collector.AddMemInstruction(n, w.ActiveLanes())
		w.PC = inst.NextPC()
		w.NextInst = nil
		w.LastIssueCycle = c.cycle
		w.Status = warp.StatusWaitingMem

	default:
		u, err := c.pool.UnitFor(inst.Class)
		if err != nil {
			return c.failf(FaultMalformedInst, w.ID, "%v", err)
		}
		if !u.TryIssue(w.ID, inst, c.table.ForInst(inst)) {
			w.Status = warp.StatusStalled
			c.collector.AddStall(metrics.StallUnitBusy)
			return nil
		}
		c.sb.Acquire(w.ID, inst.Dst)
		c.collector.AddIssued()
		w.PC = inst.NextPC()
		w.NextInst = nil
		w.LastIssueCycle = c.cycle
		w.Status = warp.StatusIssued
	}
	return nil
}

// releaseBarriers frees a kernel's warps once every live warp of
// that kernel reached the barrier.
func (c *Core) releaseBarriers() {
	released := make(map[string]bool)
	for _, w := range c.warps {
		if w.Status != warp.StatusAtBarrier || released[w.KernelID] {
			continue
		}
		all := true
		for _, other := range c.warps {
			if other.KernelID != w.KernelID || other.Status == warp.StatusRetired {
				continue
			}
			if other.Status != warp.StatusAtBarrier {
				all = false
				break
			}
		}
		released[w.KernelID] = true
		if !all {
			continue
		}
		for _, other := range c.warps {
			if other.KernelID == w.KernelID && other.Status == warp.StatusAtBarrier {
				other.Status = warp.StatusReady
			}
		}
	}
}

func (c *Core) resolveBranches() {
	for _, pb := range c.branches {
		if pb.w.Status == warp.StatusRetired {
			continue
		}
		diverged := pb.w.Resolve(pb.inst)
		c.collector.AddBranch(diverged)
		if pb.w.ActiveMask == 0 {
			c.retireWarp(pb.w)
		}
	}
	c.branches = c.branches[:0]
}

func (c *Core) retireWarp(w *warp.Warp) {
	w.Retire()
	c.sb.FreeWarp(w.ID)
	c.regsUsed -= c.warpRegs[w.ID]
	delete(c.warpRegs, w.ID)
	c.collector.AddWarpRetired()
}

// failf records a fault, moves the run to Faulted, and returns the
// fault as an error.
func (c *Core) failf(cause FaultCause, warpID int, format string, args ...any) error {
	c.fault = &Fault{
		Cause:  cause,
		Cycle:  c.cycle,
		WarpID: warpID,
		Detail: fmt.Sprintf(format, args...),
	}
	c.state = StateFaulted
	return c.fault
}
