package core

import "fmt"

// State is the run state of one core.
type State int

// Run states, per the driver's state machine:
// Uninitialized -> Running -> (Paused | Completed | Faulted) ->
// Terminated.
const (
	StateUninitialized State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateFaulted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFaulted:
		return "faulted"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FaultCause classifies unrecoverable conditions.
type FaultCause int

// Fault causes.
const (
	// FaultProtocol marks a memory-subsystem contract breach:
	// completion for an unknown handle or a duplicate completion.
	FaultProtocol FaultCause = iota
	// FaultStackUnderflow marks a pop on an empty divergence stack.
	FaultStackUnderflow
	// FaultStreamExhausted marks an instruction source running dry
	// for a warp that has not retired.
	FaultStreamExhausted
	// FaultMalformedInst marks a record the source produced that the
	// core refuses to interpret.
	FaultMalformedInst
	// FaultScoreboard marks a writer count going negative.
	FaultScoreboard
)

func (c FaultCause) String() string {
	switch c {
	case FaultProtocol:
		return "protocol_violation"
	case FaultStackUnderflow:
		return "divergence_stack_underflow"
	case FaultStreamExhausted:
		return "instruction_stream_exhausted"
	case FaultMalformedInst:
		return "malformed_instruction"
	case FaultScoreboard:
		return "scoreboard_underflow"
	default:
		return fmt.Sprintf("FaultCause(%d)", int(c))
	}
}

// Fault is the diagnostic attached to a Faulted run.
type Fault struct {
	Cause  FaultCause
	Cycle  uint64
	WarpID int // -1 when no single warp is attributable
	Detail string
}

func (f *Fault) Error() string {
	if f.WarpID >= 0 {
		return fmt.Sprintf("cycle %d warp %d: %s: %s",
			f.Cycle, f.WarpID, f.Cause, f.Detail)
	}
	return fmt.Sprintf("cycle %d: %s: %s", f.Cycle, f.Cause, f.Detail)
}
