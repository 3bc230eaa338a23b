package session

import "fmt"

// State is a session's lifecycle phase. States only ever move forward.
type State int32

const (
	// StateInitial is a constructed session before engine setup.
	StateInitial State = iota
	// StateStarting covers settings configuration and peer initialization.
	StateStarting
	// StateRunning means the worker is processing transport and channel I/O.
	StateRunning
	// StateStreaming means the dynamic channel is ready and video started.
	StateStreaming
	// StateClosed is terminal.
	StateClosed
)

var stateNames = [...]string{"initial", "starting", "running", "streaming", "closed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// AllStates lists every state in lifecycle order.
func AllStates() []State {
	return []State{StateInitial, StateStarting, StateRunning, StateStreaming, StateClosed}
}

// CloseReason qualifies an externally requested Close.
type CloseReason int

const (
	CloseReasonNone CloseReason = iota
	// CloseReasonVideoInitFailed reports a graphics failure to the client
	// before disconnecting.
	CloseReasonVideoInitFailed
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonNone:
		return "none"
	case CloseReasonVideoInitFailed:
		return "video_init_failed"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// logonDecision is the authorization outcome shared by the two
// negotiation callbacks that may produce it.
type logonDecision int

const (
	logonUndecided logonDecision = iota
	logonAccepted
	logonRejected
)

func decisionFor(ok bool) logonDecision {
	if ok {
		return logonAccepted
	}
	return logonRejected
}
