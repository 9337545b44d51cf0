// Package domain defines the core domain models for code execution sessions.
package domain

// Mode represents how a mini-app instance talks to the sandbox.
type Mode string

const (
	ModeBatch       Mode = "batch"
	ModeInteractive Mode = "interactive"
)

// State represents the lifecycle state of an execution session.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateRunning       State = "running"
	StateAwaitingInput State = "awaiting_input"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateStopped       State = "stopped"
)

// Active reports whether the state belongs to an in-flight run.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateRunning, StateAwaitingInput:
		return true
	}
	return false
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateStopped:
		return true
	}
	return false
}

// Channel classifies an output event.
type Channel string

const (
	ChannelStdout Channel = "stdout"
	ChannelStderr Channel = "stderr"
	ChannelInfo   Channel = "info"
	ChannelStdin  Channel = "stdin"
)

// ErrorKind explains why a run failed.
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindSandbox   ErrorKind = "sandbox"
	ErrorKindTimeout   ErrorKind = "timeout"
)
