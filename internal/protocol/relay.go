package protocol

import "github.com/lenylvt/aurora-sub000/internal/domain"

// Message types from client to relay
const (
	TypeHello = "hello"
	TypeRun   = "run"
	TypeInput = "input"
	TypeStop  = "stop"
	TypeClear = "clear"
)

// Message types from relay to client
const (
	TypeHelloAck = "hello_ack"
	TypeOutput   = "output"
	TypeState    = "state"
	TypeCleared  = "cleared"
	TypeError    = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type     string `json:"type"`
	Ts       int64  `json:"ts"`
	BufferID string `json:"buffer_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// HelloMessage binds a connection to a source buffer.
type HelloMessage struct {
	BaseMessage
	APIKey string `json:"api_key,omitempty"`
}

// HelloAckMessage is sent after a successful hello.
type HelloAckMessage struct {
	BaseMessage
	Mode     domain.Mode     `json:"mode"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

// RunMessage starts a run of the bound buffer.
type RunMessage struct {
	BaseMessage
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
	Language string `json:"language,omitempty"`
}

// InputMessage sends stdin to the running program.
type InputMessage struct {
	BaseMessage
	Data string `json:"data"`
}

// OutputMessage delivers one output event.
type OutputMessage struct {
	BaseMessage
	Event domain.OutputEvent `json:"event"`
}

// StateMessage delivers a state transition.
type StateMessage struct {
	BaseMessage
	State         domain.State     `json:"state"`
	AwaitingInput bool             `json:"awaiting_input"`
	ErrorKind     domain.ErrorKind `json:"error_kind,omitempty"`
	ExitCode      *int             `json:"exit_code,omitempty"`
}

// ErrorMessage is sent by the relay when a request cannot be served.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeUnauthorized    = "unauthorized"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeRunRejected     = "run_rejected"
	ErrorCodeInternalError   = "internal_error"
)
