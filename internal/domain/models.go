package domain

import "time"

// OutputEvent is one classified unit of execution output.
type OutputEvent struct {
	Seq       int64     `json:"seq"`
	RunID     string    `json:"run_id"`
	Channel   Channel   `json:"channel"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Run is the persisted record of one execution.
type Run struct {
	RunID     string     `json:"run_id"`
	BufferID  string     `json:"buffer_id"`
	Mode      Mode       `json:"mode"`
	Language  string     `json:"language"`
	Filename  string     `json:"filename"`
	State     State      `json:"state"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	BufferID      string        `json:"buffer_id"`
	Mode          Mode          `json:"mode"`
	State         State         `json:"state"`
	AwaitingInput bool          `json:"awaiting_input"`
	RunID         string        `json:"run_id,omitempty"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	ExitCode      *int          `json:"exit_code,omitempty"`
	Output        []OutputEvent `json:"output"`
}
