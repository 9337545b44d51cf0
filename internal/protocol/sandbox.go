// Package protocol defines the sandbox frame protocol and the relay message protocol.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Sandbox frame types.
const (
	FrameInit    = "init"
	FrameData    = "data"
	FrameSignal  = "signal"
	FrameRuntime = "runtime"
	FrameStage   = "stage"
	FrameExit    = "exit"
	FrameError   = "error"
)

// Stream names used in data frames.
const (
	StreamStdin  = "stdin"
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// SignalKill terminates the remote process.
const SignalKill = "SIGKILL"

// StageRun is the only stage value acted upon.
const StageRun = "run"

// File is one source file sent with init.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// InitFrame starts a run.
type InitFrame struct {
	Type     string `json:"type"`
	Language string `json:"language"`
	Version  string `json:"version"`
	Files    []File `json:"files"`
}

// DataFrame carries stdin outbound or stdout/stderr inbound.
type DataFrame struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
	Data   string `json:"data"`
}

// SignalFrame asks the sandbox to signal the process.
type SignalFrame struct {
	Type   string `json:"type"`
	Signal string `json:"signal"`
}

// NewInitFrame builds an init frame for a single source file.
func NewInitFrame(language, version, filename, code string) InitFrame {
	return InitFrame{
		Type:     FrameInit,
		Language: language,
		Version:  version,
		Files:    []File{{Name: filename, Content: code}},
	}
}

// NewStdinFrame builds a stdin data frame.
func NewStdinFrame(data string) DataFrame {
	return DataFrame{Type: FrameData, Stream: StreamStdin, Data: data}
}

// NewKillFrame builds a SIGKILL signal frame.
func NewKillFrame() SignalFrame {
	return SignalFrame{Type: FrameSignal, Signal: SignalKill}
}

// InboundFrame is the union of frames the sandbox sends.
// Only the fields relevant to Type are populated.
type InboundFrame struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Version  string `json:"version,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Stream   string `json:"stream,omitempty"`
	Data     string `json:"data,omitempty"`
	Code     *int   `json:"code,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ParseInbound decodes one sandbox frame.
func ParseInbound(data []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return InboundFrame{}, fmt.Errorf("failed to parse frame: %w", err)
	}
	if frame.Type == "" {
		return InboundFrame{}, fmt.Errorf("failed to parse frame: missing type")
	}
	return frame, nil
}
