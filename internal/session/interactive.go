package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/protocol"
)

func (m *Manager) startInteractive(req domain.RunRequest, lang domain.Language) {
	m.mu.Lock()
	r := m.beginLocked(req, lang)

	var ctx context.Context
	if m.dialTimeout > 0 {
		ctx, r.cancel = context.WithTimeout(context.Background(), m.dialTimeout)
	} else {
		ctx, r.cancel = context.WithCancel(context.Background())
	}
	if m.runTimeout > 0 {
		r.timer = time.AfterFunc(m.runTimeout, func() { m.onTimeout(r) })
	}
	m.mu.Unlock()

	go m.connect(ctx, r, protocol.NewInitFrame(lang.Name, lang.Version, req.Filename, req.Code))
}

func (m *Manager) connect(ctx context.Context, r *run, initFrame protocol.InitFrame) {
	conn, err := m.dial(ctx, m.interactiveURL)

	m.mu.Lock()
	if m.active != r {
		m.mu.Unlock()
		if err == nil && conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.failLocked(r, domain.ErrorKindTransport, fmt.Sprintf("Connection failed: %v", err))
		m.mu.Unlock()
		return
	}
	r.conn = conn
	if err := conn.Send(initFrame); err != nil {
		m.failLocked(r, domain.ErrorKindTransport, fmt.Sprintf("Failed to start execution: %v", err))
		m.mu.Unlock()
		return
	}
	m.setStateLocked(r, domain.StateRunning)
	m.mu.Unlock()

	m.readLoop(r, conn)
}

func (m *Manager) readLoop(r *run, conn Conn) {
	for {
		data, err := conn.Receive()
		if err != nil {
			m.onTransportError(r, err)
			return
		}

		frame, err := protocol.ParseInbound(data)
		if err != nil {
			log.Printf("WARN: dropping malformed frame for %s: %v", r.id, err)
			continue
		}
		if done := m.handleFrame(r, frame); done {
			return
		}
	}
}

// handleFrame applies one inbound frame and reports whether reading should stop.
func (m *Manager) handleFrame(r *run, frame protocol.InboundFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != r {
		return true
	}

	switch frame.Type {
	case protocol.FrameRuntime:
		m.appendLocked(r.id, domain.ChannelInfo, runtimeBanner(frame))

	case protocol.FrameStage:
		if frame.Stage == protocol.StageRun && m.awaiting {
			m.setStateLocked(r, domain.StateRunning)
		}

	case protocol.FrameData:
		switch frame.Stream {
		case protocol.StreamStdout:
			m.appendLocked(r.id, domain.ChannelStdout, frame.Data)
			if !m.awaiting && LooksLikePrompt(frame.Data) {
				m.setStateLocked(r, domain.StateAwaitingInput)
			}
		case protocol.StreamStderr:
			if filtered := m.noise.Filter(frame.Data); filtered != "" {
				m.appendLocked(r.id, domain.ChannelStderr, filtered)
			}
		default:
			log.Printf("WARN: ignoring data frame on stream %q for %s", frame.Stream, r.id)
		}

	case protocol.FrameExit:
		m.exitCode = copyInt(frame.Code)
		m.appendLocked(r.id, domain.ChannelInfo, exitMessage(frame))
		m.finishLocked(r, domain.StateCompleted, domain.ErrorKindNone)
		return true

	case protocol.FrameError:
		message := frame.Message
		if message == "" {
			message = "Sandbox reported an error"
		}
		m.appendLocked(r.id, domain.ChannelStderr, message)
		m.finishLocked(r, domain.StateFailed, domain.ErrorKindSandbox)
		return true

	default:
		log.Printf("WARN: ignoring frame type %q for %s", frame.Type, r.id)
	}
	return false
}

func (m *Manager) onTransportError(r *run, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(r, domain.ErrorKindTransport, fmt.Sprintf("Connection closed unexpectedly: %v", err))
}

func (m *Manager) onTimeout(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(r, domain.ErrorKindTimeout, fmt.Sprintf("Execution timed out after %s", m.runTimeout))
}

func runtimeBanner(frame protocol.InboundFrame) string {
	if frame.Language == "" {
		return "Runtime " + frame.Version
	}
	return fmt.Sprintf("Running %s %s", frame.Language, frame.Version)
}

func exitMessage(frame protocol.InboundFrame) string {
	switch {
	case frame.Signal != "" && frame.Code != nil:
		return fmt.Sprintf("Process exited with code %d (signal %s)", *frame.Code, frame.Signal)
	case frame.Signal != "":
		return "Process terminated by " + frame.Signal
	case frame.Code != nil:
		return fmt.Sprintf("Process exited with code %d", *frame.Code)
	default:
		return "Process exited"
	}
}
