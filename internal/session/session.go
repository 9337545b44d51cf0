// Package session implements the execution session manager: one owned session per
// source buffer, normalizing batch and interactive sandbox execution into a single
// ordered output log and state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/protocol"
)

var (
	ErrEmptySource         = errors.New("source is empty")
	ErrInputNotInteractive = errors.New("input can only be sent while running in interactive mode")
	ErrStopUnsupported     = errors.New("stop is not supported in batch mode")
	ErrNoActiveRun         = errors.New("no active run")
)

// BlockedError is returned when the admission policy rejects a run.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "run blocked by policy: " + e.Reason
}

// Conn is an open interactive transport. Receive is only called from the
// run's reader goroutine.
type Conn interface {
	Send(v interface{}) error
	Receive() ([]byte, error)
	Close() error
}

// DialFunc opens an interactive transport.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// BatchExecutor performs a single-shot execution.
type BatchExecutor interface {
	Execute(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error)
}

// Admitter decides whether a run may start. A rejection is a *BlockedError.
type Admitter interface {
	Admit(ctx context.Context, req domain.RunRequest, lang domain.Language) error
}

// Config wires a Manager.
type Config struct {
	BufferID       string
	Mode           domain.Mode
	InteractiveURL string

	Dial      DialFunc
	Batch     BatchExecutor
	Admitter  Admitter
	Languages *domain.Languages
	Sink      Sink

	// Zero disables the corresponding timeout.
	RunTimeout   time.Duration
	BatchTimeout time.Duration
	DialTimeout  time.Duration

	// Appended to DefaultStderrDenylist.
	StderrDenylist []string
}

// Manager owns the execution lifecycle of one source buffer.
type Manager struct {
	bufferID       string
	mode           domain.Mode
	interactiveURL string
	dial           DialFunc
	batch          BatchExecutor
	admitter       Admitter
	languages      *domain.Languages
	noise          *NoiseFilter
	runTimeout     time.Duration
	batchTimeout   time.Duration
	dialTimeout    time.Duration
	notifier       *notifier
	now            func() time.Time

	mu        sync.Mutex
	seq       int64
	state     domain.State
	awaiting  bool
	errorKind domain.ErrorKind
	exitCode  *int
	lastRunID string
	output    []domain.OutputEvent
	active    *run
}

// run is one execution attempt. Every callback carries its run and is
// ignored once the run is no longer the active one.
type run struct {
	id     string
	conn   Conn
	cancel context.CancelFunc
	timer  *time.Timer
}

func (r *run) release() {
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}

// NewManager creates a manager in the idle state.
func NewManager(cfg Config) *Manager {
	languages := cfg.Languages
	if languages == nil {
		languages = domain.NewLanguages(nil)
	}
	return &Manager{
		bufferID:       cfg.BufferID,
		mode:           cfg.Mode,
		interactiveURL: cfg.InteractiveURL,
		dial:           cfg.Dial,
		batch:          cfg.Batch,
		admitter:       cfg.Admitter,
		languages:      languages,
		noise:          NewNoiseFilter(cfg.StderrDenylist),
		runTimeout:     cfg.RunTimeout,
		batchTimeout:   cfg.BatchTimeout,
		dialTimeout:    cfg.DialTimeout,
		notifier:       newNotifier(cfg.Sink),
		now:            time.Now,
		state:          domain.StateIdle,
	}
}

// BufferID returns the buffer this manager serves.
func (m *Manager) BufferID() string {
	return m.bufferID
}

// Mode returns the execution mode fixed at creation.
func (m *Manager) Mode() domain.Mode {
	return m.mode
}

// Run executes a source buffer. Any active run is torn down first.
//
// In batch mode Run blocks until the response arrives. In interactive mode it
// returns once the connection attempt has started; progress is reported
// through the Sink and Snapshot. Transport and program failures are reported
// as output, not as errors; the returned error only covers requests that never
// started a run.
func (m *Manager) Run(ctx context.Context, req domain.RunRequest) error {
	if strings.TrimSpace(req.Code) == "" {
		return ErrEmptySource
	}
	lang, err := m.languages.Resolve(req.Language, req.Filename)
	if err != nil {
		return fmt.Errorf("failed to resolve language for %q: %w", req.Filename, err)
	}
	if req.Filename == "" {
		req.Filename = "main"
		if len(lang.Extensions) > 0 {
			req.Filename += lang.Extensions[0]
		}
	}
	if m.admitter != nil {
		if err := m.admitter.Admit(ctx, req, lang); err != nil {
			return err
		}
	}

	if m.mode == domain.ModeBatch {
		return m.runBatch(ctx, req, lang)
	}
	m.startInteractive(req, lang)
	return nil
}

// SendInput sends one line of stdin to the running program.
func (m *Manager) SendInput(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != domain.ModeInteractive {
		return ErrInputNotInteractive
	}
	r := m.active
	if r == nil || r.conn == nil || (m.state != domain.StateRunning && m.state != domain.StateAwaitingInput) {
		return ErrNoActiveRun
	}

	data := text
	if !strings.HasSuffix(data, "\n") {
		data += "\n"
	}
	if err := r.conn.Send(protocol.NewStdinFrame(data)); err != nil {
		m.failLocked(r, domain.ErrorKindTransport, fmt.Sprintf("Connection lost: %v", err))
		return fmt.Errorf("failed to send input: %w", err)
	}

	m.appendLocked(r.id, domain.ChannelStdin, strings.TrimSpace(text))
	if m.awaiting {
		m.awaiting = false
		m.state = domain.StateRunning
		m.notifyStateLocked(r.id)
	}
	return nil
}

// Stop kills the active interactive run. Calling Stop without an active run is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == domain.ModeBatch {
		return ErrStopUnsupported
	}
	r := m.active
	if r == nil {
		return nil
	}

	if r.conn != nil {
		if err := r.conn.Send(protocol.NewKillFrame()); err != nil {
			log.Printf("WARN: failed to send kill signal for %s: %v", r.id, err)
		}
	}
	m.active = nil
	r.release()

	m.appendLocked(r.id, domain.ChannelInfo, "Execution stopped")
	m.endLocked(r, domain.StateStopped, domain.ErrorKindNone)
	return nil
}

// ClearOutput empties the output log. State and transport are untouched.
func (m *Manager) ClearOutput() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.output = nil
	m.notifier.push(Notification{Kind: KindCleared, BufferID: m.bufferID})
}

// Snapshot returns a copy of the observable state.
func (m *Manager) Snapshot() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	output := make([]domain.OutputEvent, len(m.output))
	copy(output, m.output)
	return domain.Snapshot{
		BufferID:      m.bufferID,
		Mode:          m.mode,
		State:         m.state,
		AwaitingInput: m.awaiting,
		RunID:         m.lastRunID,
		ErrorKind:     m.errorKind,
		ExitCode:      copyInt(m.exitCode),
		Output:        output,
	}
}

// Close tears down the active run and flushes pending notifications.
func (m *Manager) Close() {
	m.mu.Lock()
	if r := m.active; r != nil {
		m.active = nil
		r.release()
		m.notifier.push(Notification{
			Kind:     KindRunFinished,
			BufferID: m.bufferID,
			Change:   StateChange{RunID: r.id, State: domain.StateStopped},
		})
	}
	m.mu.Unlock()
	m.notifier.close()
}

// beginLocked tears down any active run and starts a new one.
func (m *Manager) beginLocked(req domain.RunRequest, lang domain.Language) *run {
	if prev := m.active; prev != nil {
		m.active = nil
		prev.release()
		// The superseded run is recorded as stopped but not announced as the
		// buffer's state; the new run's state follows immediately.
		m.notifier.push(Notification{
			Kind:     KindRunFinished,
			BufferID: m.bufferID,
			Change:   StateChange{RunID: prev.id, State: domain.StateStopped},
		})
	}

	r := &run{id: "run_" + uuid.New().String()[:8]}
	m.active = r
	m.lastRunID = r.id
	m.state = domain.StateConnecting
	m.awaiting = false
	m.errorKind = domain.ErrorKindNone
	m.exitCode = nil

	m.notifier.push(Notification{
		Kind:     KindRunStarted,
		BufferID: m.bufferID,
		Run: &domain.Run{
			RunID:     r.id,
			BufferID:  m.bufferID,
			Mode:      m.mode,
			Language:  lang.Name,
			Filename:  req.Filename,
			State:     domain.StateConnecting,
			StartedAt: m.now(),
		},
	})
	m.notifyStateLocked(r.id)
	return r
}

func (m *Manager) appendLocked(runID string, channel domain.Channel, content string) {
	m.seq++
	ev := domain.OutputEvent{
		Seq:       m.seq,
		RunID:     runID,
		Channel:   channel,
		Content:   content,
		Timestamp: m.now(),
	}
	m.output = append(m.output, ev)
	m.notifier.push(Notification{Kind: KindOutput, BufferID: m.bufferID, Event: &ev})
}

func (m *Manager) setStateLocked(r *run, state domain.State) {
	m.state = state
	m.awaiting = state == domain.StateAwaitingInput
	m.notifyStateLocked(r.id)
}

func (m *Manager) notifyStateLocked(runID string) {
	m.notifier.push(Notification{
		Kind:     KindState,
		BufferID: m.bufferID,
		Change: StateChange{
			RunID:         runID,
			State:         m.state,
			AwaitingInput: m.awaiting,
			ErrorKind:     m.errorKind,
			ExitCode:      copyInt(m.exitCode),
		},
	})
}

// finishLocked ends the active run r in a terminal state.
func (m *Manager) finishLocked(r *run, state domain.State, kind domain.ErrorKind) {
	if m.active != r {
		return
	}
	m.active = nil
	r.release()
	m.endLocked(r, state, kind)
}

func (m *Manager) endLocked(r *run, state domain.State, kind domain.ErrorKind) {
	m.state = state
	m.awaiting = false
	m.errorKind = kind
	m.notifyStateLocked(r.id)
	m.notifier.push(Notification{
		Kind:     KindRunFinished,
		BufferID: m.bufferID,
		Change: StateChange{
			RunID:     r.id,
			State:     state,
			ErrorKind: kind,
			ExitCode:  copyInt(m.exitCode),
		},
	})
}

// failLocked reports a failure as stderr and ends the run.
func (m *Manager) failLocked(r *run, kind domain.ErrorKind, message string) {
	if m.active != r {
		return
	}
	m.appendLocked(r.id, domain.ChannelStderr, message)
	m.finishLocked(r, domain.StateFailed, kind)
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
