package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lenylvt/aurora-sub000/internal/domain"
)

var errClosed = errors.New("use of closed network connection")

type fakeConn struct {
	mu   sync.Mutex
	sent []interface{}

	frames    chan []byte
	errc      chan error
	closed    chan struct{}
	closeOnce sync.Once
	sendErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, errClosed
	default:
	}
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errc:
		return nil, err
	case <-c.closed:
		return nil, errClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.frames <- []byte(frame)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Sent() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.sent))
	copy(out, c.sent)
	return out
}

// dialSequence hands out conns in order, one per dial.
type dialSequence struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	urls  []string
}

func (d *dialSequence) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no more connections")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

type fakeBatch struct {
	mu       sync.Mutex
	requests []domain.BatchRequest
	result   *domain.BatchResult
	err      error
	block    bool
}

func (b *fakeBatch) Execute(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	block := b.block
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.result, b.err
}

type fakeAdmitter struct {
	err error
}

func (a fakeAdmitter) Admit(ctx context.Context, req domain.RunRequest, lang domain.Language) error {
	return a.err
}

type recordingSink struct {
	mu            sync.Mutex
	notifications []Notification
}

func (s *recordingSink) Notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

func (s *recordingSink) All() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func newInteractiveManager(t *testing.T, dialer *dialSequence, sink Sink) *Manager {
	t.Helper()
	m := NewManager(Config{
		BufferID:       "buf-1",
		Mode:           domain.ModeInteractive,
		InteractiveURL: "ws://sandbox/api/v2/connect",
		Dial:           dialer.Dial,
		Sink:           sink,
	})
	t.Cleanup(m.Close)
	return m
}

func newBatchManager(t *testing.T, batch *fakeBatch, sink Sink) *Manager {
	t.Helper()
	m := NewManager(Config{
		BufferID: "buf-1",
		Mode:     domain.ModeBatch,
		Batch:    batch,
		Sink:     sink,
	})
	t.Cleanup(m.Close)
	return m
}

func waitForState(t *testing.T, m *Manager, state domain.State) domain.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Snapshot().State == state
	}, 2*time.Second, 5*time.Millisecond, "state never became %s", state)
	return m.Snapshot()
}

func waitForOutput(t *testing.T, m *Manager, n int) []domain.OutputEvent {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(m.Snapshot().Output) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected at least %d output events", n)
	return m.Snapshot().Output
}

func channels(events []domain.OutputEvent) []domain.Channel {
	out := make([]domain.Channel, len(events))
	for i, ev := range events {
		out[i] = ev.Channel
	}
	return out
}
