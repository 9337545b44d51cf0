package session

import (
	"sync"

	"github.com/lenylvt/aurora-sub000/internal/domain"
)

// NotificationKind discriminates Notification payloads.
type NotificationKind string

const (
	KindRunStarted  NotificationKind = "run_started"
	KindOutput      NotificationKind = "output"
	KindState       NotificationKind = "state"
	KindRunFinished NotificationKind = "run_finished"
	KindCleared     NotificationKind = "cleared"
)

// StateChange describes the session state after a transition.
type StateChange struct {
	RunID         string
	State         domain.State
	AwaitingInput bool
	ErrorKind     domain.ErrorKind
	ExitCode      *int
}

// Notification is one change pushed to the Sink.
//
// KindState is the buffer's visible state. KindRunFinished marks the end of a
// run, including superseded runs that never become visible again.
type Notification struct {
	Kind     NotificationKind
	BufferID string
	Run      *domain.Run
	Event    *domain.OutputEvent
	Change   StateChange
}

// Sink receives notifications in the order they happened, one at a time,
// never while the manager lock is held.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(n Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// notifier is an unbounded FIFO drained by a single goroutine, so producers
// never block on a slow sink.
type notifier struct {
	sink Sink

	mu     sync.Mutex
	queue  []Notification
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newNotifier(sink Sink) *notifier {
	n := &notifier{
		sink: sink,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if sink == nil {
		close(n.done)
		n.closed = true
		return n
	}
	go n.loop()
	return n
}

func (n *notifier) push(x Notification) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, x)
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) loop() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, x := range batch {
			n.sink.Notify(x)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-n.wake
	}
}

// close stops accepting notifications and waits for the queue to drain.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.signal()
	<-n.done
}
