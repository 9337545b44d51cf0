package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

const (
	colorRed   = "\x1b[31m"
	colorDim   = "\x1b[2m"
	colorReset = "\x1b[0m"
)

// terminal renders session notifications. Stdout goes to out; stderr and
// info lines go to errOut.
type terminal struct {
	out    io.Writer
	errOut io.Writer
	color  bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	once      sync.Once
}

func newTerminal(out, errOut io.Writer, color bool) *terminal {
	return &terminal{
		out:    out,
		errOut: errOut,
		color:  color,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Ready is closed once the run has left the connecting state.
func (t *terminal) Ready() <-chan struct{} {
	return t.ready
}

// Done is closed once the run reaches a terminal state.
func (t *terminal) Done() <-chan struct{} {
	return t.done
}

func (t *terminal) Notify(n session.Notification) {
	switch n.Kind {
	case session.KindOutput:
		t.print(n.Event)
	case session.KindState:
		if n.Change.State != domain.StateConnecting {
			t.readyOnce.Do(func() { close(t.ready) })
		}
		if n.Change.State.Terminal() {
			t.once.Do(func() { close(t.done) })
		}
	}
}

func (t *terminal) print(ev *domain.OutputEvent) {
	switch ev.Channel {
	case domain.ChannelStdout:
		fmt.Fprint(t.out, ev.Content)
	case domain.ChannelStderr:
		fmt.Fprint(t.errOut, t.paint(colorRed, withNewline(ev.Content)))
	case domain.ChannelInfo:
		fmt.Fprint(t.errOut, t.paint(colorDim, "["+ev.Content+"]\n"))
	}
}

func (t *terminal) paint(color, s string) string {
	if !t.color {
		return s
	}
	return color + strings.TrimSuffix(s, "\n") + colorReset + "\n"
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
