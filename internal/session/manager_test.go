package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/protocol"
)

func TestInteractiveRunStreamsOutput(t *testing.T) {
	conn := newFakeConn()
	dialer := &dialSequence{conns: []*fakeConn{conn}}
	m := newInteractiveManager(t, dialer, nil)

	err := m.Run(context.Background(), domain.RunRequest{Filename: "hello.py", Code: "print('Hello')"})
	require.NoError(t, err)
	waitForState(t, m, domain.StateRunning)

	sent := conn.Sent()
	require.Len(t, sent, 1)
	initFrame, ok := sent[0].(protocol.InitFrame)
	require.True(t, ok)
	assert.Equal(t, "init", initFrame.Type)
	assert.Equal(t, "python", initFrame.Language)
	assert.Equal(t, "*", initFrame.Version)
	require.Len(t, initFrame.Files, 1)
	assert.Equal(t, "hello.py", initFrame.Files[0].Name)
	assert.Equal(t, "print('Hello')", initFrame.Files[0].Content)
	assert.Equal(t, []string{"ws://sandbox/api/v2/connect"}, dialer.urls)

	conn.push(`{"type":"runtime","language":"python","version":"3.12.0"}`)
	conn.push(`{"type":"stage","stage":"run"}`)
	conn.push(`{"type":"data","stream":"stdout","data":"Hello\n"}`)
	conn.push(`{"type":"exit","stage":"run","code":0,"signal":null}`)

	snap := waitForState(t, m, domain.StateCompleted)
	require.Len(t, snap.Output, 3)
	assert.Equal(t, []domain.Channel{domain.ChannelInfo, domain.ChannelStdout, domain.ChannelInfo}, channels(snap.Output))
	assert.Equal(t, "Running python 3.12.0", snap.Output[0].Content)
	assert.Equal(t, "Hello\n", snap.Output[1].Content)
	assert.Equal(t, "Process exited with code 0", snap.Output[2].Content)
	require.NotNil(t, snap.ExitCode)
	assert.Equal(t, 0, *snap.ExitCode)
	assert.Equal(t, domain.ErrorKindNone, snap.ErrorKind)
	assert.False(t, snap.AwaitingInput)
	assert.True(t, conn.isClosed())

	for i := 1; i < len(snap.Output); i++ {
		assert.Greater(t, snap.Output[i].Seq, snap.Output[i-1].Seq)
		assert.Equal(t, snap.RunID, snap.Output[i].RunID)
	}
}

func TestInteractivePromptAndInput(t *testing.T) {
	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "ask.py", Code: "name = input('Name: ')"}))
	waitForState(t, m, domain.StateRunning)

	conn.push(`{"type":"data","stream":"stdout","data":"Name: "}`)
	snap := waitForState(t, m, domain.StateAwaitingInput)
	assert.True(t, snap.AwaitingInput)

	require.NoError(t, m.SendInput("Ada"))

	sent := conn.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.NewStdinFrame("Ada\n"), sent[1])

	snap = m.Snapshot()
	assert.Equal(t, domain.StateRunning, snap.State)
	assert.False(t, snap.AwaitingInput)
	last := snap.Output[len(snap.Output)-1]
	assert.Equal(t, domain.ChannelStdin, last.Channel)
	assert.Equal(t, "Ada", last.Content)
}

func TestSendInputKeepsExistingNewline(t *testing.T) {
	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "input()"}))
	waitForState(t, m, domain.StateRunning)

	require.NoError(t, m.SendInput("42\n"))
	sent := conn.Sent()
	assert.Equal(t, protocol.NewStdinFrame("42\n"), sent[len(sent)-1])
	out := m.Snapshot().Output
	assert.Equal(t, "42", out[len(out)-1].Content)
}

func TestStageRunClearsAwaitingInput(t *testing.T) {
	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "input('?')"}))
	waitForState(t, m, domain.StateRunning)

	conn.push(`{"type":"data","stream":"stdout","data":"Continue?"}`)
	waitForState(t, m, domain.StateAwaitingInput)
	conn.push(`{"type":"stage","stage":"run"}`)
	snap := waitForState(t, m, domain.StateRunning)
	assert.False(t, snap.AwaitingInput)
}

func TestSendInputRejectedOutsideRunningInteractive(t *testing.T) {
	batch := newBatchManager(t, &fakeBatch{result: &domain.BatchResult{}}, nil)
	assert.ErrorIs(t, batch.SendInput("x"), ErrInputNotInteractive)

	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)
	assert.ErrorIs(t, m.SendInput("x"), ErrNoActiveRun)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "pass"}))
	waitForState(t, m, domain.StateRunning)
	conn.push(`{"type":"exit","code":0}`)
	waitForState(t, m, domain.StateCompleted)

	assert.ErrorIs(t, m.SendInput("x"), ErrNoActiveRun)
	for _, ev := range m.Snapshot().Output {
		assert.NotEqual(t, domain.ChannelStdin, ev.Channel)
	}
}

func TestStderrNoiseIsDropped(t *testing.T) {
	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "raise ValueError()"}))
	waitForState(t, m, domain.StateRunning)

	conn.push(`{"type":"data","stream":"stderr","data":"isolate: cannot open cgroup"}`)
	conn.push(`{"type":"data","stream":"stderr","data":"isolate: cannot open cgroup"}`)
	conn.push(`{"type":"data","stream":"stderr","data":"isolate: cannot open cgroup\n"}`)
	conn.push(`{"type":"data","stream":"stderr","data":"ValueError\n"}`)
	conn.push(`{"type":"exit","code":1}`)

	snap := waitForState(t, m, domain.StateCompleted)
	assert.Equal(t, []domain.Channel{domain.ChannelStderr, domain.ChannelInfo}, channels(snap.Output))
	var stderr []string
	for _, ev := range snap.Output {
		if ev.Channel == domain.ChannelStderr {
			stderr = append(stderr, ev.Content)
		}
	}
	assert.Equal(t, []string{"ValueError\n"}, stderr)
	assert.Equal(t, 1, *snap.ExitCode)
}

func TestStopIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)

	require.NoError(t, m.Stop())
	assert.Empty(t, m.Snapshot().Output)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "loop.py", Code: "while True: pass"}))
	waitForState(t, m, domain.StateRunning)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	snap := m.Snapshot()
	assert.Equal(t, domain.StateStopped, snap.State)
	require.Len(t, snap.Output, 1)
	assert.Equal(t, domain.ChannelInfo, snap.Output[0].Channel)
	assert.Equal(t, "Execution stopped", snap.Output[0].Content)

	sent := conn.Sent()
	assert.Equal(t, protocol.NewKillFrame(), sent[len(sent)-1])
	assert.True(t, conn.isClosed())
}

func TestStopWhileConnecting(t *testing.T) {
	late := newFakeConn()
	dialing := make(chan struct{})
	dialCancelled := make(chan struct{})
	dial := func(ctx context.Context, url string) (Conn, error) {
		close(dialing)
		<-ctx.Done()
		close(dialCancelled)
		return late, nil
	}
	m := NewManager(Config{
		BufferID:       "buf-1",
		Mode:           domain.ModeInteractive,
		InteractiveURL: "ws://sandbox/api/v2/connect",
		Dial:           dial,
	})
	t.Cleanup(m.Close)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "input()"}))
	select {
	case <-dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("dial never started")
	}
	assert.Equal(t, domain.StateConnecting, m.Snapshot().State)

	require.NoError(t, m.Stop())
	select {
	case <-dialCancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("dial context was not cancelled")
	}
	require.Eventually(t, late.isClosed, 2*time.Second, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, domain.StateStopped, snap.State)
	require.Len(t, snap.Output, 1)
	assert.Equal(t, domain.ChannelInfo, snap.Output[0].Channel)
	assert.Equal(t, "Execution stopped", snap.Output[0].Content)
	assert.Empty(t, late.Sent())
}

func TestBatchFailureSkipsRunningState(t *testing.T) {
	sink := &recordingSink{}
	m := newBatchManager(t, &fakeBatch{err: errors.New("connection refused")}, sink)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "x"}))
	m.Close()

	var states []domain.State
	for _, n := range sink.All() {
		if n.Kind == KindState {
			states = append(states, n.Change.State)
		}
	}
	assert.Equal(t, []domain.State{domain.StateConnecting, domain.StateFailed}, states)
}

func TestStopUnsupportedInBatchMode(t *testing.T) {
	m := newBatchManager(t, &fakeBatch{result: &domain.BatchResult{}}, nil)
	assert.ErrorIs(t, m.Stop(), ErrStopUnsupported)
}

func TestRunSupersedesActiveRun(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	sink := &recordingSink{}
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{first, second}}, sink)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "first"}))
	waitForState(t, m, domain.StateRunning)
	firstRun := m.Snapshot().RunID

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "second"}))
	assert.True(t, first.isClosed())
	secondRun := m.Snapshot().RunID
	assert.NotEqual(t, firstRun, secondRun)

	require.Eventually(t, func() bool { return len(second.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	first.push(`{"type":"data","stream":"stdout","data":"stale\n"}`)
	second.push(`{"type":"data","stream":"stdout","data":"fresh\n"}`)
	second.push(`{"type":"exit","code":0}`)

	snap := waitForState(t, m, domain.StateCompleted)
	for _, ev := range snap.Output {
		assert.NotEqual(t, "stale\n", ev.Content)
		assert.Equal(t, secondRun, ev.RunID)
	}

	m.Close()
	var finished []StateChange
	for _, n := range sink.All() {
		if n.Kind == KindRunFinished {
			finished = append(finished, n.Change)
		}
	}
	require.Len(t, finished, 2)
	assert.Equal(t, firstRun, finished[0].RunID)
	assert.Equal(t, domain.StateStopped, finished[0].State)
	assert.Equal(t, secondRun, finished[1].RunID)
	assert.Equal(t, domain.StateCompleted, finished[1].State)
}

func TestSandboxErrorFrameFailsRun(t *testing.T) {
	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "x"}))
	waitForState(t, m, domain.StateRunning)
	conn.push(`{"type":"error","message":"runtime unknown"}`)

	snap := waitForState(t, m, domain.StateFailed)
	assert.Equal(t, domain.ErrorKindSandbox, snap.ErrorKind)
	require.Len(t, snap.Output, 1)
	assert.Equal(t, domain.ChannelStderr, snap.Output[0].Channel)
	assert.Equal(t, "runtime unknown", snap.Output[0].Content)
}

func TestTransportErrorFailsRun(t *testing.T) {
	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "x"}))
	waitForState(t, m, domain.StateRunning)
	conn.errc <- errors.New("connection reset by peer")

	snap := waitForState(t, m, domain.StateFailed)
	assert.Equal(t, domain.ErrorKindTransport, snap.ErrorKind)
	require.Len(t, snap.Output, 1)
	assert.Equal(t, domain.ChannelStderr, snap.Output[0].Channel)
	assert.Contains(t, snap.Output[0].Content, "connection reset by peer")
	assert.Nil(t, snap.ExitCode)
}

func TestDialFailureFailsRun(t *testing.T) {
	m := newInteractiveManager(t, &dialSequence{err: errors.New("connection refused")}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "x"}))
	snap := waitForState(t, m, domain.StateFailed)
	assert.Equal(t, domain.ErrorKindTransport, snap.ErrorKind)
	require.Len(t, snap.Output, 1)
	assert.Contains(t, snap.Output[0].Content, "connection refused")
}

func TestMalformedFrameIsDropped(t *testing.T) {
	conn := newFakeConn()
	m := newInteractiveManager(t, &dialSequence{conns: []*fakeConn{conn}}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "x"}))
	waitForState(t, m, domain.StateRunning)
	conn.push(`not json`)
	conn.push(`{"data":"no type"}`)
	conn.push(`{"type":"data","stream":"stdout","data":"ok\n"}`)

	out := waitForOutput(t, m, 1)
	require.Len(t, out, 1)
	assert.Equal(t, "ok\n", out[0].Content)
	assert.Equal(t, domain.StateRunning, m.Snapshot().State)
}

func TestRunTimeoutFailsRun(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(Config{
		BufferID:       "buf-1",
		Mode:           domain.ModeInteractive,
		InteractiveURL: "ws://sandbox",
		Dial:           (&dialSequence{conns: []*fakeConn{conn}}).Dial,
		RunTimeout:     50 * time.Millisecond,
	})
	t.Cleanup(m.Close)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "while True: pass"}))
	snap := waitForState(t, m, domain.StateFailed)
	assert.Equal(t, domain.ErrorKindTimeout, snap.ErrorKind)
	require.Len(t, snap.Output, 1)
	assert.Equal(t, domain.ChannelStderr, snap.Output[0].Channel)
	assert.True(t, conn.isClosed())
}

func TestBatchRunEchoesStdin(t *testing.T) {
	batch := &fakeBatch{result: &domain.BatchResult{Stdout: "hello\n"}}
	m := newBatchManager(t, batch, nil)

	err := m.Run(context.Background(), domain.RunRequest{Filename: "echo.py", Code: "print(input())", Stdin: "hello"})
	require.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, domain.StateCompleted, snap.State)
	require.Len(t, snap.Output, 1)
	assert.Equal(t, domain.ChannelStdout, snap.Output[0].Channel)
	assert.Equal(t, "hello\n", snap.Output[0].Content)

	require.Len(t, batch.requests, 1)
	assert.Equal(t, domain.BatchRequest{Language: "python", Code: "print(input())", Stdin: "hello"}, batch.requests[0])
}

func TestBatchRunReportsStderrAndError(t *testing.T) {
	batch := &fakeBatch{result: &domain.BatchResult{Stderr: "main.c:1: error\n", Error: "compilation failed with exit code 1"}}
	m := newBatchManager(t, batch, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "main.c", Code: "int main("}))

	snap := m.Snapshot()
	assert.Equal(t, domain.StateCompleted, snap.State)
	assert.Equal(t, []domain.Channel{domain.ChannelStderr, domain.ChannelStderr}, channels(snap.Output))
	assert.Equal(t, "compilation failed with exit code 1", snap.Output[1].Content)
}

func TestBatchTransportErrorFailsRun(t *testing.T) {
	m := newBatchManager(t, &fakeBatch{err: errors.New("dial tcp: connection refused")}, nil)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "x"}))

	snap := m.Snapshot()
	assert.Equal(t, domain.StateFailed, snap.State)
	assert.Equal(t, domain.ErrorKindTransport, snap.ErrorKind)
	require.Len(t, snap.Output, 1)
	assert.Equal(t, domain.ChannelStderr, snap.Output[0].Channel)
}

func TestBatchTimeoutFailsRun(t *testing.T) {
	m := NewManager(Config{
		BufferID:     "buf-1",
		Mode:         domain.ModeBatch,
		Batch:        &fakeBatch{block: true},
		BatchTimeout: 20 * time.Millisecond,
	})
	t.Cleanup(m.Close)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "x"}))

	snap := m.Snapshot()
	assert.Equal(t, domain.StateFailed, snap.State)
	assert.Equal(t, domain.ErrorKindTimeout, snap.ErrorKind)
}

func TestRunRejectsBadRequests(t *testing.T) {
	m := newBatchManager(t, &fakeBatch{result: &domain.BatchResult{}}, nil)

	assert.ErrorIs(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "  \n"}), ErrEmptySource)
	assert.ErrorIs(t, m.Run(context.Background(), domain.RunRequest{Filename: "notes.txt", Code: "x"}), domain.ErrUnknownLanguage)
	assert.Equal(t, domain.StateIdle, m.Snapshot().State)
}

func TestRunBlockedByAdmitter(t *testing.T) {
	batch := &fakeBatch{result: &domain.BatchResult{Stdout: "x"}}
	m := NewManager(Config{
		BufferID: "buf-1",
		Mode:     domain.ModeBatch,
		Batch:    batch,
		Admitter: fakeAdmitter{err: &BlockedError{Reason: "language ruby is not enabled"}},
	})
	t.Cleanup(m.Close)

	err := m.Run(context.Background(), domain.RunRequest{Filename: "a.rb", Code: "puts 1"})
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "language ruby is not enabled", blocked.Reason)
	assert.Empty(t, batch.requests)
	assert.Equal(t, domain.StateIdle, m.Snapshot().State)
}

func TestClearOutputKeepsState(t *testing.T) {
	sink := &recordingSink{}
	m := newBatchManager(t, &fakeBatch{result: &domain.BatchResult{Stdout: "1\n"}}, sink)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "print(1)"}))
	m.ClearOutput()

	snap := m.Snapshot()
	assert.Empty(t, snap.Output)
	assert.Equal(t, domain.StateCompleted, snap.State)

	m.Close()
	all := sink.All()
	assert.Equal(t, KindCleared, all[len(all)-1].Kind)
}

func TestNotificationsArriveInOrder(t *testing.T) {
	sink := &recordingSink{}
	m := newBatchManager(t, &fakeBatch{result: &domain.BatchResult{Stdout: "out", Stderr: "err"}}, sink)

	require.NoError(t, m.Run(context.Background(), domain.RunRequest{Filename: "a.py", Code: "x"}))
	m.Close()

	var kinds []NotificationKind
	var states []domain.State
	for _, n := range sink.All() {
		kinds = append(kinds, n.Kind)
		if n.Kind == KindState {
			states = append(states, n.Change.State)
		}
	}
	assert.Equal(t, []NotificationKind{
		KindRunStarted, KindState, KindOutput, KindOutput, KindState, KindRunFinished,
	}, kinds)
	assert.Equal(t, []domain.State{domain.StateConnecting, domain.StateCompleted}, states)

	started := sink.All()[0].Run
	require.NotNil(t, started)
	assert.Equal(t, "python", started.Language)
	assert.Equal(t, domain.ModeBatch, started.Mode)
}
