package service

import (
	"context"
	"log"
	"time"

	"github.com/lenylvt/aurora-sub000/internal/protocol"
	"github.com/lenylvt/aurora-sub000/internal/repository"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

// recorder persists a buffer's notifications to run history and broadcasts
// them to relay clients. Notify is called from the manager's dispatcher, one
// notification at a time.
type recorder struct {
	store     repository.Store
	publisher Publisher
}

func (r *recorder) Notify(n session.Notification) {
	ctx := context.Background()
	now := time.Now()

	switch n.Kind {
	case session.KindRunStarted:
		if err := r.store.CreateRun(ctx, n.Run); err != nil {
			log.Printf("ERROR: failed to record run %s: %v", n.Run.RunID, err)
		}

	case session.KindOutput:
		if err := r.store.CreateOutputEvent(ctx, n.Event); err != nil {
			log.Printf("ERROR: failed to record output for %s: %v", n.Event.RunID, err)
		}
		r.publish(n.BufferID, protocol.OutputMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.TypeOutput, Ts: now.UnixMilli(), BufferID: n.BufferID, RunID: n.Event.RunID},
			Event:       *n.Event,
		})

	case session.KindState:
		if !n.Change.State.Terminal() {
			if err := r.store.UpdateRunState(ctx, n.Change.RunID, n.Change.State); err != nil {
				log.Printf("ERROR: failed to update run %s: %v", n.Change.RunID, err)
			}
		}
		r.publish(n.BufferID, protocol.StateMessage{
			BaseMessage:   protocol.BaseMessage{Type: protocol.TypeState, Ts: now.UnixMilli(), BufferID: n.BufferID, RunID: n.Change.RunID},
			State:         n.Change.State,
			AwaitingInput: n.Change.AwaitingInput,
			ErrorKind:     n.Change.ErrorKind,
			ExitCode:      n.Change.ExitCode,
		})

	case session.KindRunFinished:
		if err := r.store.UpdateRunCompleted(ctx, n.Change.RunID, n.Change.State, n.Change.ErrorKind, n.Change.ExitCode, now); err != nil {
			log.Printf("ERROR: failed to complete run %s: %v", n.Change.RunID, err)
		}

	case session.KindCleared:
		r.publish(n.BufferID, protocol.BaseMessage{Type: protocol.TypeCleared, Ts: now.UnixMilli(), BufferID: n.BufferID})
	}
}

func (r *recorder) publish(bufferID string, v interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.BroadcastJSON(bufferID, v); err != nil {
		log.Printf("WARN: failed to broadcast to buffer %s: %v", bufferID, err)
	}
}
