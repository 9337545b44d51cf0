package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

// ErrBufferRequired is returned when a buffer id is missing.
var ErrBufferRequired = errors.New("buffer_id is required")

// Presence reports whether relay clients are still bound to a buffer.
type Presence interface {
	HasActiveConnections(bufferID string) bool
}

type bufferEntry struct {
	manager  *session.Manager
	lastUsed time.Time
}

func normalizeBufferID(bufferID string) (string, error) {
	bufferID = strings.TrimSpace(bufferID)
	if bufferID == "" {
		return "", ErrBufferRequired
	}
	return bufferID, nil
}

// manager returns the buffer's manager, creating it on first use. Only Run
// creates managers.
func (s *Service) manager(bufferID string) (*session.Manager, error) {
	bufferID, err := normalizeBufferID(bufferID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.managers[bufferID]; ok {
		e.lastUsed = s.now()
		return e.manager, nil
	}
	m := session.NewManager(session.Config{
		BufferID:       bufferID,
		Mode:           s.mode,
		InteractiveURL: s.interactiveURL,
		Dial:           s.dial,
		Batch:          s.batch,
		Admitter:       s.admitter(),
		Languages:      s.languages,
		Sink:           &recorder{store: s.store, publisher: s.publisher},
		RunTimeout:     s.config.RunTimeout,
		BatchTimeout:   s.config.BatchTimeout,
		StderrDenylist: s.config.StderrDenylist,
	})
	s.managers[bufferID] = &bufferEntry{manager: m, lastUsed: s.now()}
	return m, nil
}

// lookup returns the buffer's manager if one exists.
func (s *Service) lookup(bufferID string) (*session.Manager, string, error) {
	bufferID, err := normalizeBufferID(bufferID)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.managers[bufferID]
	if !ok {
		return nil, bufferID, nil
	}
	e.lastUsed = s.now()
	return e.manager, bufferID, nil
}

// Run executes a buffer. In batch mode it returns after the result is in.
func (s *Service) Run(ctx context.Context, bufferID string, req domain.RunRequest) (domain.Snapshot, error) {
	m, err := s.manager(bufferID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := m.Run(ctx, req); err != nil {
		return m.Snapshot(), err
	}
	return m.Snapshot(), nil
}

// SendInput forwards one line of stdin to the buffer's running program.
func (s *Service) SendInput(bufferID, text string) error {
	m, _, err := s.lookup(bufferID)
	if err != nil {
		return err
	}
	if m == nil {
		if s.Mode() != domain.ModeInteractive {
			return session.ErrInputNotInteractive
		}
		return session.ErrNoActiveRun
	}
	return m.SendInput(text)
}

// Stop kills the buffer's active run.
func (s *Service) Stop(bufferID string) error {
	m, _, err := s.lookup(bufferID)
	if err != nil {
		return err
	}
	if m == nil {
		if s.Mode() == domain.ModeBatch {
			return session.ErrStopUnsupported
		}
		return nil
	}
	return m.Stop()
}

// ClearOutput empties the buffer's output log.
func (s *Service) ClearOutput(bufferID string) error {
	m, _, err := s.lookup(bufferID)
	if err != nil {
		return err
	}
	if m != nil {
		m.ClearOutput()
	}
	return nil
}

// Snapshot returns the buffer's current state and output. A buffer that has
// never run reports idle.
func (s *Service) Snapshot(bufferID string) (domain.Snapshot, error) {
	m, bufferID, err := s.lookup(bufferID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if m == nil {
		return domain.Snapshot{
			BufferID: bufferID,
			Mode:     s.Mode(),
			State:    domain.StateIdle,
			Output:   []domain.OutputEvent{},
		}, nil
	}
	return m.Snapshot(), nil
}

// RunIdleManagerSweep periodically drops managers that have no active run,
// no bound relay connection and no use within idleTTL.
func (s *Service) RunIdleManagerSweep(ctx context.Context, interval, idleTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.PruneIdleManagers(idleTTL); n > 0 {
				log.Printf("INFO: released %d idle buffer sessions", n)
			}
		}
	}
}

// PruneIdleManagers closes managers idle for at least idleTTL and reports how
// many were released. Their history stays in the store.
func (s *Service) PruneIdleManagers(idleTTL time.Duration) int {
	presence, _ := s.publisher.(Presence)
	cutoff := s.now().Add(-idleTTL)

	s.mu.Lock()
	var released []*session.Manager
	for id, e := range s.managers {
		if e.lastUsed.After(cutoff) {
			continue
		}
		if e.manager.Snapshot().State.Active() {
			continue
		}
		if presence != nil && presence.HasActiveConnections(id) {
			continue
		}
		delete(s.managers, id)
		released = append(released, e.manager)
	}
	s.mu.Unlock()

	for _, m := range released {
		m.Close()
	}
	return len(released)
}

// ManagerCount returns the number of live buffer sessions.
func (s *Service) ManagerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.managers)
}

// InputHint compares the reads a program performs with the stdin supplied for it.
func (s *Service) InputHint(req domain.RunRequest) (domain.InputHint, error) {
	lang, err := s.languages.Resolve(req.Language, req.Filename)
	if err != nil {
		return domain.InputHint{}, fmt.Errorf("failed to resolve language: %w", err)
	}
	return session.CountInputs(lang.Name, req.Code, req.Stdin), nil
}
