// Package service owns the per-buffer session managers and fans their
// notifications out to run history and relay clients.
package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lenylvt/aurora-sub000/internal/config"
	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/policy"
	"github.com/lenylvt/aurora-sub000/internal/repository"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

// Publisher delivers relay messages to the clients bound to a buffer.
type Publisher interface {
	BroadcastJSON(bufferID string, v interface{}) error
}

type Service struct {
	store        repository.Store
	policyEngine *policy.Engine
	batch        session.BatchExecutor
	dial         session.DialFunc
	publisher    Publisher
	config       *config.Config
	languages    *domain.Languages
	now          func() time.Time

	mu             sync.Mutex
	mode           domain.Mode
	interactiveURL string
	modeSelected   bool
	managers       map[string]*bufferEntry
}

func New(store repository.Store, policyEngine *policy.Engine, batch session.BatchExecutor, dial session.DialFunc, publisher Publisher, cfg *config.Config) *Service {
	return &Service{
		store:        store,
		policyEngine: policyEngine,
		batch:        batch,
		dial:         dial,
		publisher:    publisher,
		config:       cfg,
		languages:    domain.NewLanguages(cfg.Languages),
		mode:         domain.ModeBatch,
		now:          time.Now,
		managers:     make(map[string]*bufferEntry),
	}
}

// SelectMode probes the execution host once. The result is sticky for the
// lifetime of the service.
func (s *Service) SelectMode(ctx context.Context, prober session.Prober) domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.modeSelected {
		return s.mode
	}
	s.mode, s.interactiveURL = session.SelectMode(ctx, prober)
	if s.mode == domain.ModeInteractive && s.dial == nil {
		log.Printf("WARN: interactive endpoint %s advertised but no dialer configured, using batch mode", s.interactiveURL)
		s.mode, s.interactiveURL = domain.ModeBatch, ""
	}
	s.modeSelected = true
	log.Printf("INFO: execution mode: %s", s.mode)
	return s.mode
}

// Mode returns the selected execution mode.
func (s *Service) Mode() domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Capabilities is what this host advertises on its probe endpoint.
func (s *Service) Capabilities() domain.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Capabilities{InteractiveURL: s.interactiveURL}
}

// Close stops every session and flushes pending notifications.
func (s *Service) Close() {
	s.mu.Lock()
	managers := make([]*session.Manager, 0, len(s.managers))
	for _, e := range s.managers {
		managers = append(managers, e.manager)
	}
	s.managers = make(map[string]*bufferEntry)
	s.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}
