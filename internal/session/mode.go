package session

import (
	"context"
	"log"

	"github.com/lenylvt/aurora-sub000/internal/domain"
)

// Prober reports the execution host's capabilities.
type Prober interface {
	Probe(ctx context.Context) (*domain.Capabilities, error)
}

// StaticProber advertises a fixed interactive endpoint. An empty URL means batch only.
type StaticProber struct {
	URL string
}

func (p StaticProber) Probe(ctx context.Context) (*domain.Capabilities, error) {
	return &domain.Capabilities{InteractiveURL: p.URL}, nil
}

// SelectMode picks interactive mode only when the probe succeeds and
// advertises an endpoint. Any failure falls back to batch.
func SelectMode(ctx context.Context, p Prober) (domain.Mode, string) {
	caps, err := p.Probe(ctx)
	if err != nil {
		log.Printf("WARN: capability probe failed, using batch mode: %v", err)
		return domain.ModeBatch, ""
	}
	if caps == nil || caps.InteractiveURL == "" {
		return domain.ModeBatch, ""
	}
	return domain.ModeInteractive, caps.InteractiveURL
}
