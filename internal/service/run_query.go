package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lenylvt/aurora-sub000/internal/domain"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, bufferID string, limit int) ([]domain.Run, error) {
	runs, err := s.store.ListRuns(ctx, bufferID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func (s *Service) GetRunEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.OutputEvent, error) {
	events, err := s.store.GetOutputEvents(ctx, runID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	return events, nil
}

// RecoverInterruptedRuns fails runs that were still active when a previous
// process stopped. Call it once before serving.
func (s *Service) RecoverInterruptedRuns(ctx context.Context) error {
	n, err := s.store.MarkInterruptedRuns(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to recover interrupted runs: %w", err)
	}
	if n > 0 {
		log.Printf("WARN: marked %d interrupted runs as failed", n)
	}
	return nil
}
