// Package repository persists run history.
package repository

import (
	"context"
	"time"

	"github.com/lenylvt/aurora-sub000/internal/domain"
)

// Store defines the interface for run history persistence.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, bufferID string, limit int) ([]domain.Run, error)
	UpdateRunState(ctx context.Context, runID string, state domain.State) error
	UpdateRunCompleted(ctx context.Context, runID string, state domain.State, kind domain.ErrorKind, exitCode *int, endedAt time.Time) error
	MarkInterruptedRuns(ctx context.Context, endedAt time.Time) (int64, error)

	// Output event operations
	CreateOutputEvent(ctx context.Context, event *domain.OutputEvent) error
	GetOutputEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.OutputEvent, error)

	// Lifecycle
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
