package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/lenylvt/aurora-sub000/internal/domain"
)

func (m *Manager) runBatch(ctx context.Context, req domain.RunRequest, lang domain.Language) error {
	m.mu.Lock()
	r := m.beginLocked(req, lang)
	if m.batchTimeout > 0 {
		ctx, r.cancel = context.WithTimeout(ctx, m.batchTimeout)
	} else {
		ctx, r.cancel = context.WithCancel(ctx)
	}
	// A batch run has no running phase: it stays connecting until the
	// response settles it.
	m.mu.Unlock()

	result, err := m.batch.Execute(ctx, domain.BatchRequest{
		Language: lang.Name,
		Code:     req.Code,
		Stdin:    req.Stdin,
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != r {
		return nil
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.failLocked(r, domain.ErrorKindTimeout, fmt.Sprintf("Execution timed out after %s", m.batchTimeout))
			return nil
		}
		m.failLocked(r, domain.ErrorKindTransport, fmt.Sprintf("Execution request failed: %v", err))
		return nil
	}

	if result.Stdout != "" {
		m.appendLocked(r.id, domain.ChannelStdout, result.Stdout)
	}
	if result.Stderr != "" {
		m.appendLocked(r.id, domain.ChannelStderr, result.Stderr)
	}
	if result.Error != "" {
		m.appendLocked(r.id, domain.ChannelStderr, result.Error)
	}
	m.finishLocked(r, domain.StateCompleted, domain.ErrorKindNone)
	return nil
}
