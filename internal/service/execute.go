package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lenylvt/aurora-sub000/internal/adapter/piston"
	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

// ErrBatchUnavailable is returned when no batch executor is configured.
var ErrBatchUnavailable = errors.New("batch execution is not configured")

// Execute performs a single-shot execution outside any buffer session. It
// applies the same admission policy as Run.
func (s *Service) Execute(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error) {
	if s.batch == nil {
		return nil, ErrBatchUnavailable
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, session.ErrEmptySource
	}
	lang, err := s.languages.Resolve(req.Language, "")
	if err != nil {
		return nil, err
	}
	if a := s.admitter(); a != nil {
		if err := a.Admit(ctx, domain.RunRequest{Code: req.Code, Stdin: req.Stdin, Language: lang.Name}, lang); err != nil {
			return nil, err
		}
	}

	if s.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.BatchTimeout)
		defer cancel()
	}
	result, err := s.batch.Execute(ctx, domain.BatchRequest{Language: lang.Name, Code: req.Code, Stdin: req.Stdin})
	if err != nil {
		return nil, fmt.Errorf("failed to execute: %w", err)
	}
	return result, nil
}

// ErrSandboxClosed is reported when the sandbox closes the connection cleanly
// before sending an exit frame.
var ErrSandboxClosed = errors.New("sandbox closed the connection")

// PistonDial adapts a sandbox dialer to the session transport contract.
func PistonDial(d *piston.Dialer) session.DialFunc {
	return func(ctx context.Context, url string) (session.Conn, error) {
		conn, err := d.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return pistonConn{conn}, nil
	}
}

type pistonConn struct {
	*piston.Conn
}

func (c pistonConn) Receive() ([]byte, error) {
	data, err := c.Conn.Receive()
	if err != nil && piston.IsNormalClose(err) {
		return nil, ErrSandboxClosed
	}
	return data, err
}
