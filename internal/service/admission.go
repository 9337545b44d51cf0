package service

import (
	"context"
	"fmt"

	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/policy"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

// policyAdmitter gates runs on the OPA run policy.
type policyAdmitter struct {
	engine           *policy.Engine
	allowedLanguages []string
	maxSourceBytes   int
}

func (s *Service) admitter() session.Admitter {
	if s.policyEngine == nil {
		return nil
	}
	return &policyAdmitter{
		engine:           s.policyEngine,
		allowedLanguages: s.config.AllowedLanguages,
		maxSourceBytes:   s.config.MaxSourceBytes,
	}
}

func (a *policyAdmitter) Admit(ctx context.Context, req domain.RunRequest, lang domain.Language) error {
	decision, err := a.engine.Evaluate(ctx, policy.Input{
		Language:         lang.Name,
		Filename:         req.Filename,
		SourceBytes:      len(req.Code),
		AllowedLanguages: a.allowedLanguages,
		MaxSourceBytes:   a.maxSourceBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate run policy: %w", err)
	}
	if !decision.Allowed() {
		return &session.BlockedError{Reason: decision.Reason()}
	}
	return nil
}
