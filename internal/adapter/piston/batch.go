package piston

import (
	"context"
	"fmt"
	"strings"

	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/protocol"
)

// BatchAdapter runs batch requests directly against the Piston REST API.
type BatchAdapter struct {
	client    *RESTClient
	languages *domain.Languages
}

// NewBatchAdapter creates a batch executor backed by Piston REST.
func NewBatchAdapter(client *RESTClient, languages *domain.Languages) *BatchAdapter {
	return &BatchAdapter{client: client, languages: languages}
}

// Execute implements the batch execution contract.
func (a *BatchAdapter) Execute(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error) {
	lang, err := a.languages.Resolve(req.Language, "")
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Execute(ctx, &ExecuteRequest{
		Language: lang.Name,
		Version:  lang.Version,
		Files:    []protocol.File{{Name: sourceName(lang), Content: req.Code}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return nil, err
	}
	return ToBatchResult(resp), nil
}

// ToBatchResult flattens a Piston response into stdout/stderr/error fields.
func ToBatchResult(resp *ExecuteResponse) *domain.BatchResult {
	result := &domain.BatchResult{Stdout: resp.Run.Stdout}

	var stderr strings.Builder
	if resp.Compile != nil {
		stderr.WriteString(resp.Compile.Stderr)
		if resp.Compile.Code != nil && *resp.Compile.Code != 0 {
			result.Error = fmt.Sprintf("compilation failed with exit code %d", *resp.Compile.Code)
		}
	}
	stderr.WriteString(resp.Run.Stderr)
	result.Stderr = stderr.String()

	if result.Error == "" && resp.Run.Signal != nil && *resp.Run.Signal != "" {
		result.Error = fmt.Sprintf("process terminated by %s", *resp.Run.Signal)
	}
	return result
}

func sourceName(lang domain.Language) string {
	if len(lang.Extensions) > 0 {
		return "main" + lang.Extensions[0]
	}
	return "main"
}
