package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lenylvt/aurora-sub000/internal/protocol"
)

// RESTClient is an HTTP client for the Piston v2 REST API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTClient creates a new Piston REST client.
func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ExecuteRequest is the body of POST /api/v2/execute.
type ExecuteRequest struct {
	Language string          `json:"language"`
	Version  string          `json:"version"`
	Files    []protocol.File `json:"files"`
	Stdin    string          `json:"stdin,omitempty"`
}

// StageResult is the outcome of the compile or run stage.
type StageResult struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Output string  `json:"output"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

// ExecuteResponse is the response of POST /api/v2/execute.
type ExecuteResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      StageResult  `json:"run"`
	Compile  *StageResult `json:"compile,omitempty"`
}

// ErrorResponse is the error body Piston returns on 4xx/5xx.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Execute calls POST /api/v2/execute.
func (c *RESTClient) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call sandbox: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return nil, fmt.Errorf("sandbox error: %s", errResp.Message)
		}
		return nil, fmt.Errorf("sandbox returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var execResp ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&execResp); err != nil {
		return nil, fmt.Errorf("failed to decode execute response: %w", err)
	}
	return &execResp, nil
}
