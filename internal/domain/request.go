package domain

// RunRequest asks a session to execute a source buffer.
type RunRequest struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
	// Language overrides detection from the filename extension.
	Language string `json:"language,omitempty"`
}

// BatchRequest is the single-shot execution call.
type BatchRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
}

// BatchResult carries the accumulated output of a batch execution.
// Any subset of fields may be populated.
type BatchResult struct {
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Capabilities is the capability probe response.
type Capabilities struct {
	InteractiveURL string `json:"interactive_url,omitempty"`
}

// InputHint compares input calls found in source with lines supplied on stdin.
type InputHint struct {
	Expected int `json:"expected"`
	Supplied int `json:"supplied"`
}
