package session

import (
	"strings"

	"github.com/lenylvt/aurora-sub000/internal/domain"
)

// DefaultStderrDenylist matches sandbox infrastructure noise that is never
// produced by user programs.
var DefaultStderrDenylist = []string{
	"isolate:",
	"cgroup",
	"Failed to create control group",
	"/sys/fs/",
}

// NoiseFilter drops stderr lines containing a denylisted substring.
type NoiseFilter struct {
	patterns []string
}

// NewNoiseFilter builds a filter from DefaultStderrDenylist plus extra patterns.
func NewNoiseFilter(extra []string) *NoiseFilter {
	patterns := make([]string, 0, len(DefaultStderrDenylist)+len(extra))
	patterns = append(patterns, DefaultStderrDenylist...)
	for _, p := range extra {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &NoiseFilter{patterns: patterns}
}

// Filter removes noisy lines. It returns "" when nothing but noise or
// whitespace remains.
func (f *NoiseFilter) Filter(data string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(data, "\n") {
		if line == "" || f.noisy(line) {
			continue
		}
		b.WriteString(line)
	}
	out := b.String()
	if strings.TrimSpace(out) == "" {
		return ""
	}
	return out
}

func (f *NoiseFilter) noisy(line string) bool {
	for _, p := range f.patterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// LooksLikePrompt guesses whether a stdout chunk is asking for input: the last
// line ends in ':' or '?', or mentions "input".
func LooksLikePrompt(data string) bool {
	trimmed := strings.TrimRight(data, " \t\r\n")
	if trimmed == "" {
		return false
	}
	last := trimmed[strings.LastIndex(trimmed, "\n")+1:]
	if strings.HasSuffix(last, ":") || strings.HasSuffix(last, "?") {
		return true
	}
	return strings.Contains(strings.ToLower(last), "input")
}

var inputCalls = map[string][]string{
	"python":     {"input("},
	"javascript": {"prompt(", "readline(", ".question("},
	"typescript": {"prompt(", "readline(", ".question("},
	"c":          {"scanf(", "getchar(", "fgets("},
	"c++":        {"cin >>", "cin>>", "getline(", "scanf("},
	"java":       {".nextLine(", ".nextInt(", ".nextDouble(", ".next(", ".readLine("},
	"go":         {"fmt.Scan", "ReadString("},
	"rust":       {"read_line("},
	"ruby":       {"gets"},
	"bash":       {"read "},
}

// CountInputs estimates how many stdin reads a program performs and how many
// lines the supplied stdin provides. Both counts are naive and only feed a
// user hint.
func CountInputs(language, code, stdin string) domain.InputHint {
	hint := domain.InputHint{}
	for _, call := range inputCalls[strings.ToLower(language)] {
		hint.Expected += strings.Count(code, call)
	}
	if trimmed := strings.TrimRight(stdin, "\r\n"); trimmed != "" {
		hint.Supplied = strings.Count(trimmed, "\n") + 1
	}
	return hint
}
