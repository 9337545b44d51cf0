package domain

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnknownLanguage is returned when no language can be derived for a file.
var ErrUnknownLanguage = errors.New("unknown language")

// Language describes a sandbox runtime.
type Language struct {
	Name       string
	Version    string
	Extensions []string
}

// DefaultVersion selects the newest runtime installed in the sandbox.
const DefaultVersion = "*"

// DefaultLanguages is the built-in language table.
var DefaultLanguages = []Language{
	{Name: "python", Version: DefaultVersion, Extensions: []string{".py"}},
	{Name: "javascript", Version: DefaultVersion, Extensions: []string{".js", ".mjs"}},
	{Name: "typescript", Version: DefaultVersion, Extensions: []string{".ts"}},
	{Name: "c", Version: DefaultVersion, Extensions: []string{".c"}},
	{Name: "c++", Version: DefaultVersion, Extensions: []string{".cpp", ".cc", ".cxx"}},
	{Name: "java", Version: DefaultVersion, Extensions: []string{".java"}},
	{Name: "go", Version: DefaultVersion, Extensions: []string{".go"}},
	{Name: "rust", Version: DefaultVersion, Extensions: []string{".rs"}},
	{Name: "ruby", Version: DefaultVersion, Extensions: []string{".rb"}},
	{Name: "bash", Version: DefaultVersion, Extensions: []string{".sh"}},
}

// Languages resolves filenames and language names to runtimes.
type Languages struct {
	byName map[string]Language
	byExt  map[string]string
}

// NewLanguages builds a table from DefaultLanguages with version overrides applied.
func NewLanguages(versions map[string]string) *Languages {
	l := &Languages{
		byName: make(map[string]Language),
		byExt:  make(map[string]string),
	}
	for _, lang := range DefaultLanguages {
		if v, ok := versions[lang.Name]; ok && v != "" {
			lang.Version = v
		}
		l.byName[lang.Name] = lang
		for _, ext := range lang.Extensions {
			l.byExt[ext] = lang.Name
		}
	}
	return l
}

// Resolve returns the runtime for an explicit language name or, failing that, the filename extension.
func (l *Languages) Resolve(language, filename string) (Language, error) {
	if language != "" {
		if lang, ok := l.byName[strings.ToLower(language)]; ok {
			return lang, nil
		}
		return Language{Name: strings.ToLower(language), Version: DefaultVersion}, nil
	}
	ext := strings.ToLower(filepath.Ext(filename))
	name, ok := l.byExt[ext]
	if !ok {
		return Language{}, ErrUnknownLanguage
	}
	return l.byName[name], nil
}
