package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/3leaps/srcindex/pkg/match"
)

// ErrValidationFailed is wrapped by every ValidationErrors.
var ErrValidationFailed = errors.New("manifest validation failed")

// knownTypes are the index types a manifest may request.
var knownTypes = map[string]bool{
	"makefile": true,
	"dirty":    true,
	"dump":     true,
	"restore":  true,
	"forced":   true,
	"initial":  true,
}

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/match/includes").
	Path string

	// Message describes the validation failure.
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a manifest after ApplyDefaults. It reports every problem
// at once.
func Validate(m *Manifest) error {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if m.Version != DefaultVersion {
		add("/version", "unsupported version %q", m.Version)
	}
	if m.Project == "" {
		add("/project", "project is required")
	} else if !filepath.IsAbs(m.Project) {
		add("/project", "project must be an absolute path, got %q", m.Project)
	}
	if !knownTypes[m.Type] {
		add("/type", "unknown index type %q", m.Type)
	}
	if _, err := match.New(match.Config{Includes: m.Match.Includes, Excludes: m.Match.Excludes}); err != nil {
		add("/match", "%v", err)
	}
	if len(m.Commands) == 0 {
		add("/commands", "at least one command is required")
	}
	for i, c := range m.Commands {
		path := fmt.Sprintf("/commands/%d", i)
		hasArgs := len(c.Arguments) > 0
		hasCmd := strings.TrimSpace(c.Command) != ""
		switch {
		case hasArgs && hasCmd:
			add(path, "set either arguments or command, not both")
		case !hasArgs && !hasCmd:
			add(path, "arguments or command is required")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
