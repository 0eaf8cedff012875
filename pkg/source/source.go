// Package source describes a single compiler invocation for one source file.
package source

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/3leaps/srcindex/pkg/wire"
)

// Language is the source language inferred from the compiler invocation.
type Language uint8

const (
	LanguageNone Language = iota
	LanguageC
	LanguageCPlusPlus
	LanguageCPlusPlus11
	LanguageObjectiveC
	LanguageObjectiveCPlusPlus
)

func (l Language) String() string {
	switch l {
	case LanguageC:
		return "c"
	case LanguageCPlusPlus:
		return "c++"
	case LanguageCPlusPlus11:
		return "c++11"
	case LanguageObjectiveC:
		return "objective-c"
	case LanguageObjectiveCPlusPlus:
		return "objective-c++"
	default:
		return "none"
	}
}

// Source is the full compiler-invocation descriptor of a file to index.
type Source struct {
	FileID           FileID
	Path             string
	WorkingDirectory string
	Compiler         string
	Language         Language
	Arguments        []string
}

// IsNull reports whether s describes no file at all.
func (s Source) IsNull() bool {
	return s.FileID == 0 && strings.TrimSpace(s.Path) == ""
}

// SourceFile returns the absolute, cleaned path of the file being compiled.
func (s Source) SourceFile() string {
	p := strings.TrimSpace(s.Path)
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) && s.WorkingDirectory != "" {
		p = filepath.Join(s.WorkingDirectory, p)
	}
	return filepath.Clean(p)
}

// Equal compares every field, including argument order.
func (s Source) Equal(o Source) bool {
	return s.FileID == o.FileID &&
		s.Path == o.Path &&
		s.WorkingDirectory == o.WorkingDirectory &&
		s.Compiler == o.Compiler &&
		s.Language == o.Language &&
		slices.Equal(s.Arguments, o.Arguments)
}

func (s Source) String() string {
	return fmt.Sprintf("%s (%s, %d args)", s.SourceFile(), s.Language, len(s.Arguments))
}

// Encode appends s to w in positional order.
func (s Source) Encode(w *wire.Writer) {
	w.Uint32(uint32(s.FileID))
	w.String(s.Path)
	w.String(s.WorkingDirectory)
	w.String(s.Compiler)
	w.Uint8(uint8(s.Language))
	w.Strings(s.Arguments)
}

// Decode reads a Source written by Encode.
func Decode(r *wire.Reader) Source {
	var s Source
	s.FileID = FileID(r.Uint32())
	s.Path = r.String()
	s.WorkingDirectory = r.String()
	s.Compiler = r.String()
	s.Language = Language(r.Uint8())
	s.Arguments = r.Strings()
	return s
}
