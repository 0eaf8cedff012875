// Package manifest loads batch index manifests.
//
// A manifest names one project and the compiler invocations of its
// translation units. Glob patterns select which of them to index.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	project: /src/app
//	type: initial
//	match:
//	  includes:
//	    - "src/**/*.cpp"
//	  excludes:
//	    - "src/gen/**"
//	commands:
//	  - directory: build
//	    arguments: [g++, -std=c++17, -I../include, -c, ../src/main.cpp]
//	  - command: clang++ -c src/util.cpp
package manifest

import (
	"path/filepath"
	"strings"
)

// Manifest is a validated batch index manifest.
type Manifest struct {
	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Project is the absolute project root all commands belong to.
	Project string `json:"project" yaml:"project"`

	// Type is the index type for every job. Default: "initial".
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Match selects commands by the project-relative path of their source
	// file. Default: every file.
	Match MatchConfig `json:"match,omitempty" yaml:"match,omitempty"`

	// Commands are the compiler invocations, one per translation unit.
	Commands []Command `json:"commands" yaml:"commands"`
}

// MatchConfig configures source file selection.
type MatchConfig struct {
	Includes      []string `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes      []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	IncludeHidden bool     `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`
}

// Command is one compiler invocation.
//
// Exactly one of Arguments and Command must be set. Command is split on
// whitespace; shell quoting is not interpreted.
type Command struct {
	// Directory is the working directory, relative to Project if not
	// absolute. Default: Project.
	Directory string   `json:"directory,omitempty" yaml:"directory,omitempty"`
	Arguments []string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Command   string   `json:"command,omitempty" yaml:"command,omitempty"`
}

// Argv returns the command line as an argument vector.
func (c Command) Argv() []string {
	if len(c.Arguments) > 0 {
		return c.Arguments
	}
	return strings.Fields(c.Command)
}

// Default values for optional fields.
const (
	DefaultVersion = "1.0"
	DefaultType    = "initial"
)

// DefaultIncludes matches every non-hidden file.
var DefaultIncludes = []string{"**"}

// ApplyDefaults fills in optional fields and resolves command directories
// against the project root.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.Type == "" {
		m.Type = DefaultType
	}
	if len(m.Match.Includes) == 0 {
		m.Match.Includes = append([]string(nil), DefaultIncludes...)
	}
	if m.Project != "" {
		m.Project = filepath.Clean(m.Project)
	}
	for i := range m.Commands {
		dir := strings.TrimSpace(m.Commands[i].Directory)
		switch {
		case dir == "":
			dir = m.Project
		case !filepath.IsAbs(dir):
			dir = filepath.Join(m.Project, dir)
		}
		m.Commands[i].Directory = filepath.Clean(dir)
	}
}
