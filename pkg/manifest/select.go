package manifest

import (
	"fmt"

	"github.com/3leaps/srcindex/pkg/match"
	"github.com/3leaps/srcindex/pkg/source"
)

// Entry is one selected translation unit.
type Entry struct {
	Directory  string
	Argv       []string
	SourceFile string
}

// Selection is the outcome of Select.
type Selection struct {
	Entries []Entry

	// Skipped counts commands whose source file did not match.
	Skipped int

	// Invalid lists commands that name no source file, by index.
	Invalid []int
}

// Select parses every command and keeps those whose source file lies under
// the project and matches the manifest's patterns.
func (m *Manifest) Select() (Selection, error) {
	matcher, err := match.New(match.Config{
		Includes:      m.Match.Includes,
		Excludes:      m.Match.Excludes,
		IncludeHidden: m.Match.IncludeHidden,
	})
	if err != nil {
		return Selection{}, fmt.Errorf("compile match patterns: %w", err)
	}

	var sel Selection
	for i, c := range m.Commands {
		argv := c.Argv()
		src, err := source.Parse(argv, c.Directory)
		if err != nil {
			sel.Invalid = append(sel.Invalid, i)
			continue
		}
		file := src.SourceFile()
		if !matcher.MatchFile(m.Project, file) {
			sel.Skipped++
			continue
		}
		sel.Entries = append(sel.Entries, Entry{
			Directory:  c.Directory,
			Argv:       argv,
			SourceFile: file,
		})
	}
	return sel, nil
}
