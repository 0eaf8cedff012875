package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2024-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestCurrentVersion(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	SetVersionInfo("1.2.3", "deadbeef", "2026-01-01")
	info := currentVersion()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "deadbeef", info.Commit)
	assert.NotEmpty(t, info.GoVersion)
}

func TestCLIOverrides(t *testing.T) {
	origLevel, origVerbose := flagLogLevel, flagVerbose
	defer func() { flagLogLevel, flagVerbose = origLevel, origVerbose }()

	tests := []struct {
		name    string
		level   string
		verbose bool
		want    map[string]any
	}{
		{name: "none", want: map[string]any{}},
		{name: "verbose", verbose: true, want: map[string]any{"logging": map[string]any{"level": "debug"}}},
		{name: "explicit level wins", level: " warn ", verbose: true, want: map[string]any{"logging": map[string]any{"level": "warn"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagLogLevel, flagVerbose = tt.level, tt.verbose
			assert.Equal(t, tt.want, cliOverrides())
		})
	}
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "index", "preprocess", "jobs", "projects", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func setFlag(t *testing.T, name, value string) {
	t.Helper()
	f := indexCmd.Flags().Lookup(name)
	require.NotNil(t, f)
	orig := f.Value.String()
	require.NoError(t, indexCmd.Flags().Set(name, value))
	t.Cleanup(func() { _ = indexCmd.Flags().Set(name, orig) })
}

func TestIndexRequests_CommandLine(t *testing.T) {
	project := t.TempDir()
	setFlag(t, "project", project)
	setFlag(t, "dir", filepath.Join(project, "build"))
	setFlag(t, "type", "forced")

	reqs, err := indexRequests(indexCmd, []string{"g++", "-c", "../a.cpp"})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, project, reqs[0].Project)
	assert.Equal(t, filepath.Join(project, "build"), reqs[0].Directory)
	assert.Equal(t, []string{"g++", "-c", "../a.cpp"}, reqs[0].Command)
	assert.Equal(t, "forced", reqs[0].Type)
}

func TestIndexRequests_NeedsInput(t *testing.T) {
	_, err := indexRequests(indexCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestIndexRequests_Manifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.yaml")
	data := `project: /src/app
type: initial
match:
  includes: ["src/**"]
commands:
  - command: g++ -c src/a.cpp
  - command: g++ -c tools/b.cpp
  - command: g++ -c src/c.cpp
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	setFlag(t, "manifest", path)

	reqs, err := indexRequests(indexCmd, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, "/src/app", r.Project)
		assert.Equal(t, "initial", r.Type)
	}
	assert.Equal(t, []string{"g++", "-c", "src/c.cpp"}, reqs[1].Command)

	_, err = indexRequests(indexCmd, []string{"g++", "x.c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortJobID("0123456789abcdef"))
	assert.Equal(t, "short", shortJobID(" short "))
	assert.Equal(t, "-", formatOptionalTime(nil))
	assert.Equal(t, "-", formatExitCode(nil))
	code := -1
	assert.Equal(t, "-1", formatExitCode(&code))
	assert.Equal(t, "-", dashIfEmpty("  "))
}
