package worker

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// writeScript installs an executable shell script acting as a worker.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func waitExit(t *testing.T, ch <-chan Exit) Exit {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
		return Exit{}
	}
}

func TestSpawn_EchoesPayloadAndCapturesOutput(t *testing.T) {
	path := writeScript(t, `cat; echo "diag" 1>&2; exit 0`)

	m, err := NewManager(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, m.Path())

	p, err := m.Spawn()
	require.NoError(t, err)
	assert.NotZero(t, p.PID())

	exits := make(chan Exit, 1)
	require.NoError(t, p.OnExit(func(e Exit) { exits <- e }))
	p.Write([]byte("payload"))

	e := waitExit(t, exits)
	assert.Equal(t, 0, e.Code)
	assert.False(t, e.Crashed())
	assert.False(t, e.Killed)
	assert.Equal(t, "payload", string(e.Stdout))
	assert.Equal(t, "diag\n", string(e.Stderr))
	assert.NoError(t, e.Err)
	assert.False(t, e.Stopped.Before(e.Started))

	got, ok := p.Exit()
	require.True(t, ok)
	assert.Equal(t, e.Code, got.Code)
	assert.True(t, p.Release())
	assert.False(t, p.Release())
}

func TestSpawn_SignalledWorkerReportsCrash(t *testing.T) {
	path := writeScript(t, `cat >/dev/null; kill -9 $$`)

	m, err := NewManager(path, nil)
	require.NoError(t, err)
	p, err := m.Spawn()
	require.NoError(t, err)

	exits := make(chan Exit, 1)
	require.NoError(t, p.OnExit(func(e Exit) { exits <- e }))
	p.Write([]byte("x"))

	e := waitExit(t, exits)
	assert.Equal(t, CrashExitCode, e.Code)
	assert.True(t, e.Crashed())
	assert.False(t, e.Killed)
}

func TestKill_ReleasesOnce(t *testing.T) {
	path := writeScript(t, `exec sleep 30`)

	m, err := NewManager(path, nil)
	require.NoError(t, err)
	p, err := m.Spawn()
	require.NoError(t, err)

	exits := make(chan Exit, 1)
	require.NoError(t, p.OnExit(func(e Exit) { exits <- e }))

	require.NoError(t, p.Kill())
	assert.True(t, p.Killed())
	assert.True(t, p.Released())
	require.ErrorIs(t, p.Kill(), ErrReleased)
	assert.False(t, p.Release())

	e := waitExit(t, exits)
	assert.True(t, e.Killed)
	assert.True(t, e.Crashed())
}

func TestOnExit_AfterExitFiresImmediately(t *testing.T) {
	path := writeScript(t, `exit 3`)

	m, err := NewManager(path, nil)
	require.NoError(t, err)
	p, err := m.Spawn()
	require.NoError(t, err)
	p.Write(nil)

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
	}

	exits := make(chan Exit, 1)
	require.NoError(t, p.OnExit(func(e Exit) { exits <- e }))
	assert.Equal(t, 3, waitExit(t, exits).Code)

	require.ErrorIs(t, p.OnExit(func(Exit) {}), ErrAlreadyArmed)
}

func TestSpawn_MissingExecutable(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "missing-worker"), nil)
	require.NoError(t, err)

	p, err := m.Spawn()
	require.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "start worker")
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, DefaultExecutableName, filepath.Base(path))
}
