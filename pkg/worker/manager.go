package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultExecutableName is the worker binary looked up next to the daemon.
const DefaultExecutableName = "srcindex-worker"

// outputWaitDelay bounds how long Wait keeps draining stdout/stderr after the
// worker exited, in case a grandchild inherited the pipes.
const outputWaitDelay = 5 * time.Second

// Spawner starts worker processes.
type Spawner interface {
	Spawn() (*Process, error)
}

// Manager spawns workers from a fixed executable path.
type Manager struct {
	path   string
	env    []string
	logger *zap.Logger
}

// NewManager returns a Manager for the worker at path. An empty path resolves
// to DefaultExecutableName in the directory of the running executable.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		resolved, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	return &Manager{
		path:   path,
		env:    os.Environ(),
		logger: logger,
	}, nil
}

// DefaultPath returns DefaultExecutableName next to os.Executable().
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), DefaultExecutableName), nil
}

// Path returns the worker executable path.
func (m *Manager) Path() string {
	return m.path
}

// Spawn starts a worker with no arguments. Standard input is left open for
// Process.Write; standard output and error are captured in memory.
func (m *Manager) Spawn() (*Process, error) {
	cmd := exec.Command(m.path)
	cmd.Env = m.env
	cmd.WaitDelay = outputWaitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdin: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		logger: m.logger,
		done:   make(chan struct{}),
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	p.started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start worker %s: %w", m.path, err)
	}

	m.logger.Debug("worker started", zap.String("path", m.path), zap.Int("pid", p.PID()))
	go p.wait()
	return p, nil
}
