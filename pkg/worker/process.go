// Package worker spawns and supervises indexing worker processes.
//
// A worker is started without arguments. Its whole job description arrives on
// standard input; standard output and standard error are captured as free-form
// diagnostic text. The package never interprets that text.
package worker

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CrashExitCode is the exit code reported for a worker that did not exit on
// its own: it crashed, was killed by a signal or was terminated for running
// past its own deadline.
const CrashExitCode = -1

var (
	ErrAlreadyArmed = errors.New("exit handler already armed")
	ErrReleased     = errors.New("process handle already released")
)

// Exit describes how a worker process ended.
type Exit struct {
	PID     int
	Code    int
	Killed  bool
	Stdout  []byte
	Stderr  []byte
	Err     error
	Started time.Time
	Stopped time.Time
}

// Crashed reports whether the exit code is the crash sentinel.
func (e Exit) Crashed() bool {
	return e.Code == CrashExitCode
}

// Process is the handle of one running worker.
//
// The handle is owned by exactly one job. Kill releases it; a released handle
// stays safe to query but never signals the process again.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout bytes.Buffer
	stderr bytes.Buffer
	logger *zap.Logger

	started  time.Time
	done     chan struct{}
	killed   atomic.Bool
	released atomic.Bool

	mu      sync.Mutex
	exit    *Exit
	handler func(Exit)
	armed   bool
	writeWG sync.WaitGroup
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is fully captured.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Killed reports whether Kill released this handle.
func (p *Process) Killed() bool {
	return p.killed.Load()
}

// Released reports whether the handle no longer owns the process.
func (p *Process) Released() bool {
	return p.released.Load()
}

// Write hands payload to the worker's standard input and closes it.
//
// The write happens in the background; the caller does not wait for the
// worker to consume the payload. A failed write (for instance because the
// worker already died) is logged and otherwise surfaces through the exit.
func (p *Process) Write(payload []byte) {
	p.writeWG.Go(func() {
		defer func() { _ = p.stdin.Close() }()
		if _, err := p.stdin.Write(payload); err != nil && !errors.Is(err, os.ErrClosed) {
			p.logger.Debug("write worker payload", zap.Int("pid", p.PID()), zap.Error(err))
		}
	})
}

// OnExit arms fn to be called once, from a background goroutine, after the
// process exits. If the process already exited, fn is called right away.
// Only one handler may be armed per process.
func (p *Process) OnExit(fn func(Exit)) error {
	p.mu.Lock()
	if p.armed {
		p.mu.Unlock()
		return ErrAlreadyArmed
	}
	p.armed = true
	exit := p.exit
	if exit == nil {
		p.handler = fn
	}
	p.mu.Unlock()

	if exit != nil {
		go fn(*exit)
	}
	return nil
}

// Kill terminates the process immediately and releases the handle. There is
// no grace period and partial output is discarded by callers. Calling Kill on
// an already released handle does nothing and returns ErrReleased.
func (p *Process) Kill() error {
	if !p.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	p.killed.Store(true)

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Release gives up ownership after the exit has been observed. It returns
// false if the handle was already released.
func (p *Process) Release() bool {
	return p.released.CompareAndSwap(false, true)
}

// Exit returns the exit record once the process has ended.
func (p *Process) Exit() (Exit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return Exit{}, false
	}
	return *p.exit, true
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.writeWG.Wait()

	exit := Exit{
		PID:     p.PID(),
		Code:    CrashExitCode,
		Killed:  p.killed.Load(),
		Stdout:  bytes.Clone(p.stdout.Bytes()),
		Stderr:  bytes.Clone(p.stderr.Bytes()),
		Started: p.started,
		Stopped: time.Now().UTC(),
	}
	if p.cmd.ProcessState != nil {
		exit.Code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}

	p.mu.Lock()
	p.exit = &exit
	handler := p.handler
	p.handler = nil
	p.mu.Unlock()
	close(p.done)

	if handler != nil {
		handler(exit)
	}
}
