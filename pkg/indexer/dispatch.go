package indexer

import (
	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/source"
	"github.com/3leaps/srcindex/pkg/worker"
)

// Completion is the immutable record of a local worker exit. It is built
// when the completion handler is armed and carries everything needed to
// deliver a result without touching the Job.
type Completion struct {
	JobID      string
	Project    string
	FileID     source.FileID
	SourceFile string
	Type       IndexType
	Exit       worker.Exit

	handle *worker.Process
}

// CompletionListener is told about every completion that was not made stale
// by an abort, keyed by job id.
type CompletionListener interface {
	JobFinished(c Completion)
}

// Dispatcher interprets local worker exits on the event loop.
//
// Worker output is logged verbatim. A crash exit for a resolvable, loaded
// project yields a synthetic aborted IndexData whose delivery is scheduled
// as a separate loop task. Any other exit code is left to the worker's own
// reporting channel.
type Dispatcher struct {
	projects ProjectResolver
	loop     Poster
	listener CompletionListener
	logger   *zap.Logger
}

func NewDispatcher(projects ProjectResolver, loop Poster, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		projects: projects,
		loop:     loop,
		logger:   logger,
	}
}

// SetListener registers the single completion listener.
func (d *Dispatcher) SetListener(l CompletionListener) {
	d.listener = l
}

// Finished handles one completion. It must run on the event loop.
func (d *Dispatcher) Finished(c Completion) {
	logger := d.logger.With(zap.String("job_id", c.JobID), zap.String("file", c.SourceFile))

	if c.handle != nil && c.handle.Killed() {
		logger.Debug("ignoring exit of aborted worker", zap.Int("exit_code", c.Exit.Code))
		return
	}

	if len(c.Exit.Stdout) > 0 {
		logger.Info("worker stdout", zap.ByteString("output", c.Exit.Stdout))
	}
	if len(c.Exit.Stderr) > 0 {
		logger.Warn("worker stderr", zap.ByteString("output", c.Exit.Stderr))
	}
	if c.Exit.Err != nil {
		logger.Warn("worker wait", zap.Error(c.Exit.Err))
	}

	if c.Exit.Crashed() {
		d.deliverCrash(logger, c)
	} else {
		logger.Debug("worker exited",
			zap.Int("exit_code", c.Exit.Code),
			zap.Duration("elapsed", c.Exit.Stopped.Sub(c.Exit.Started)))
	}

	if d.listener != nil {
		d.listener.JobFinished(c)
	}
}

// deliverCrash schedules a synthetic aborted result, but only for a project
// that exists and is fully loaded.
func (d *Dispatcher) deliverCrash(logger *zap.Logger, c Completion) {
	var proj Sink
	if d.projects != nil {
		proj = d.projects.Project(c.Project)
	}
	if proj == nil {
		logger.Warn("worker crashed, project unknown", zap.String("project", c.Project))
		return
	}
	if state := proj.State(); state != ProjectLoaded {
		logger.Warn("worker crashed, project not loaded",
			zap.String("project", c.Project), zap.Stringer("project_state", state))
		return
	}

	data := &IndexData{
		Type:       c.Type,
		FileID:     c.FileID,
		Aborted:    true,
		Project:    c.Project,
		JobID:      c.JobID,
		ExitCode:   c.Exit.Code,
		FinishedAt: c.Exit.Stopped,
	}
	logger.Warn("worker crashed, delivering aborted result", zap.Stringer("type", c.Type))
	if !d.loop.CallLater(func() { proj.OnJobFinished(data) }) {
		logger.Warn("event loop closed, dropping aborted result")
	}
}
