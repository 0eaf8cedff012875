// Package indexer drives a single file indexing job from submission to
// completion or cancellation.
//
// A Job is confined to the daemon event loop: every method must be called
// from a loop task (or, in tests, from a single goroutine). Worker processes
// run in parallel, but their exit is only ever observed through a task posted
// back onto the loop.
//
// State machine:
//
//	Pending --StartLocal--> Running --Abort/Update--> Aborted
//	Pending --Abort-------> Aborted
package indexer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/source"
	"github.com/3leaps/srcindex/pkg/worker"
)

// Job is one request to (re)index a single source file.
type Job struct {
	env *Env
	id  string

	state      State
	typ        IndexType
	project    string
	source     source.Source
	sourceFile string

	preprocessed    string
	preprocessReady bool

	destination string
	port        uint16

	process *worker.Process
}

// NewJob returns a Pending local job delivering results to the configured
// destination.
func NewJob(env *Env, t IndexType, project string, src source.Source) *Job {
	j := &Job{
		env:        env,
		id:         uuid.New().String(),
		state:      StatePending,
		typ:        t,
		project:    project,
		source:     src,
		sourceFile: src.SourceFile(),
	}
	if env != nil {
		j.destination = env.Config.Destination
	}
	return j
}

func (j *Job) ID() string { return j.id }
func (j *Job) State() State { return j.state }
func (j *Job) Type() IndexType { return j.typ }
func (j *Job) Project() string { return j.project }
func (j *Job) Source() source.Source { return j.source }
func (j *Job) SourceFile() string { return j.sourceFile }
func (j *Job) Destination() string { return j.destination }
func (j *Job) Port() uint16 { return j.port }
func (j *Job) Process() *worker.Process { return j.process }
func (j *Job) Preprocessed() (string, bool) { return j.preprocessed, j.preprocessReady }

// IsLocal reports whether results are delivered in-process (port 0).
func (j *Job) IsLocal() bool { return j.port == 0 }

// SetRemote routes results to a peer instead of this daemon. Only legal
// while Pending.
func (j *Job) SetRemote(destination string, port uint16) {
	if j.state != StatePending {
		panic(&TransitionError{Op: "set remote", JobID: j.id, From: j.state})
	}
	j.destination = destination
	j.port = port
}

// Preprocess expands the source once and caches the text. Later calls return
// the cached text without calling the preprocessor again.
func (j *Job) Preprocess(ctx context.Context) (string, error) {
	if j.preprocessReady {
		return j.preprocessed, nil
	}
	if j.env == nil || j.env.Preprocessor == nil {
		return "", fmt.Errorf("job %s: %w: no preprocessor", j.id, ErrIncompleteEnv)
	}
	text, err := j.env.Preprocessor.Preprocess(ctx, j.source)
	if err != nil {
		return "", fmt.Errorf("preprocess %s: %w", j.sourceFile, err)
	}
	j.preprocessed = text
	j.preprocessReady = true
	return text, nil
}

// StartLocal moves a Pending job to Running and hands it to a new worker.
//
// In order it preprocesses (if not cached), encodes the job, spawns the
// worker, arms the completion handler for local jobs and writes the payload.
// When preprocessing or spawning fails the job stays Running without a
// process and the caller must Abort it.
func (j *Job) StartLocal(ctx context.Context) error {
	if j.state != StatePending {
		panic(&TransitionError{Op: "start", JobID: j.id, From: j.state})
	}
	if j.process != nil {
		panic(&TransitionError{Op: "start with live process", JobID: j.id, From: j.state})
	}
	if err := j.env.validate(j.IsLocal()); err != nil {
		return fmt.Errorf("job %s: %w", j.id, err)
	}

	j.state = StateRunning
	logger := j.env.logger().With(zap.String("job_id", j.id), zap.String("file", j.sourceFile))

	if _, err := j.Preprocess(ctx); err != nil {
		return fmt.Errorf("job %s: %w", j.id, err)
	}
	payload := j.Encode()

	p, err := j.env.Spawner.Spawn()
	if err != nil {
		if p != nil {
			_ = p.Kill()
		}
		logger.Error("Couldn't start worker", zap.Error(err))
		se := &SpawnError{JobID: j.id, Err: err}
		if named, ok := j.env.Spawner.(interface{ Path() string }); ok {
			se.Path = named.Path()
		}
		return se
	}
	j.process = p

	if j.IsLocal() {
		j.armCompletion(p)
	}
	p.Write(payload)

	logger.Debug("job started",
		zap.Int("pid", p.PID()),
		zap.Stringer("type", j.typ),
		zap.Int("payload_bytes", len(payload)))
	return nil
}

// armCompletion posts the exit of p to the dispatcher as a loop task. The
// task carries a snapshot of the job, never the job itself.
func (j *Job) armCompletion(p *worker.Process) {
	snapshot := Completion{
		JobID:      j.id,
		Project:    j.project,
		FileID:     j.source.FileID,
		SourceFile: j.sourceFile,
		Type:       j.typ,
		handle:     p,
	}
	loop := j.env.Loop
	dispatcher := j.env.Dispatcher
	logger := j.env.logger()

	err := p.OnExit(func(exit worker.Exit) {
		c := snapshot
		c.Exit = exit
		if !loop.CallLater(func() { dispatcher.Finished(c) }) {
			logger.Warn("event loop closed, dropping worker exit",
				zap.String("job_id", c.JobID), zap.Int("exit_code", exit.Code))
		}
	})
	if err != nil {
		// Spawned handles are fresh, so this only trips on misuse.
		panic(fmt.Sprintf("arm completion for job %s: %v", j.id, err))
	}
}

// Update supersedes the job with a newer request for the same file.
//
// A Pending job takes the new type and source in place and Update returns
// true. A Running job is aborted (its worker is killed) and Update returns
// false; the caller must submit a new job. Updating an Aborted job is a
// programming error and panics.
func (j *Job) Update(t IndexType, src source.Source) bool {
	switch j.state {
	case StateAborted:
		panic(&TransitionError{Op: "update", JobID: j.id, From: j.state})
	case StateRunning:
		j.Abort()
		return false
	}
	j.typ = t
	j.source = src
	j.sourceFile = src.SourceFile()
	return true
}

// Abort cancels the job. A running worker is killed without grace and its
// handle released. Abort is idempotent.
func (j *Job) Abort() {
	if j.state == StateRunning && j.process != nil {
		if err := j.process.Kill(); err != nil {
			j.env.logger().Debug("kill worker", zap.String("job_id", j.id), zap.Error(err))
		}
		j.process = nil
	}
	j.state = StateAborted
}

// HandOff gives up ownership of the worker of a running remote job. The
// worker keeps running; its peer observes the result.
func (j *Job) HandOff() {
	if j.state != StateRunning || j.IsLocal() {
		panic(&TransitionError{Op: "hand off", JobID: j.id, From: j.state})
	}
	if j.process != nil {
		j.process.Release()
		j.process = nil
	}
}

// release drops the handle after its exit was observed.
func (j *Job) release(p *worker.Process) bool {
	if p == nil || j.process != p {
		return false
	}
	p.Release()
	j.process = nil
	return true
}
