package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/source"
)

// EventKind is a job lifecycle event reported to a Recorder.
type EventKind string

const (
	EventQueued     EventKind = "queued"
	EventStarted    EventKind = "started"
	EventHandedOff  EventKind = "handed_off"
	EventFinished   EventKind = "finished"
	EventCrashed    EventKind = "crashed"
	EventAborted    EventKind = "aborted"
	EventStartError EventKind = "start_error"
)

// Event describes one job lifecycle change.
type Event struct {
	Kind     EventKind
	JobID    string
	Project  string
	File     string
	Type     IndexType
	PID      int
	ExitCode int
	Err      error
	At       time.Time
}

// Recorder observes scheduler events, for example to persist job records.
type Recorder interface {
	Record(ev Event)
}

// JobInfo is a read-only view of a scheduled job.
type JobInfo struct {
	ID      string    `json:"id"`
	Project string    `json:"project"`
	File    string    `json:"file"`
	Type    string    `json:"type"`
	State   string    `json:"state"`
	PID     int       `json:"pid,omitempty"`
	Since   time.Time `json:"since"`
}

// Scheduler queues jobs and runs at most maxLocal local workers at a time.
//
// Like Job, a Scheduler is confined to the event loop. Requests for a file
// that already has a job are coalesced: a pending job is updated in place,
// a running one is aborted and replaced.
type Scheduler struct {
	ctx      context.Context
	env      *Env
	maxLocal int
	recorder Recorder
	logger   *zap.Logger

	pending []*Job
	local   map[string]*Job
	byFile  map[source.FileID]*Job
	since    map[string]time.Time
	idle     []func()
	draining bool
}

// NewScheduler wires a scheduler to env's dispatcher. ctx is used for
// preprocessing of jobs started in response to completions.
func NewScheduler(ctx context.Context, env *Env, maxLocal int, recorder Recorder) *Scheduler {
	if maxLocal < 1 {
		maxLocal = 1
	}
	s := &Scheduler{
		ctx:      ctx,
		env:      env,
		maxLocal: maxLocal,
		recorder: recorder,
		logger:   env.logger().Named("scheduler"),
		local:    make(map[string]*Job),
		byFile:   make(map[source.FileID]*Job),
		since:    make(map[string]time.Time),
	}
	if env.Dispatcher != nil {
		env.Dispatcher.SetListener(s)
	}
	return s
}

// Index requests (re)indexing of src for project and returns the job that
// will carry it.
func (s *Scheduler) Index(t IndexType, project string, src source.Source) *Job {
	if existing := s.byFile[src.FileID]; existing != nil && src.FileID != 0 {
		if existing.Update(t, src) {
			s.logger.Debug("updated pending job", zap.String("job_id", existing.ID()), zap.Stringer("type", t))
			return existing
		}
		// Update aborted the running job; its worker exit will be ignored.
		delete(s.local, existing.ID())
		s.forget(existing)
		s.record(existing, Event{Kind: EventAborted})
	}

	job := NewJob(s.env, t, project, src)
	s.Submit(job)
	return job
}

// Submit queues a Pending job and starts workers if capacity allows.
func (s *Scheduler) Submit(job *Job) {
	s.pending = append(s.pending, job)
	if fid := job.Source().FileID; fid != 0 {
		s.byFile[fid] = job
	}
	s.since[job.ID()] = time.Now().UTC()
	s.record(job, Event{Kind: EventQueued})
	s.startNext()
}

// Abort cancels a queued or running job. It returns false for unknown ids.
func (s *Scheduler) Abort(jobID string) bool {
	var job *Job
	if j, ok := s.local[jobID]; ok {
		job = j
		delete(s.local, jobID)
	} else {
		for i, j := range s.pending {
			if j.ID() == jobID {
				job = j
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
	}
	if job == nil {
		return false
	}

	job.Abort()
	s.forget(job)
	s.record(job, Event{Kind: EventAborted})
	s.startNext()
	return true
}

// Shutdown aborts every queued job, then every running one, and stops
// starting new workers. Later submissions are aborted right away.
func (s *Scheduler) Shutdown() {
	s.draining = true
	pending := s.pending
	s.pending = nil
	for _, job := range pending {
		job.Abort()
		s.forget(job)
		s.record(job, Event{Kind: EventAborted})
	}
	for id, job := range s.local {
		delete(s.local, id)
		job.Abort()
		s.forget(job)
		s.record(job, Event{Kind: EventAborted})
	}
	s.startNext()
}

// JobFinished implements CompletionListener.
func (s *Scheduler) JobFinished(c Completion) {
	job, ok := s.local[c.JobID]
	if !ok {
		return
	}
	delete(s.local, c.JobID)
	job.release(c.handle)
	s.forget(job)

	kind := EventFinished
	if c.Exit.Crashed() {
		kind = EventCrashed
	}
	s.record(job, Event{Kind: kind, PID: c.Exit.PID, ExitCode: c.Exit.Code, Err: c.Exit.Err})
	s.startNext()
}

// Snapshot lists running jobs followed by queued ones.
func (s *Scheduler) Snapshot() []JobInfo {
	out := make([]JobInfo, 0, len(s.local)+len(s.pending))
	for _, j := range s.local {
		out = append(out, s.Describe(j))
	}
	for _, j := range s.pending {
		out = append(out, s.Describe(j))
	}
	return out
}

// Running returns the number of local workers in flight.
func (s *Scheduler) Running() int {
	return len(s.local)
}

// Queued returns the number of jobs waiting for a worker slot.
func (s *Scheduler) Queued() int {
	return len(s.pending)
}

// Idle reports whether nothing is queued or running.
func (s *Scheduler) Idle() bool {
	return len(s.pending) == 0 && len(s.local) == 0
}

// NotifyIdle calls fn (on the loop) the next time the scheduler becomes
// idle, or right away if it already is.
func (s *Scheduler) NotifyIdle(fn func()) {
	if s.Idle() {
		fn()
		return
	}
	s.idle = append(s.idle, fn)
}

func (s *Scheduler) startNext() {
	if s.draining {
		for _, job := range s.pending {
			job.Abort()
			s.forget(job)
			s.record(job, Event{Kind: EventAborted})
		}
		s.pending = nil
	}
	for len(s.pending) > 0 && len(s.local) < s.maxLocal {
		job := s.pending[0]
		s.pending = s.pending[1:]

		if err := job.StartLocal(s.ctx); err != nil {
			s.logger.Error("failed to start job",
				zap.String("job_id", job.ID()),
				zap.String("file", job.SourceFile()),
				zap.Error(err))
			job.Abort()
			s.forget(job)
			s.record(job, Event{Kind: EventStartError, Err: err})
			continue
		}

		pid := 0
		if p := job.Process(); p != nil {
			pid = p.PID()
		}
		if !job.IsLocal() {
			// A peer owns delivery and lifecycle from here on.
			job.HandOff()
			s.forget(job)
			s.record(job, Event{Kind: EventHandedOff, PID: pid})
			continue
		}
		s.local[job.ID()] = job
		s.since[job.ID()] = time.Now().UTC()
		s.record(job, Event{Kind: EventStarted, PID: pid})
	}

	if s.Idle() && len(s.idle) > 0 {
		waiters := s.idle
		s.idle = nil
		for _, fn := range waiters {
			fn()
		}
	}
}

func (s *Scheduler) forget(job *Job) {
	if fid := job.Source().FileID; fid != 0 && s.byFile[fid] == job {
		delete(s.byFile, fid)
	}
	delete(s.since, job.ID())
}

// Describe returns the JobInfo view of j.
func (s *Scheduler) Describe(j *Job) JobInfo {
	info := JobInfo{
		ID:      j.ID(),
		Project: j.Project(),
		File:    j.SourceFile(),
		Type:    j.Type().String(),
		State:   j.State().String(),
		Since:   s.since[j.ID()],
	}
	if p := j.Process(); p != nil {
		info.PID = p.PID()
	}
	return info
}

func (s *Scheduler) record(job *Job, ev Event) {
	if s.recorder == nil {
		return
	}
	ev.JobID = job.ID()
	ev.Project = job.Project()
	ev.File = job.SourceFile()
	ev.Type = job.Type()
	ev.At = time.Now().UTC()
	s.recorder.Record(ev)
}
