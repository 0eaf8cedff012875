package jobregistry

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/indexer"
)

// Recorder mirrors scheduler events into job.json records. It implements
// indexer.Recorder.
//
// Write failures are logged and otherwise ignored: the registry is an
// operator aid, not part of the indexing path.
type Recorder struct {
	store  *Store
	logger *zap.Logger
}

func NewRecorder(store *Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Record applies ev to the job's record, creating it on first sight.
func (r *Recorder) Record(ev indexer.Event) {
	rec, err := r.store.Get(ev.JobID)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("read job record", zap.String("job_id", ev.JobID), zap.Error(err))
		}
		rec = &JobRecord{
			JobID:     ev.JobID,
			CreatedAt: eventTime(ev),
		}
	}

	apply(rec, ev)
	if err := r.store.Write(rec); err != nil {
		r.logger.Warn("write job record", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

func apply(rec *JobRecord, ev indexer.Event) {
	at := eventTime(ev)
	rec.Project = ev.Project
	rec.File = ev.File
	rec.IndexType = ev.Type.String()
	rec.LastHeartbeat = &at
	if ev.PID != 0 {
		rec.PID = ev.PID
	}

	switch ev.Kind {
	case indexer.EventQueued:
		rec.State = JobStateQueued
		return
	case indexer.EventStarted:
		rec.State = JobStateRunning
		rec.StartedAt = &at
		return
	case indexer.EventHandedOff:
		rec.State = JobStateHandedOff
		rec.StartedAt = &at
	case indexer.EventFinished:
		rec.State = JobStateFinished
	case indexer.EventCrashed:
		rec.State = JobStateCrashed
	case indexer.EventAborted:
		rec.State = JobStateAborted
	case indexer.EventStartError:
		rec.State = JobStateFailed
	default:
		rec.State = JobStateUnknown
	}

	rec.EndedAt = &at
	if ev.Kind == indexer.EventFinished || ev.Kind == indexer.EventCrashed {
		code := ev.ExitCode
		rec.ExitCode = &code
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
}

func eventTime(ev indexer.Event) time.Time {
	if ev.At.IsZero() {
		return time.Now().UTC()
	}
	return ev.At.UTC()
}
