package output

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/indexer"
)

// EventRecorder streams scheduler events to a Writer. It implements
// indexer.Recorder.
type EventRecorder struct {
	w      Writer
	logger *zap.Logger
}

func NewEventRecorder(w Writer, logger *zap.Logger) *EventRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventRecorder{w: w, logger: logger}
}

// Record writes ev as a TypeJob record. Write failures are logged and
// otherwise ignored.
func (r *EventRecorder) Record(ev indexer.Event) {
	if err := r.w.WriteJob(context.Background(), JobRecordFromEvent(ev)); err != nil {
		r.logger.Warn("write job event", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

// JobRecordFromEvent converts a scheduler event to its JSONL payload.
func JobRecordFromEvent(ev indexer.Event) *JobRecord {
	rec := &JobRecord{
		Event:     string(ev.Kind),
		JobID:     ev.JobID,
		Project:   ev.Project,
		File:      ev.File,
		IndexType: ev.Type.String(),
		PID:       ev.PID,
	}
	switch ev.Kind {
	case indexer.EventFinished, indexer.EventCrashed:
		code := ev.ExitCode
		rec.ExitCode = &code
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return rec
}
