package jobregistry

import "time"

// JobState is the lifecycle state of an indexing job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateHandedOff JobState = "handed_off"
	JobStateFinished  JobState = "finished"
	JobStateCrashed   JobState = "crashed"
	JobStateAborted   JobState = "aborted"
	JobStateFailed    JobState = "failed"
	JobStateUnknown   JobState = "unknown"
)

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateRunning, JobStateHandedOff, JobStateFinished,
		JobStateCrashed, JobStateAborted, JobStateFailed, JobStateUnknown:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateQueued, JobStateRunning:
		return false
	default:
		return true
	}
}

// JobRecord is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID     string    `json:"job_id"`
	Project   string    `json:"project"`
	File      string    `json:"file"`
	IndexType string    `json:"index_type"`
	State     JobState  `json:"state"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}
