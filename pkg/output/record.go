// Package output writes indexing activity as JSONL.
//
// Every line is a typed Record envelope around a type-specific payload, so a
// consumer can parse each line on its own and dispatch on Type.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types follow the pattern srcindex.<type>.v<version>.
const (
	// TypeJob identifies scheduler job events.
	TypeJob = "srcindex.job.v1"

	// TypeOutcome identifies the final per-file result of an index run.
	TypeOutcome = "srcindex.outcome.v1"

	// TypeError identifies errors that did not stop the run.
	TypeError = "srcindex.error.v1"

	// TypeSummary identifies the final summary of an index run.
	TypeSummary = "srcindex.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// RunID correlates every record written by one process.
	RunID string `json:"run_id"`

	Data json.RawMessage `json:"data"`
}

// JobRecord is one scheduler event for one job.
type JobRecord struct {
	// Event is the scheduler event kind, e.g. "queued" or "crashed".
	Event     string `json:"event"`
	JobID     string `json:"job_id"`
	Project   string `json:"project"`
	File      string `json:"file"`
	IndexType string `json:"index_type"`
	PID       int    `json:"pid,omitempty"`

	// ExitCode is set for finished and crashed events only.
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OutcomeRecord is the last known result for one file.
type OutcomeRecord struct {
	File      string `json:"file"`
	JobID     string `json:"job_id,omitempty"`
	IndexType string `json:"index_type"`

	// Outcome is "ok", "aborted" or "no result".
	Outcome  string `json:"outcome"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// ErrorRecord reports a failure for one request or file.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeStartFailed    = "START_FAILED"
	ErrCodeInternal       = "INTERNAL"
)

// SummaryRecord closes an index run.
type SummaryRecord struct {
	Files     int `json:"files"`
	Succeeded int `json:"succeeded"`
	Aborted   int `json:"aborted"`
	NoResult  int `json:"no_result"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // marshal_data, marshal_record or write
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
