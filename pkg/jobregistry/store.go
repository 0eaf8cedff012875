package jobregistry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"syscall"
	"time"
)

// ErrAmbiguousID is returned by Resolve when a prefix matches several jobs.
var ErrAmbiguousID = errors.New("job id prefix is ambiguous")

const recordFile = "job.json"

// Store keeps one job.json per job under root:
//
//	<root>/<job_id>/job.json
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string { return s.root }

func (s *Store) JobDir(jobID string) string { return filepath.Join(s.root, jobID) }

func (s *Store) JobPath(jobID string) string { return filepath.Join(s.JobDir(jobID), recordFile) }

// Write replaces the record of record.JobID. Readers never observe a
// partially written file.
func (s *Store) Write(record *JobRecord) error {
	if record == nil {
		return errors.New("job record is nil")
	}
	jobID := strings.TrimSpace(record.JobID)
	if jobID == "" {
		return errors.New("job_id is required")
	}
	if s.root == "" {
		return errors.New("job registry root dir is empty")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	return writeFileAtomic(s.JobDir(jobID), recordFile, append(data, '\n'))
}

func writeFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Get loads one record and reconciles it with the process table.
func (s *Store) Get(jobID string) (*JobRecord, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("job_id is required")
	}
	data, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("job %s: %s is empty", jobID, recordFile)
	}

	var record JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("job %s: parse %s: %w", jobID, recordFile, err)
	}
	if s.reconcile(&record, time.Now().UTC()) {
		_ = s.Write(&record)
	}
	return &record, nil
}

// reconcile marks a record unknown when it claims a running worker whose
// pid no longer exists, which happens when the daemon died mid-job. It
// reports whether the record changed.
func (s *Store) reconcile(record *JobRecord, now time.Time) bool {
	if record.State != JobStateRunning || record.PID <= 0 || isProcessAlive(record.PID) {
		return false
	}
	record.State = JobStateUnknown
	record.LastHeartbeat = &now
	if record.EndedAt == nil {
		record.EndedAt = &now
	}
	if record.Error == "" {
		record.Error = fmt.Sprintf("worker pid %d is gone", record.PID)
	}
	return true
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Project string
	States  []JobState
}

func (f Filter) match(r JobRecord) bool {
	if f.Project != "" && r.Project != f.Project {
		return false
	}
	return len(f.States) == 0 || slices.Contains(f.States, r.State)
}

// List returns every readable record, newest first. Unreadable records are
// skipped.
func (s *Store) List() ([]JobRecord, error) {
	return s.Select(Filter{})
}

// Select is List restricted to records matching f.
func (s *Store) Select(f Filter) ([]JobRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	out := make([]JobRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil || !f.match(*r) {
			continue
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return jobSortTime(out[i]).After(jobSortTime(out[j]))
	})
	return out, nil
}

func jobSortTime(r JobRecord) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}

// isProcessAlive probes pid with signal 0.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// Resolve expands a unique job id prefix to the full id.
func (s *Store) Resolve(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("job_id is required")
	}
	if _, err := os.Stat(s.JobPath(prefix)); err == nil {
		return prefix, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", fmt.Errorf("read jobs root: %w", err)
	}
	var matches []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			matches = append(matches, entry.Name())
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("job %s: %w", prefix, os.ErrNotExist)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d jobs", ErrAmbiguousID, prefix, len(matches))
	}
}

// Delete removes a job's directory.
func (s *Store) Delete(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return fmt.Errorf("invalid job_id %q", jobID)
	}
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}

// GC removes terminal jobs that ended more than maxAge before now and
// returns their ids. With dryRun nothing is removed.
func (s *Store) GC(maxAge time.Duration, now time.Time, dryRun bool) ([]string, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be > 0")
	}
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, j := range jobs {
		if j.EndedAt == nil || !j.State.Terminal() {
			continue
		}
		if now.Sub(j.EndedAt.UTC()) <= maxAge {
			continue
		}
		if !dryRun {
			if err := s.Delete(j.JobID); err != nil {
				return removed, err
			}
		}
		removed = append(removed, j.JobID)
	}
	return removed, nil
}
