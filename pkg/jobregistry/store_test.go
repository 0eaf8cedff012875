package jobregistry

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/srcindex/pkg/indexer"
)

func TestStore_WriteGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	code := -1
	rec := &JobRecord{
		JobID:     "job-1",
		Project:   "/proj",
		File:      "/proj/a.cpp",
		IndexType: "dirty",
		State:     JobStateCrashed,
		ExitCode:  &code,
		CreatedAt: now,
		StartedAt: &now,
		EndedAt:   &now,
	}

	require.NoError(t, s.Write(rec))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, got.JobID)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, "/proj/a.cpp", got.File)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, -1, *got.ExitCode)

	entries, err := os.ReadDir(s.JobDir("job-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")
	assert.Equal(t, "job.json", entries[0].Name())
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	s := NewStore(t.TempDir())

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(&JobRecord{JobID: "job-1", State: JobStateFinished, CreatedAt: t1, StartedAt: &t1}))
	require.NoError(t, s.Write(&JobRecord{JobID: "job-2", State: JobStateFinished, CreatedAt: t2, StartedAt: &t2}))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "job-2", got[0].JobID)
}

func TestStore_ZombieBecomesUnknown(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Now().UTC()

	// PIDs this large are never handed out on the platforms we run on.
	require.NoError(t, s.Write(&JobRecord{JobID: "job-z", State: JobStateRunning, PID: 1 << 30, CreatedAt: now}))

	got, err := s.Get("job-z")
	require.NoError(t, err)
	assert.Equal(t, JobStateUnknown, got.State)
	assert.NotNil(t, got.EndedAt)
	assert.Contains(t, got.Error, "is gone")

	live := os.Getpid()
	require.NoError(t, s.Write(&JobRecord{JobID: "job-live", State: JobStateRunning, PID: live, CreatedAt: now}))
	got, err = s.Get("job-live")
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, got.State)
}

func TestStore_Select(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Now().UTC()
	require.NoError(t, s.Write(&JobRecord{JobID: "a", Project: "/p1", State: JobStateFinished, CreatedAt: now}))
	require.NoError(t, s.Write(&JobRecord{JobID: "b", Project: "/p1", State: JobStateCrashed, CreatedAt: now}))
	require.NoError(t, s.Write(&JobRecord{JobID: "c", Project: "/p2", State: JobStateCrashed, CreatedAt: now}))

	ids := func(f Filter) []string {
		got, err := s.Select(f)
		require.NoError(t, err)
		var out []string
		for _, r := range got {
			out = append(out, r.JobID)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(Filter{}))
	assert.ElementsMatch(t, []string{"a", "b"}, ids(Filter{Project: "/p1"}))
	assert.ElementsMatch(t, []string{"b", "c"}, ids(Filter{States: []JobState{JobStateCrashed}}))
	assert.Equal(t, []string{"b"}, ids(Filter{Project: "/p1", States: []JobState{JobStateCrashed, JobStateAborted}}))
}

func TestStore_ListMissingRoot(t *testing.T) {
	s := NewStore(t.TempDir() + "/absent")
	got, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJobState_Valid(t *testing.T) {
	assert.True(t, JobStateHandedOff.Valid())
	assert.False(t, JobState("paused").Valid())
	assert.False(t, JobStateQueued.Terminal())
	assert.True(t, JobStateHandedOff.Terminal())
}

func TestStore_Resolve(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Now().UTC()
	for _, id := range []string{"abc123", "abd456", "xyz789"} {
		require.NoError(t, s.Write(&JobRecord{JobID: id, State: JobStateFinished, CreatedAt: now}))
	}

	id, err := s.Resolve("abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	id, err = s.Resolve("xy")
	require.NoError(t, err)
	assert.Equal(t, "xyz789", id)

	_, err = s.Resolve("ab")
	require.ErrorIs(t, err, ErrAmbiguousID)

	_, err = s.Resolve("nope")
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStore_GC(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	require.NoError(t, s.Write(&JobRecord{JobID: "old-done", State: JobStateFinished, CreatedAt: old, EndedAt: &old}))
	require.NoError(t, s.Write(&JobRecord{JobID: "old-aborted", State: JobStateAborted, CreatedAt: old, EndedAt: &old}))
	require.NoError(t, s.Write(&JobRecord{JobID: "recent", State: JobStateCrashed, CreatedAt: recent, EndedAt: &recent}))
	require.NoError(t, s.Write(&JobRecord{JobID: "queued", State: JobStateQueued, CreatedAt: old}))

	wouldRemove, err := s.GC(7*24*time.Hour, now, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old-done", "old-aborted"}, wouldRemove)
	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 4)

	removed, err := s.GC(7*24*time.Hour, now, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old-done", "old-aborted"}, removed)
	all, err = s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.GC(0, now, false)
	require.Error(t, err)
}

func TestStore_DeleteRejectsPaths(t *testing.T) {
	s := NewStore(t.TempDir())
	require.Error(t, s.Delete("../escape"))
	require.Error(t, s.Delete(""))
}

func TestRecorder_Lifecycle(t *testing.T) {
	s := NewStore(t.TempDir())
	r := NewRecorder(s, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ev := indexer.Event{JobID: "job-1", Project: "/proj", File: "/proj/a.cpp", Type: indexer.IndexDirty}

	ev.Kind, ev.At = indexer.EventQueued, base
	r.Record(ev)
	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.Equal(t, "dirty", got.IndexType)

	ev.Kind, ev.At, ev.PID = indexer.EventStarted, base.Add(time.Second), os.Getpid()
	r.Record(ev)
	got, err = s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, got.State)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, os.Getpid(), got.PID)

	ev.Kind, ev.At, ev.ExitCode = indexer.EventCrashed, base.Add(2*time.Second), -1
	r.Record(ev)
	got, err = s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateCrashed, got.State)
	require.NotNil(t, got.EndedAt)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, -1, *got.ExitCode)
	assert.True(t, base.Equal(got.CreatedAt))
}

func TestRecorder_StartError(t *testing.T) {
	s := NewStore(t.TempDir())
	r := NewRecorder(s, nil)

	r.Record(indexer.Event{Kind: indexer.EventStartError, JobID: "job-2", Err: errors.New("spawn failed")})
	got, err := s.Get("job-2")
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, got.State)
	assert.Equal(t, "spawn failed", got.Error)
	assert.Nil(t, got.ExitCode)
	assert.True(t, got.State.Terminal())
}
