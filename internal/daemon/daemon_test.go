package daemon

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/indexer"
	"github.com/3leaps/srcindex/pkg/indexstore"
	"github.com/3leaps/srcindex/pkg/jobregistry"
)

func script(t *testing.T, dir, name, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

type harness struct {
	*Daemon
	project string
	cancel  context.CancelFunc
	done    chan error

	stopOnce sync.Once
	closeErr error
}

// start builds a daemon around a fake compiler and the given worker body
// and runs its loop until the test ends.
func start(t *testing.T, workerBody string) *harness {
	t.Helper()
	return startWith(t, workerBody, nil)
}

func startWith(t *testing.T, workerBody string, mod func(*Options)) *harness {
	t.Helper()
	dir := t.TempDir()
	proj := filepath.Join(dir, "proj")
	require.NoError(t, os.MkdirAll(proj, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(proj, "a.cpp"), []byte("int main() {}\n"), 0o644))

	opts := Options{
		WorkerPath:       script(t, dir, "srcindex-worker", workerBody),
		ProcessCount:     2,
		Destination:      filepath.Join(dir, "srcindex.sock"),
		VisitFileTimeout: time.Minute,
		Compiler:         script(t, dir, "fake-cxx", `echo "int main() {}"`),
		DBPath:           filepath.Join(dir, "index.db"),
		JobsDir:          filepath.Join(dir, "jobs"),
	}
	if mod != nil {
		mod(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d, err := New(ctx, opts, zap.NewNop())
	require.NoError(t, err)

	h := &harness{Daemon: d, project: proj, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- d.Run(ctx) }()
	t.Cleanup(func() { assert.NoError(t, h.stop(t)) })
	return h
}

// stop cancels the loop, waits for Run to return and closes the daemon.
func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.stopOnce.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop")
		}
		h.closeErr = h.Close()
	})
	return h.closeErr
}

func (h *harness) request(t string) IndexRequest {
	return IndexRequest{
		Project:   h.project,
		Directory: h.project,
		Command:   []string{"g++", "-std=c++11", "-c", "a.cpp"},
		Type:      t,
	}
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.WaitIdle(ctx))
	// Deliveries are queued behind the completion that made us idle.
	require.NoError(t, h.Ping(ctx))
}

func TestIndex_CleanExitDeliversSuccess(t *testing.T) {
	h := start(t, "cat >/dev/null; exit 0")
	ctx := context.Background()

	info, err := h.Index(ctx, h.request("initial"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.project, "a.cpp"), info.File)
	assert.Equal(t, "initial", info.Type)
	h.settle(t)

	p, ok := h.Projects().Get(h.project)
	require.True(t, ok)
	id, ok := h.Projects().Files().Lookup(info.File)
	require.True(t, ok)

	result, ok := p.LastResult(id)
	require.True(t, ok)
	assert.False(t, result.Aborted)
	assert.Equal(t, indexer.IndexInitial, result.Type)
	assert.Empty(t, p.DirtyFiles())

	rec, err := h.JobStore().Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateFinished, rec.State)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 0, *rec.ExitCode)
}

func TestIndex_CrashMarksFileDirty(t *testing.T) {
	h := start(t, "cat >/dev/null; kill -9 $$")
	ctx := context.Background()

	info, err := h.Index(ctx, h.request(""))
	require.NoError(t, err)
	assert.Equal(t, "dirty", info.Type)
	h.settle(t)

	p, ok := h.Projects().Get(h.project)
	require.True(t, ok)
	assert.Equal(t, []string{info.File}, p.DirtyFiles())

	rows, err := indexstore.DirtyFiles(ctx, h.DB(), h.project)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, info.File, rows[0].Path)

	rec, err := h.JobStore().Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateCrashed, rec.State)
}

func TestIndex_ResultsSurviveReload(t *testing.T) {
	h := start(t, "cat >/dev/null; kill -9 $$")
	ctx := context.Background()

	info, err := h.Index(ctx, h.request("forced"))
	require.NoError(t, err)
	h.settle(t)

	require.True(t, h.CloseProject(h.project))
	p, err := h.OpenProject(ctx, h.project)
	require.NoError(t, err)
	assert.Equal(t, indexer.ProjectLoaded, p.State())
	assert.Equal(t, []string{info.File}, p.DirtyFiles())
}

func TestIndex_Abort(t *testing.T) {
	h := start(t, "exec sleep 30")
	ctx := context.Background()

	info, err := h.Index(ctx, h.request("dirty"))
	require.NoError(t, err)

	jobs, err := h.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "running", jobs[0].State)
	assert.NotZero(t, jobs[0].PID)

	found, err := h.Abort(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = h.Abort(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, found)

	h.settle(t)
	jobs, err = h.Jobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	rec, err := h.JobStore().Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateAborted, rec.State)

	p, _ := h.Projects().Get(h.project)
	id, _ := h.Projects().Files().Lookup(info.File)
	_, delivered := p.LastResult(id)
	assert.False(t, delivered, "killed worker must not deliver")
}

func TestClose_AbortsQueuedJobs(t *testing.T) {
	h := startWith(t, "exec sleep 30", func(o *Options) { o.ProcessCount = 1 })
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(h.project, "b.cpp"), []byte("int b;\n"), 0o644))

	running, err := h.Index(ctx, h.request("dirty"))
	require.NoError(t, err)
	req := h.request("dirty")
	req.Command = []string{"g++", "-c", "b.cpp"}
	queued, err := h.Index(ctx, req)
	require.NoError(t, err)

	jobs, err := h.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.NoError(t, h.stop(t))

	for _, id := range []string{running.ID, queued.ID} {
		rec, err := h.JobStore().Get(id)
		require.NoError(t, err)
		assert.Equal(t, jobregistry.JobStateAborted, rec.State, "job %s", id)
		assert.Empty(t, rec.Error)
	}
}

func TestIndex_RemoteIsHandedOff(t *testing.T) {
	h := start(t, "cat >/dev/null")
	ctx := context.Background()

	req := h.request("remote")
	req.Destination = "peer.example"
	req.Port = 9123
	info, err := h.Index(ctx, req)
	require.NoError(t, err)
	h.settle(t)

	jobs, err := h.Jobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	rec, err := h.JobStore().Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateHandedOff, rec.State)
}

func TestIndex_InvalidRequests(t *testing.T) {
	h := start(t, "cat >/dev/null")
	ctx := context.Background()

	tests := []struct {
		name string
		mod  func(*IndexRequest)
	}{
		{"unknown type", func(r *IndexRequest) { r.Type = "bogus" }},
		{"relative project", func(r *IndexRequest) { r.Project = "proj" }},
		{"empty project", func(r *IndexRequest) { r.Project = "" }},
		{"no source file", func(r *IndexRequest) { r.Command = []string{"g++", "-c"} }},
		{"remote without destination", func(r *IndexRequest) { r.Port = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request("dirty")
			tt.mod(&req)
			_, err := h.Index(ctx, req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestProjectStats(t *testing.T) {
	h := start(t, "cat >/dev/null; exit 0")
	ctx := context.Background()

	_, err := h.Index(ctx, h.request("initial"))
	require.NoError(t, err)
	h.settle(t)

	stats := h.ProjectStats()
	require.Len(t, stats, 1)
	assert.Equal(t, h.project, stats[0].Path)
	assert.Equal(t, "loaded", stats[0].State)
	assert.Equal(t, 1, stats[0].Files)
	assert.Equal(t, 0, stats[0].Dirty)
}

func TestClosedDaemonRejectsCalls(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	d, err := New(ctx, Options{WorkerPath: filepath.Join(dir, "missing"), DBPath: ":memory:"}, nil)
	require.NoError(t, err)

	cancel()
	require.NoError(t, d.Run(ctx))
	require.NoError(t, d.Close())

	_, err = d.Jobs(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, d.Ping(context.Background()), ErrClosed)
}
