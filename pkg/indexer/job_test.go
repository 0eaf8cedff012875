package indexer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/srcindex/pkg/source"
	"github.com/3leaps/srcindex/pkg/worker"
)

func testSource(files *source.Files, path string) source.Source {
	return source.Source{
		FileID:    files.Insert(path),
		Path:      path,
		Compiler:  "g++",
		Language:  source.LanguageCPlusPlus,
		Arguments: []string{"-std=c++11", "-Iinclude"},
	}
}

func TestNewJob(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/worker")
	files := source.NewFiles()
	src := testSource(files, "/a.cpp")

	job := NewJob(env.Env, IndexDirty, "/proj", src)
	assert.NotEmpty(t, job.ID())
	assert.Equal(t, StatePending, job.State())
	assert.Equal(t, IndexDirty, job.Type())
	assert.Equal(t, "/proj", job.Project())
	assert.Equal(t, "/a.cpp", job.SourceFile())
	assert.Equal(t, "/tmp/sock", job.Destination())
	assert.Equal(t, uint16(0), job.Port())
	assert.True(t, job.IsLocal())
	assert.Nil(t, job.Process())

	text, ok := job.Preprocessed()
	assert.Empty(t, text)
	assert.False(t, ok)
}

func TestJob_UpdatePending(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/worker")
	files := source.NewFiles()
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(files, "/a.cpp"))

	newSrc := testSource(files, "/a.cpp")
	newSrc.Arguments = []string{"-O2"}

	require.True(t, job.Update(IndexForced, newSrc))
	assert.Equal(t, StatePending, job.State())
	assert.Equal(t, IndexForced, job.Type())
	assert.True(t, job.Source().Equal(newSrc))
	assert.Equal(t, newSrc.SourceFile(), job.SourceFile())
}

func TestJob_AbortIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/worker")
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(source.NewFiles(), "/a.cpp"))

	job.Abort()
	assert.Equal(t, StateAborted, job.State())
	assert.NotPanics(t, job.Abort)
	assert.Equal(t, StateAborted, job.State())
}

func TestJob_IllegalTransitionsPanic(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/worker")
	files := source.NewFiles()
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(files, "/a.cpp"))
	job.Abort()

	terr := recoverTransition(t, func() { job.Update(IndexForced, testSource(files, "/a.cpp")) })
	assert.Equal(t, "update", terr.Op)
	assert.Equal(t, StateAborted, terr.From)

	terr = recoverTransition(t, func() { _ = job.StartLocal(t.Context()) })
	assert.Equal(t, "start", terr.Op)

	terr = recoverTransition(t, func() { job.SetRemote("peer", 1) })
	assert.Contains(t, terr.Error(), "illegal transition")
}

func TestJob_PreprocessRunsOnce(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/worker")
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(source.NewFiles(), "/a.cpp"))

	first, err := job.Preprocess(t.Context())
	require.NoError(t, err)
	env.pre.text = "changed"
	second, err := job.Preprocess(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, env.pre.calls)
	assert.Equal(t, first, second)
	text, ok := job.Preprocessed()
	assert.True(t, ok)
	assert.Equal(t, first, text)
}

func TestJob_PreprocessFailureIsRetried(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/worker")
	env.pre.err = errors.New("no compiler")
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(source.NewFiles(), "/a.cpp"))

	_, err := job.Preprocess(t.Context())
	require.Error(t, err)

	env.pre.err = nil
	_, err = job.Preprocess(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, env.pre.calls)
}

func TestJob_StartLocalSpawnFailure(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/srcindex-worker")
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(source.NewFiles(), "/a.cpp"))

	err := job.StartLocal(t.Context())
	require.Error(t, err)
	assert.True(t, IsSpawnFailure(err))
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, job.ID(), spawnErr.JobID)
	assert.Equal(t, "/nonexistent/srcindex-worker", spawnErr.Path)
	assert.Contains(t, err.Error(), "/nonexistent/srcindex-worker")

	// Left Running with nothing attached until the caller aborts.
	assert.Equal(t, StateRunning, job.State())
	assert.Nil(t, job.Process())

	job.Abort()
	assert.Equal(t, StateAborted, job.State())
}

func TestJob_StartLocalPreprocessFailure(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/srcindex-worker")
	env.pre.err = errors.New("boom")
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(source.NewFiles(), "/a.cpp"))

	err := job.StartLocal(t.Context())
	require.Error(t, err)
	assert.False(t, IsSpawnFailure(err))
	assert.Equal(t, StateRunning, job.State())
	assert.Nil(t, job.Process())
}

func TestJob_StartLocalWithoutEnv(t *testing.T) {
	job := NewJob(nil, IndexDirty, "/proj", testSource(source.NewFiles(), "/a.cpp"))

	err := job.StartLocal(t.Context())
	require.ErrorIs(t, err, ErrIncompleteEnv)
	assert.Equal(t, StatePending, job.State())
}

func TestJob_StartLocalRunsWorker(t *testing.T) {
	out := t.TempDir() + "/payload"
	env := newTestEnv(t, workerScript(t, `cat > "`+out+`"`))
	env.projects["/proj"] = &fakeSink{state: ProjectLoaded}
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(source.NewFiles(), "/a.cpp"))

	require.NoError(t, job.StartLocal(t.Context()))
	assert.Equal(t, StateRunning, job.State())
	p := job.Process()
	require.NotNil(t, p)
	assert.Equal(t, 1, env.pre.calls)

	waitDone(t, p)
	drainUntil(t, env.loop, func() bool { return env.loop.Pending() == 0 })

	exit, ok := p.Exit()
	require.True(t, ok)
	assert.Equal(t, 0, exit.Code)
	assert.Empty(t, env.projects["/proj"].results, "clean exits are reported by the worker itself")

	// The worker received exactly what Encode produces.
	payload := readFile(t, out)
	assert.Equal(t, job.Encode(), payload)
}

func TestJob_UpdateRunningKillsWorker(t *testing.T) {
	env := newTestEnv(t, workerScript(t, `exec sleep 30`))
	sink := &fakeSink{state: ProjectLoaded}
	env.projects["/proj"] = sink
	files := source.NewFiles()
	job := NewJob(env.Env, IndexDirty, "/proj", testSource(files, "/a.cpp"))

	require.NoError(t, job.StartLocal(t.Context()))
	p := job.Process()
	require.NotNil(t, p)

	newSrc := testSource(files, "/a.cpp")
	assert.False(t, job.Update(IndexForced, newSrc))
	assert.Equal(t, StateAborted, job.State())
	assert.Nil(t, job.Process())
	assert.True(t, p.Killed())
	assert.True(t, p.Released())
	assert.Equal(t, IndexDirty, job.Type(), "a running job is not rewritten")

	// A second abort must not release the handle again.
	assert.NotPanics(t, job.Abort)
	require.ErrorIs(t, p.Kill(), worker.ErrReleased)

	// The kill shows up as a crash exit, but it belongs to an aborted job.
	waitDone(t, p)
	time.Sleep(20 * time.Millisecond)
	env.loop.Drain()
	assert.Empty(t, sink.results)
}

func TestJob_RemoteJobHasNoCompletionHandler(t *testing.T) {
	env := newTestEnv(t, workerScript(t, `cat >/dev/null; kill -9 $$`))
	env.projects["/proj"] = &fakeSink{state: ProjectLoaded}
	job := NewJob(env.Env, IndexRemote, "/proj", testSource(source.NewFiles(), "/a.cpp"))
	job.SetRemote("10.0.0.7", 12526)
	assert.False(t, job.IsLocal())

	require.NoError(t, job.StartLocal(t.Context()))
	p := job.Process()
	require.NotNil(t, p)

	waitDone(t, p)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, env.loop.Pending())
	assert.Empty(t, env.projects["/proj"].results)

	job.Abort()
	assert.Equal(t, StateAborted, job.State())
}
