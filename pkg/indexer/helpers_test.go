package indexer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/srcindex/pkg/eventloop"
	"github.com/3leaps/srcindex/pkg/source"
	"github.com/3leaps/srcindex/pkg/worker"
)

type countingPreprocessor struct {
	calls int
	text  string
	err   error
}

func (p *countingPreprocessor) Preprocess(_ context.Context, _ source.Source) (string, error) {
	p.calls++
	return p.text, p.err
}

type fakeSink struct {
	state   ProjectState
	results []*IndexData
}

func (s *fakeSink) State() ProjectState { return s.state }

func (s *fakeSink) OnJobFinished(data *IndexData) {
	s.results = append(s.results, data)
}

type fakeResolver map[string]*fakeSink

func (r fakeResolver) Project(path string) Sink {
	if s, ok := r[path]; ok {
		return s
	}
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordedEvents) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordedEvents) kinds(jobID string) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, ev := range r.events {
		if ev.JobID == jobID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

// workerScript installs an executable shell script acting as the worker.
func workerScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "srcindex-worker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

type testEnv struct {
	*Env
	loop     *eventloop.Loop
	pre      *countingPreprocessor
	projects fakeResolver
}

func newTestEnv(t *testing.T, workerPath string) *testEnv {
	t.Helper()
	m, err := worker.NewManager(workerPath, nil)
	require.NoError(t, err)

	loop := eventloop.New(nil)
	projects := fakeResolver{}
	pre := &countingPreprocessor{text: "int main() { return 0; }\n"}
	env := &Env{
		Config: Config{
			Destination:           "/tmp/sock",
			VisitFileTimeout:      60 * time.Second,
			IndexerMessageTimeout: 10 * time.Second,
		},
		Preprocessor: pre,
		Spawner:      m,
		Loop:         loop,
		Dispatcher:   NewDispatcher(projects, loop, nil),
	}
	return &testEnv{Env: env, loop: loop, pre: pre, projects: projects}
}

// drainUntil runs loop tasks until cond holds or the deadline passes.
func drainUntil(t *testing.T, loop *eventloop.Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		loop.Drain()
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func waitDone(t *testing.T, p *worker.Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func recoverTransition(t *testing.T, fn func()) (terr *TransitionError) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		var ok bool
		terr, ok = r.(*TransitionError)
		require.True(t, ok, "panic value %T is not *TransitionError", r)
	}()
	fn()
	return nil
}
