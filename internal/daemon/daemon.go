// Package daemon assembles the indexing pipeline: event loop, scheduler,
// completion dispatcher, projects and the persistent stores.
//
// The loop goroutine owns every Job. Methods on Daemon may be called from
// any goroutine; they post their work to the loop and wait for it.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/srcindex/internal/config"
	"github.com/3leaps/srcindex/pkg/eventloop"
	"github.com/3leaps/srcindex/pkg/indexer"
	"github.com/3leaps/srcindex/pkg/indexstore"
	"github.com/3leaps/srcindex/pkg/jobregistry"
	"github.com/3leaps/srcindex/pkg/preprocess"
	"github.com/3leaps/srcindex/pkg/project"
	"github.com/3leaps/srcindex/pkg/source"
	"github.com/3leaps/srcindex/pkg/worker"
)

var (
	// ErrClosed is returned once the loop no longer accepts work.
	ErrClosed = errors.New("daemon is shut down")

	// ErrInvalidRequest wraps every validation failure of an IndexRequest.
	ErrInvalidRequest = errors.New("invalid index request")
)

// Options configures a Daemon. Zero values fall back to the config defaults.
type Options struct {
	WorkerPath            string
	ProcessCount          int
	Destination           string
	VisitFileTimeout      time.Duration
	IndexerMessageTimeout time.Duration

	Compiler  string
	CacheSize int

	// DBPath is the index store location; ":memory:" keeps it in memory.
	DBPath string

	// JobsDir holds job.json records. Empty disables job records.
	JobsDir string

	// Recorders receive every scheduler event after the job records.
	Recorders []indexer.Recorder
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WorkerPath:            cfg.Workers.Path,
		ProcessCount:          cfg.Workers.ProcessCount,
		Destination:           cfg.Daemon.SocketFile,
		VisitFileTimeout:      cfg.Workers.VisitFileTimeout,
		IndexerMessageTimeout: cfg.Workers.IndexerMessageTimeout,
		Compiler:              cfg.Preprocess.Compiler,
		CacheSize:             cfg.Preprocess.CacheSize,
		DBPath:                cfg.IndexDBPath(),
		JobsDir:               cfg.JobsDir(),
	}
}

// Daemon is one running indexing pipeline.
type Daemon struct {
	opts   Options
	logger *zap.Logger

	db         *sql.DB
	loop       *eventloop.Loop
	projects   *project.Registry
	cache      *preprocess.Cache
	jobs       *jobregistry.Store
	spawner    *worker.Manager
	env        *indexer.Env
	dispatcher *indexer.Dispatcher
	scheduler  *indexer.Scheduler
}

// New opens the index store and wires the pipeline. ctx bounds preprocessing
// of jobs the scheduler starts on its own; cancel it to stop the daemon.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProcessCount < 1 {
		opts.ProcessCount = 1
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = preprocess.DefaultCacheSize
	}

	d := &Daemon{opts: opts, logger: logger}

	if opts.DBPath != "" {
		db, err := indexstore.Open(ctx, indexstore.Config{Path: opts.DBPath})
		if err != nil {
			return nil, err
		}
		if err := indexstore.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		d.db = db
	}

	spawner, err := worker.NewManager(opts.WorkerPath, logger.Named("worker"))
	if err != nil {
		d.closeDB()
		return nil, fmt.Errorf("worker manager: %w", err)
	}
	d.spawner = spawner

	cache, err := preprocess.NewCache(
		preprocess.NewRunner(opts.Compiler, logger.Named("preprocess")),
		opts.CacheSize, logger.Named("preprocess"))
	if err != nil {
		d.closeDB()
		return nil, err
	}
	d.cache = cache

	d.loop = eventloop.New(logger.Named("loop"))
	d.projects = project.NewRegistry(d.db, source.NewFiles(), logger)
	d.dispatcher = indexer.NewDispatcher(d.projects, d.loop, logger.Named("dispatch"))
	d.env = &indexer.Env{
		Config: indexer.Config{
			Destination:           opts.Destination,
			VisitFileTimeout:      opts.VisitFileTimeout,
			IndexerMessageTimeout: opts.IndexerMessageTimeout,
		},
		Preprocessor: cache,
		Spawner:      spawner,
		Loop:         d.loop,
		Dispatcher:   d.dispatcher,
		Logger:       logger.Named("job"),
	}

	var recorders fanout
	if opts.JobsDir != "" {
		d.jobs = jobregistry.NewStore(opts.JobsDir)
		recorders = append(recorders, jobregistry.NewRecorder(d.jobs, logger.Named("jobs")))
	}
	recorders = append(recorders, opts.Recorders...)
	recorders = append(recorders, &resultDelivery{d: d})
	d.scheduler = indexer.NewScheduler(ctx, d.env, opts.ProcessCount, recorders)

	logger.Info("daemon ready",
		zap.String("worker", spawner.Path()),
		zap.Int("process_count", opts.ProcessCount),
		zap.String("db", opts.DBPath),
		zap.String("destination", opts.Destination))
	return d, nil
}

// Run executes loop tasks until ctx is done, then closes the loop and runs
// whatever was still queued.
func (d *Daemon) Run(ctx context.Context) error {
	err := d.loop.Run(ctx)
	d.loop.Close()
	if n := d.loop.Drain(); n > 0 {
		d.logger.Debug("drained loop tasks", zap.Int("tasks", n))
	}
	return err
}

// Close aborts every remaining job, queued ones first, and releases the
// index store. Call it after Run has returned.
func (d *Daemon) Close() error {
	d.scheduler.Shutdown()
	d.loop.Drain()
	return d.closeDB()
}

func (d *Daemon) closeDB() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// DB returns the index store, or nil when running without one.
func (d *Daemon) DB() *sql.DB { return d.db }

// Projects returns the project registry.
func (d *Daemon) Projects() *project.Registry { return d.projects }

// JobStore returns the job record store, or nil when records are disabled.
func (d *Daemon) JobStore() *jobregistry.Store { return d.jobs }

// CacheStats reports preprocessed-text cache hits and misses.
func (d *Daemon) CacheStats() (hits, misses int64) { return d.cache.Stats() }

// call runs fn on the loop and waits for it.
func (d *Daemon) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !d.loop.CallLater(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping round-trips an empty task through the loop.
func (d *Daemon) Ping(ctx context.Context) error {
	return d.call(ctx, func() {})
}

// OpenProject registers the project rooted at path and loads it if it is not
// loaded yet.
func (d *Daemon) OpenProject(ctx context.Context, path string) (*project.Project, error) {
	path = strings.TrimSpace(path)
	if path == "" || !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: project must be an absolute path, got %q", ErrInvalidRequest, path)
	}
	p := d.projects.Add(path)
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// CloseProject unloads and forgets a project. Results of jobs still in
// flight for it are dropped.
func (d *Daemon) CloseProject(path string) bool {
	return d.projects.Remove(path)
}

// ProjectStats lists every registered project.
func (d *Daemon) ProjectStats() []project.Stats {
	list := d.projects.List()
	out := make([]project.Stats, 0, len(list))
	for _, p := range list {
		out = append(out, p.Stats())
	}
	return out
}

// Jobs snapshots the scheduler: running jobs first, then queued ones.
func (d *Daemon) Jobs(ctx context.Context) ([]indexer.JobInfo, error) {
	var out []indexer.JobInfo
	err := d.call(ctx, func() { out = d.scheduler.Snapshot() })
	return out, err
}

// Abort cancels a queued or running job. It reports false for unknown ids.
func (d *Daemon) Abort(ctx context.Context, jobID string) (bool, error) {
	var found bool
	err := d.call(ctx, func() { found = d.scheduler.Abort(jobID) })
	return found, err
}

// WaitIdle blocks until nothing is queued or running.
func (d *Daemon) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	if err := d.call(ctx, func() {
		d.scheduler.NotifyIdle(func() { close(idle) })
	}); err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
