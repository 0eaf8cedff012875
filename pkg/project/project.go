// Package project holds the daemon-side view of indexed projects and
// receives the outcome of every indexing job.
package project

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/indexer"
	"github.com/3leaps/srcindex/pkg/indexstore"
	"github.com/3leaps/srcindex/pkg/source"
)

// persistTimeout bounds a single result write from the event loop.
const persistTimeout = 5 * time.Second

// Project is a result sink for one project root. It implements indexer.Sink.
type Project struct {
	path   string
	db     *sql.DB
	files  *source.Files
	logger *zap.Logger

	mu      sync.RWMutex
	state   indexer.ProjectState
	loading chan struct{}
	last    map[source.FileID]indexer.IndexData
	dirty map[source.FileID]struct{}
}

// Stats summarizes a project for status output.
type Stats struct {
	Path  string `json:"path"`
	State string `json:"state"`
	Files int    `json:"files"`
	Dirty int    `json:"dirty"`
}

func newProject(path string, db *sql.DB, files *source.Files, logger *zap.Logger) *Project {
	return &Project{
		path:   path,
		db:     db,
		files:  files,
		logger: logger.With(zap.String("project", path)),
		last:   make(map[source.FileID]indexer.IndexData),
		dirty:  make(map[source.FileID]struct{}),
	}
}

func (p *Project) Path() string { return p.path }

// State implements indexer.Sink.
func (p *Project) State() indexer.ProjectState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Load restores the last known result of every file from the index store
// and marks the project Loaded. Without a store the project loads empty.
//
// Loading an already Loaded project does nothing. A caller that finds a load
// in progress waits for it and retries if it failed.
func (p *Project) Load(ctx context.Context) error {
	for {
		p.mu.Lock()
		switch p.state {
		case indexer.ProjectLoaded:
			p.mu.Unlock()
			return nil
		case indexer.ProjectLoading:
			wait := p.loading
			p.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		p.state = indexer.ProjectLoading
		done := make(chan struct{})
		p.loading = done
		p.mu.Unlock()

		err := p.load(ctx)
		close(done)
		return err
	}
}

func (p *Project) load(ctx context.Context) error {
	if p.db != nil {
		rows, err := indexstore.LatestResults(ctx, p.db, p.path)
		if err != nil {
			p.setState(indexer.ProjectUnloaded)
			return fmt.Errorf("load project %s: %w", p.path, err)
		}

		p.mu.Lock()
		for _, row := range rows {
			id := p.files.Insert(row.Path)
			t, _ := indexer.ParseIndexType(row.IndexType)
			p.last[id] = indexer.IndexData{
				Type:       t,
				FileID:     id,
				Aborted:    row.Aborted,
				Project:    p.path,
				JobID:      row.JobID,
				ExitCode:   row.ExitCode,
				FinishedAt: row.FinishedAt,
			}
			if row.Aborted {
				p.dirty[id] = struct{}{}
			}
		}
		p.mu.Unlock()

		if err := indexstore.MarkProjectLoaded(ctx, p.db, p.path, time.Now().UTC()); err != nil {
			p.logger.Warn("record project load", zap.Error(err))
		}
		p.logger.Info("project loaded", zap.Int("files", len(rows)))
	}

	p.setState(indexer.ProjectLoaded)
	return nil
}

// Unload drops the in-memory state. Results arriving afterwards are not
// delivered to the project.
func (p *Project) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = indexer.ProjectUnloaded
	clear(p.last)
	clear(p.dirty)
}

// OnJobFinished implements indexer.Sink. The result replaces the file's last
// result; an aborted result marks the file dirty until a later success.
func (p *Project) OnJobFinished(data *indexer.IndexData) {
	if data == nil {
		return
	}
	result := *data
	result.Project = p.path

	p.mu.Lock()
	p.last[result.FileID] = result
	if result.Aborted {
		p.dirty[result.FileID] = struct{}{}
	} else {
		delete(p.dirty, result.FileID)
	}
	p.mu.Unlock()

	path := p.files.Path(result.FileID)
	logger := p.logger.With(zap.String("file", path), zap.String("job_id", result.JobID))
	if result.Aborted {
		logger.Warn("indexing aborted", zap.Stringer("type", result.Type), zap.Int("exit_code", result.ExitCode))
	} else {
		logger.Debug("indexing finished", zap.Stringer("type", result.Type))
	}

	if p.db == nil || path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if _, err := indexstore.RecordResult(ctx, p.db, indexstore.ResultRow{
		JobID:      result.JobID,
		Project:    p.path,
		Path:       path,
		IndexType:  result.Type.String(),
		Aborted:    result.Aborted,
		ExitCode:   result.ExitCode,
		FinishedAt: result.FinishedAt,
	}); err != nil {
		logger.Error("persist job result", zap.Error(err))
	}
}

// LastResult returns the most recent result delivered for id.
func (p *Project) LastResult(id source.FileID) (indexer.IndexData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.last[id]
	return d, ok
}

// DirtyFiles returns the sorted paths of files whose last job was aborted.
func (p *Project) DirtyFiles() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		if path := p.files.Path(id); path != "" {
			out = append(out, path)
		}
	}
	p.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (p *Project) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Path:  p.path,
		State: p.state.String(),
		Files: len(p.last),
		Dirty: len(p.dirty),
	}
}

func (p *Project) setState(s indexer.ProjectState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
