package project

import (
	"database/sql"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/indexer"
	"github.com/3leaps/srcindex/pkg/source"
)

// Registry maps project roots to Projects. It implements
// indexer.ProjectResolver and is safe for concurrent use.
type Registry struct {
	db     *sql.DB
	files  *source.Files
	logger *zap.Logger

	mu       sync.RWMutex
	projects map[string]*Project
}

// NewRegistry returns an empty registry. db may be nil for an in-memory
// daemon; files is shared with whoever assigns FileIDs.
func NewRegistry(db *sql.DB, files *source.Files, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if files == nil {
		files = source.NewFiles()
	}
	return &Registry{
		db:       db,
		files:    files,
		logger:   logger.Named("project"),
		projects: make(map[string]*Project),
	}
}

// Files returns the FileID registry shared by all projects.
func (r *Registry) Files() *source.Files {
	return r.files
}

// Add returns the project rooted at path, creating it Unloaded if needed.
func (r *Registry) Add(path string) *Project {
	path = normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[path]; ok {
		return p
	}
	p := newProject(path, r.db, r.files, r.logger)
	r.projects[path] = p
	return p
}

func (r *Registry) Get(path string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[normalize(path)]
	return p, ok
}

// Remove unloads and forgets a project.
func (r *Registry) Remove(path string) bool {
	path = normalize(path)
	r.mu.Lock()
	p, ok := r.projects[path]
	delete(r.projects, path)
	r.mu.Unlock()
	if ok {
		p.Unload()
	}
	return ok
}

// List returns all projects ordered by path.
func (r *Registry) List() []*Project {
	r.mu.RLock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Project) int { return strings.Compare(a.path, b.path) })
	return out
}

// Project implements indexer.ProjectResolver. Unknown paths yield a nil
// interface, never a typed nil.
func (r *Registry) Project(path string) indexer.Sink {
	p, ok := r.Get(path)
	if !ok {
		return nil
	}
	return p
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}
