package preprocess

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/source"
)

// DefaultCacheSize is the number of preprocessed units kept in memory.
const DefaultCacheSize = 256

type cacheKey struct {
	file     string
	compiler string
	dir      string
	args     string
}

type stamp struct {
	mtime int64
	size  int64
}

type cacheEntry struct {
	text string
	deps map[string]stamp
}

// Cache memoizes another Preprocessor. An entry records every file named by
// the line markers of its text, the unit itself and each included header, and
// is only served while none of them has changed. Output without line markers
// (for example from -P) is never cached.
//
// Cache is safe for concurrent use.
type Cache struct {
	next    Preprocessor
	entries *lru.Cache[cacheKey, cacheEntry]
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache wraps next with an LRU cache of size entries.
func NewCache(next Preprocessor, size int, logger *zap.Logger) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create preprocess cache: %w", err)
	}
	return &Cache{next: next, entries: entries, logger: logger}, nil
}

// Preprocess returns the cached text for src or computes it with the wrapped
// Preprocessor.
func (c *Cache) Preprocess(ctx context.Context, src source.Source) (string, error) {
	key, ok := c.key(src)
	if !ok {
		return c.next.Preprocess(ctx, src)
	}
	if e, ok := c.entries.Get(key); ok {
		if fresh(e.deps) {
			c.hits.Add(1)
			return e.text, nil
		}
		c.entries.Remove(key)
	}

	c.misses.Add(1)
	text, err := c.next.Preprocess(ctx, src)
	if err != nil {
		return "", err
	}
	deps, ok := dependencies(text, src.WorkingDirectory)
	if !ok {
		c.logger.Debug("preprocessed text not cacheable", zap.String("file", key.file))
		return text, nil
	}
	if file := filepath.Clean(key.file); !hasDep(deps, file) {
		st, ok := stat(file)
		if !ok {
			return text, nil
		}
		deps[file] = st
	}
	if evicted := c.entries.Add(key, cacheEntry{text: text, deps: deps}); evicted {
		c.logger.Debug("preprocess cache evicted entry", zap.Int("len", c.entries.Len()))
	}
	return text, nil
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

func (c *Cache) key(src source.Source) (cacheKey, bool) {
	file := src.SourceFile()
	if file == "" {
		return cacheKey{}, false
	}
	compiler := src.Compiler
	if r, ok := c.next.(*Runner); ok {
		compiler = r.Compiler(src)
	}
	return cacheKey{
		file:     file,
		compiler: compiler,
		dir:      src.WorkingDirectory,
		args:     strings.Join(src.Arguments, "\x00"),
	}, true
}

func stat(path string) (stamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return stamp{}, false
	}
	return stamp{mtime: info.ModTime().UnixNano(), size: info.Size()}, true
}

func hasDep(deps map[string]stamp, path string) bool {
	_, ok := deps[path]
	return ok
}

func fresh(deps map[string]stamp) bool {
	for path, want := range deps {
		if got, ok := stat(path); !ok || got != want {
			return false
		}
	}
	return true
}

// dependencies collects the files named by `# N "path"` and `#line N "path"`
// markers. Pseudo files such as <built-in> are skipped. It reports false when
// the text has no markers or a named file cannot be stat'ed.
func dependencies(text, dir string) (map[string]stamp, bool) {
	deps := make(map[string]stamp)
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		path, ok := lineMarker(sc.Text())
		if !ok || strings.HasPrefix(path, "<") {
			continue
		}
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}
		path = filepath.Clean(path)
		if _, seen := deps[path]; seen {
			continue
		}
		st, ok := stat(path)
		if !ok {
			return nil, false
		}
		deps[path] = st
	}
	if sc.Err() != nil || len(deps) == 0 {
		return nil, false
	}
	return deps, true
}

func lineMarker(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "#")
	if !ok {
		return "", false
	}
	rest = strings.TrimLeft(rest, " \t")
	rest = strings.TrimPrefix(rest, "line")
	rest = strings.TrimLeft(rest, " \t")
	num, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return "", false
	}
	if _, err := strconv.Atoi(num); err != nil {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, `"`) {
		return "", false
	}
	path, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return "", false
	}
	path, err = strconv.Unquote(path)
	if err != nil {
		return "", false
	}
	return path, true
}
