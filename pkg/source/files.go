package source

import (
	"path/filepath"
	"sync"
)

// FileID is the daemon-wide identity of an indexed file. Zero means unknown.
type FileID uint32

// Files assigns stable FileIDs to absolute paths.
//
// Files is safe for concurrent use.
type Files struct {
	mu     sync.RWMutex
	byPath map[string]FileID
	paths  []string
}

func NewFiles() *Files {
	return &Files{
		byPath: make(map[string]FileID),
		paths:  []string{""}, // id 0 is reserved
	}
}

// Insert returns the id for path, assigning a new one on first sight.
func (f *Files) Insert(path string) FileID {
	path = filepath.Clean(path)

	f.mu.RLock()
	id, ok := f.byPath[path]
	f.mu.RUnlock()
	if ok {
		return id
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byPath[path]; ok {
		return id
	}
	id = FileID(len(f.paths))
	f.paths = append(f.paths, path)
	f.byPath[path] = id
	return id
}

// Lookup returns the id for path without assigning one.
func (f *Files) Lookup(path string) (FileID, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.byPath[filepath.Clean(path)]
	return id, ok
}

// Path returns the path registered for id, or "" if unknown.
func (f *Files) Path(id FileID) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if int(id) >= len(f.paths) {
		return ""
	}
	return f.paths[id]
}

// Resolve parses a compiler command line and assigns the file id.
func (f *Files) Resolve(commandLine []string, workingDirectory string) (Source, error) {
	src, err := Parse(commandLine, workingDirectory)
	if err != nil {
		return Source{}, err
	}
	src.FileID = f.Insert(src.SourceFile())
	return src, nil
}
