package indexer

import (
	"context"
	"time"

	"github.com/3leaps/srcindex/pkg/source"
)

// State is the lifecycle state of a Job.
type State int

const (
	StatePending State = iota
	StateRunning
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IndexType tags why a file is being indexed. It travels as a single byte.
type IndexType uint8

const (
	IndexInvalid IndexType = iota
	IndexMakefile
	IndexDirty
	IndexDump
	IndexRestore
	IndexForced
	IndexInitial
	IndexRemote
)

func (t IndexType) String() string {
	switch t {
	case IndexMakefile:
		return "makefile"
	case IndexDirty:
		return "dirty"
	case IndexDump:
		return "dump"
	case IndexRestore:
		return "restore"
	case IndexForced:
		return "forced"
	case IndexInitial:
		return "initial"
	case IndexRemote:
		return "remote"
	default:
		return "invalid"
	}
}

// ParseIndexType maps a name from String back to its IndexType.
func ParseIndexType(name string) (IndexType, bool) {
	for t := IndexMakefile; t <= IndexRemote; t++ {
		if t.String() == name {
			return t, true
		}
	}
	return IndexInvalid, false
}

// IndexData is the outcome of one indexing job as seen by its project.
type IndexData struct {
	Type       IndexType
	FileID     source.FileID
	Aborted    bool
	Project    string
	JobID      string
	ExitCode   int
	FinishedAt time.Time
}

// ProjectState is the load state a Sink reports.
type ProjectState int

const (
	ProjectUnloaded ProjectState = iota
	ProjectLoading
	ProjectLoaded
)

func (s ProjectState) String() string {
	switch s {
	case ProjectLoading:
		return "loading"
	case ProjectLoaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

// Sink receives finished results for one project.
type Sink interface {
	State() ProjectState
	OnJobFinished(data *IndexData)
}

// ProjectResolver looks up the Sink for a project path. It returns nil when
// the project is unknown.
type ProjectResolver interface {
	Project(path string) Sink
}

// Preprocessor expands a source file into its preprocessed text.
type Preprocessor interface {
	Preprocess(ctx context.Context, src source.Source) (string, error)
}
