package indexer

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/worker"
)

// Config is the daemon configuration a job carries. It is handed over at
// construction time; jobs never read process-wide settings.
type Config struct {
	// Destination is the address results are reported to, normally the
	// daemon's own socket file.
	Destination string

	// VisitFileTimeout bounds a single parse step inside the worker.
	VisitFileTimeout time.Duration

	// IndexerMessageTimeout bounds one indexing-message round trip.
	IndexerMessageTimeout time.Duration
}

// Poster schedules work on the daemon event loop.
type Poster interface {
	CallLater(fn func()) bool
}

// Env bundles the collaborators shared by every job of one daemon.
type Env struct {
	Config       Config
	Preprocessor Preprocessor
	Spawner      worker.Spawner
	Loop         Poster
	Dispatcher   *Dispatcher
	Logger       *zap.Logger
}

// ErrIncompleteEnv is returned when a job is started without the
// collaborators it needs.
var ErrIncompleteEnv = errors.New("job environment is incomplete")

func (e *Env) logger() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) validate(local bool) error {
	switch {
	case e == nil:
		return errors.Join(ErrIncompleteEnv, errors.New("no environment"))
	case e.Preprocessor == nil:
		return errors.Join(ErrIncompleteEnv, errors.New("no preprocessor"))
	case e.Spawner == nil:
		return errors.Join(ErrIncompleteEnv, errors.New("no worker spawner"))
	case local && (e.Loop == nil || e.Dispatcher == nil):
		return errors.Join(ErrIncompleteEnv, errors.New("local jobs need an event loop and a dispatcher"))
	}
	return nil
}
