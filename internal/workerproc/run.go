// Package workerproc is the body of the srcindex-worker executable.
//
// A worker reads one job payload from standard input, decodes it and
// reports what it was asked to do. Parsing the translation unit and talking
// to the destination are left to the indexing backend.
package workerproc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/srcindex/pkg/indexer"
)

// Exit codes. The daemon treats only the crash sentinel specially; the rest
// are for operators reading logs.
const (
	ExitOK          = 0
	ExitReadFailure = 2
	ExitDesync      = 3
	ExitCanceled    = 4
)

// Run executes one worker invocation and returns the process exit code.
func Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := newLogger(stderr)
	defer func() { _ = logger.Sync() }()

	payload, err := readAll(ctx, stdin)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("canceled before payload was read", zap.Error(err))
			return ExitCanceled
		}
		logger.Error("read payload", zap.Error(err))
		return ExitReadFailure
	}

	job, err := indexer.DecodeJob(payload)
	if err != nil {
		// DecodeJob only fails with wire.ErrProtocolDesync.
		logger.Error("protocol desync", zap.Int("payload_bytes", len(payload)), zap.Error(err))
		return ExitDesync
	}

	text, _ := job.Preprocessed()
	logger.Debug("job decoded",
		zap.String("destination", job.Destination()),
		zap.Uint16("port", job.Port()),
		zap.Int("args", len(job.Source().Arguments)))

	_, _ = fmt.Fprintf(stdout, "%s %s project=%s bytes=%d\n",
		job.Type(), job.SourceFile(), job.Project(), len(text))
	return ExitOK
}

// readAll reads r to EOF unless ctx is canceled first.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- result{data, err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newLogger(w io.Writer) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), zapcore.InfoLevel)
	return zap.New(core).Named("worker")
}
