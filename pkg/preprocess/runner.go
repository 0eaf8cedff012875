// Package preprocess expands a compilation unit into the single
// self-contained text handed to an indexing worker.
package preprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/srcindex/pkg/source"
)

// DefaultCompiler is used when neither the source nor the configuration name
// a compiler.
const DefaultCompiler = "g++"

var (
	ErrNoSourceFile   = errors.New("source has no file to preprocess")
	ErrCompilerFailed = errors.New("preprocessor failed")
)

// Preprocessor produces the preprocessed text of a source.
type Preprocessor interface {
	Preprocess(ctx context.Context, src source.Source) (string, error)
}

// Runner invokes `<compiler> <args> -E <file>` in the source's working
// directory.
type Runner struct {
	compiler string
	logger   *zap.Logger
}

// NewRunner returns a Runner. compiler overrides the compiler recorded in
// each source; an empty compiler keeps the recorded one and falls back to
// DefaultCompiler.
func NewRunner(compiler string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{compiler: strings.TrimSpace(compiler), logger: logger}
}

// Compiler returns the compiler that would be used for src.
func (r *Runner) Compiler(src source.Source) string {
	switch {
	case r.compiler != "":
		return r.compiler
	case src.Compiler != "":
		return src.Compiler
	default:
		return DefaultCompiler
	}
}

// Preprocess runs the preprocessor and returns its standard output.
func (r *Runner) Preprocess(ctx context.Context, src source.Source) (string, error) {
	var out bytes.Buffer
	if _, err := r.Stream(ctx, src, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

// Stream runs the preprocessor and copies its output to w as it is produced.
// It returns the number of bytes written.
func (r *Runner) Stream(ctx context.Context, src source.Source, w io.Writer) (int64, error) {
	file := src.SourceFile()
	if file == "" {
		return 0, ErrNoSourceFile
	}

	compiler := r.Compiler(src)
	args := make([]string, 0, len(src.Arguments)+2)
	args = append(args, src.Arguments...)
	args = append(args, "-E", file)

	cw := &countingWriter{w: w}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, compiler, args...)
	cmd.Dir = src.WorkingDirectory
	cmd.Stdout = cw
	cmd.Stderr = &stderr

	r.logger.Debug("preprocessing",
		zap.String("file", file),
		zap.String("compiler", compiler),
		zap.Int("args", len(src.Arguments)))

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return cw.n, fmt.Errorf("%w: %s exited %d: %s", ErrCompilerFailed, compiler, exitErr.ExitCode(), msg)
		}
		return cw.n, fmt.Errorf("run %s: %w", compiler, err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
