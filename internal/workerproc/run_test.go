package workerproc

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/srcindex/pkg/indexer"
	"github.com/3leaps/srcindex/pkg/source"
)

type stubPreprocessor struct{}

func (stubPreprocessor) Preprocess(context.Context, source.Source) (string, error) {
	return "int x;\n", nil
}

func payloadFor(t *testing.T) []byte {
	t.Helper()
	env := &indexer.Env{
		Config:       indexer.Config{Destination: "/tmp/sock", VisitFileTimeout: time.Minute},
		Preprocessor: stubPreprocessor{},
	}
	job := indexer.NewJob(env, indexer.IndexDirty, "/proj", source.Source{FileID: 1, Path: "/proj/a.cpp"})
	_, err := job.Preprocess(context.Background())
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	return job.Encode()
}

func TestRun_ValidPayload(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), bytes.NewReader(payloadFor(t)), &stdout, &stderr)

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "dirty /proj/a.cpp project=/proj bytes=7\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestRun_Desync(t *testing.T) {
	payload := payloadFor(t)

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "trailing bytes", payload: append(bytes.Clone(payload), 0xff)},
		{name: "truncated", payload: payload[:len(payload)/2]},
		{name: "empty", payload: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := Run(context.Background(), bytes.NewReader(tt.payload), &stdout, &stderr)

			assert.Equal(t, ExitDesync, code)
			assert.Empty(t, stdout.String())
			assert.Contains(t, stderr.String(), "protocol desync")
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestRun_ReadFailure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), failingReader{}, &stdout, &stderr)
	assert.Equal(t, ExitReadFailure, code)
	assert.True(t, strings.Contains(stderr.String(), "read payload"))
}

func TestRun_Canceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := Run(ctx, pr, &stdout, &stderr)
	assert.Equal(t, ExitCanceled, code)
}
