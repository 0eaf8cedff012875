package indexer

import (
	"fmt"

	"github.com/3leaps/srcindex/pkg/source"
	"github.com/3leaps/srcindex/pkg/wire"
)

// EncodeTo writes the job in its fixed positional order:
//
//	destination, port, source file, source, preprocessed text, project,
//	index type (1 byte), visit-file timeout, indexer-message timeout
//
// Fields may only ever be appended to this list.
func (j *Job) EncodeTo(w *wire.Writer) {
	var cfg Config
	if j.env != nil {
		cfg = j.env.Config
	}
	w.String(j.destination)
	w.Uint16(j.port)
	w.String(j.sourceFile)
	j.source.Encode(w)
	w.String(j.preprocessed)
	w.String(j.project)
	w.Uint8(uint8(j.typ))
	w.Duration(cfg.VisitFileTimeout)
	w.Duration(cfg.IndexerMessageTimeout)
}

// Encode returns the worker payload for the job's current field values.
func (j *Job) Encode() []byte {
	w := wire.NewWriter()
	j.EncodeTo(w)
	return w.Payload()
}

// decodeFrom reads the fields written by EncodeTo. The two timeouts are
// consumed to keep the framing intact and then dropped; the worker enforces
// its own deadlines.
func (j *Job) decodeFrom(r *wire.Reader) {
	j.destination = r.String()
	j.port = r.Uint16()
	j.sourceFile = r.String()
	j.source = source.Decode(r)
	j.preprocessed = r.String()
	j.project = r.String()
	j.typ = IndexType(r.Uint8())
	_ = r.Duration()
	_ = r.Duration()
}

// DecodeJob rebuilds a Pending job from a worker payload. The payload must be
// consumed exactly; a short or oversized payload is a protocol desync.
//
// The returned job has no environment: it can be inspected and re-encoded
// but not started.
func DecodeJob(payload []byte) (*Job, error) {
	r := wire.NewReader(payload)
	j := &Job{state: StatePending}
	j.decodeFrom(r)
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode job (%d of %d bytes): %w", r.Offset(), len(payload), err)
	}
	j.preprocessReady = true
	return j, nil
}
