// Package wire implements the positional binary encoding used on the
// daemon/worker boundary.
//
// Values carry no tags. Each field is written in a fixed order and read back
// in the same order:
//
//   - fixed-width integers are little-endian
//   - strings and byte slices are a uint32 length followed by the bytes
//   - string lists are a uint32 count followed by that many strings
//   - durations are int32 milliseconds
//
// New fields must only ever be appended to an existing message so that
// daemons and workers of different versions keep agreeing on the layout.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrProtocolDesync indicates that a decoder consumed a different number
	// of bytes than its paired encoder produced. The channel framing can no
	// longer be trusted once this happens.
	ErrProtocolDesync = errors.New("protocol desync")

	// ErrFieldTooLarge indicates a length prefix larger than the remaining input.
	ErrFieldTooLarge = errors.New("field length exceeds remaining input")
)

// Writer appends positional fields to an in-memory buffer.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Uint8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

func (w *Writer) Uint16(v uint16) {
	w.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
}

func (w *Writer) Uint32(v uint32) {
	w.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

// Duration writes d as int32 milliseconds, saturating at the int32 range.
func (w *Writer) Duration(d time.Duration) {
	ms := d.Milliseconds()
	switch {
	case ms > math.MaxInt32:
		ms = math.MaxInt32
	case ms < math.MinInt32:
		ms = math.MinInt32
	}
	w.Int32(int32(ms))
}

func (w *Writer) Bytes(b []byte) {
	w.Uint32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) Strings(list []string) {
	w.Uint32(uint32(len(list)))
	for _, s := range list {
		w.String(s)
	}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Payload returns a copy of the encoded bytes.
func (w *Writer) Payload() []byte {
	return bytes.Clone(w.buf.Bytes())
}

// Reader consumes positional fields from a byte slice.
//
// Errors are sticky: after the first failure every subsequent read returns a
// zero value and Err reports the original failure.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Err() error {
	return r.err
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Finish reports ErrProtocolDesync when a read failed or unread bytes remain.
func (r *Reader) Finish() error {
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolDesync, r.err)
	}
	if rem := r.Remaining(); rem != 0 {
		return fmt.Errorf("%w: %d trailing bytes after offset %d", ErrProtocolDesync, rem, r.off)
	}
	return nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Remaining() {
		r.err = fmt.Errorf("short read at offset %d: need %d, have %d", r.off, n, r.Remaining())
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	return r.Uint8() != 0
}

func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Duration() time.Duration {
	return time.Duration(r.Int32()) * time.Millisecond
}

func (r *Reader) length() int {
	n := r.Uint32()
	if r.err != nil {
		return 0
	}
	if int64(n) > int64(r.Remaining()) {
		r.err = fmt.Errorf("%w: %d at offset %d", ErrFieldTooLarge, n, r.off)
		return 0
	}
	return int(n)
}

func (r *Reader) Bytes() []byte {
	n := r.length()
	b := r.take(n)
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

func (r *Reader) String() string {
	n := r.length()
	return string(r.take(n))
}

func (r *Reader) Strings() []string {
	n := r.length()
	if r.err != nil || n == 0 {
		return nil
	}
	// Every entry needs at least its own length prefix.
	if n > r.Remaining()/4 {
		r.err = fmt.Errorf("%w: list of %d at offset %d", ErrFieldTooLarge, n, r.off)
		return nil
	}
	out := make([]string, 0, n)
	for range n {
		out = append(out, r.String())
		if r.err != nil {
			return nil
		}
	}
	return out
}
