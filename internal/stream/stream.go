// Package stream implements the typed-agnostic byte carriers used to
// serialize and deserialize instance and delta payloads (spec §4.1).
//
// What: An output stream that accumulates bytes into a buffer and reports
// whether anything was written; an input stream that replays those bytes.
// How: OutputStream wraps a bytes.Buffer with a dirty flag; InputStream
// wraps a bytes.Reader with typed helpers for the framing primitives the
// change managers need (versions, length-prefixed blobs).
// Why: Payload shape is entirely up to user-provided Pack/Unpack or
// GetInstanceData/ApplyInstanceData implementations; the stream types only
// need to move bytes and answer "did you write anything", which is the CM's
// sole signal for whether a commit produced a new version.
package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// OutputStream accumulates bytes written by a Pack/GetInstanceData call.
type OutputStream struct {
	buf   bytes.Buffer
	wrote bool
}

// NewOutputStream returns an empty output stream.
func NewOutputStream() *OutputStream {
	return &OutputStream{}
}

// Write implements io.Writer. Any call with len(p) > 0 marks the stream as
// having written data, even if p is all zero bytes.
func (o *OutputStream) Write(p []byte) (int, error) {
	if len(p) > 0 {
		o.wrote = true
	}
	return o.buf.Write(p)
}

// WriteUint64 writes a little-endian uint64.
func (o *OutputStream) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, _ = o.Write(b[:])
}

// WriteVersion writes a 16-byte little-endian version frame.
func (o *OutputStream) WriteVersion(hi, lo uint64) {
	o.WriteUint64(lo)
	o.WriteUint64(hi)
}

// WriteBlob writes a 64-bit length prefix followed by data.
func (o *OutputStream) WriteBlob(data []byte) {
	o.WriteUint64(uint64(len(data)))
	_, _ = o.Write(data)
}

// Wrote reports whether any bytes have been written to the stream. A
// commit whose Pack/GetInstanceData call leaves Wrote() false produces no
// new version (spec §4.1, invariant 3 of spec §8).
func (o *OutputStream) Wrote() bool {
	return o.wrote
}

// Bytes returns the accumulated buffer. The returned slice must not be
// mutated by the caller; callers that need to retain it across further
// writes to o should copy it.
func (o *OutputStream) Bytes() []byte {
	return o.buf.Bytes()
}

// Len returns the number of bytes accumulated so far.
func (o *OutputStream) Len() int {
	return o.buf.Len()
}

// InputStream replays bytes previously produced by an OutputStream.
type InputStream struct {
	r *bytes.Reader
}

// NewInputStream wraps a byte slice for sequential reading.
func NewInputStream(data []byte) *InputStream {
	return &InputStream{r: bytes.NewReader(data)}
}

// Read implements io.Reader.
func (in *InputStream) Read(p []byte) (int, error) {
	return in.r.Read(p)
}

// ReadUint64 reads a little-endian uint64.
func (in *InputStream) ReadUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(in.r, b[:]); err != nil {
		return 0, fmt.Errorf("stream: reading uint64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadVersion reads a 16-byte version frame, returning (hi, lo).
func (in *InputStream) ReadVersion() (hi, lo uint64, err error) {
	lo, err = in.ReadUint64()
	if err != nil {
		return 0, 0, err
	}
	hi, err = in.ReadUint64()
	if err != nil {
		return 0, 0, err
	}
	return hi, lo, nil
}

// ReadBlob reads a 64-bit length prefix followed by that many bytes. The
// length is checked against the bytes actually remaining in the stream
// before allocating, so a corrupt or adversarial prefix can't force a
// multi-gigabyte allocation ahead of the read that would fail anyway.
func (in *InputStream) ReadBlob() ([]byte, error) {
	n, err := in.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("stream: reading blob length: %w", err)
	}
	if n > uint64(in.Remaining()) {
		return nil, fmt.Errorf("stream: blob length %d exceeds %d remaining bytes", n, in.Remaining())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(in.r, buf); err != nil {
		return nil, fmt.Errorf("stream: reading blob body: %w", err)
	}
	return buf, nil
}

// Remaining reports how many unread bytes are left in the stream.
func (in *InputStream) Remaining() int {
	return in.r.Len()
}
