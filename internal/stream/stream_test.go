package stream

import (
	"bytes"
	"testing"
)

func TestOutputStreamWroteFlag(t *testing.T) {
	o := NewOutputStream()
	if o.Wrote() {
		t.Fatalf("fresh stream should report Wrote() == false")
	}
	o.WriteBlob([]byte("A"))
	if !o.Wrote() {
		t.Fatalf("stream with a write should report Wrote() == true")
	}
}

func TestOutputStreamEmptyWriteStillNoBytes(t *testing.T) {
	o := NewOutputStream()
	_, _ = o.Write(nil)
	if o.Wrote() {
		t.Fatalf("writing zero bytes must not flip Wrote()")
	}
	if o.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", o.Len())
	}
}

func TestBlobRoundTrip(t *testing.T) {
	o := NewOutputStream()
	o.WriteBlob([]byte("hello"))
	o.WriteBlob([]byte{})

	in := NewInputStream(o.Bytes())
	got, err := in.ReadBlob()
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	got2, err := in.ReadBlob()
	if err != nil {
		t.Fatalf("ReadBlob (empty): %v", err)
	}
	if len(got2) != 0 {
		t.Fatalf("expected empty blob, got %q", got2)
	}
	if in.Remaining() != 0 {
		t.Fatalf("expected stream fully consumed, %d bytes left", in.Remaining())
	}
}

func TestVersionRoundTrip(t *testing.T) {
	o := NewOutputStream()
	o.WriteVersion(0xDEADBEEF, 42)

	in := NewInputStream(o.Bytes())
	hi, lo, err := in.ReadVersion()
	if err != nil {
		t.Fatalf("ReadVersion: %v", err)
	}
	if hi != 0xDEADBEEF || lo != 42 {
		t.Fatalf("got hi=%x lo=%d, want hi=deadbeef lo=42", hi, lo)
	}
}

func TestReadBlobTruncated(t *testing.T) {
	o := NewOutputStream()
	o.WriteUint64(100) // claims 100 bytes but writes none
	in := NewInputStream(o.Bytes())
	if _, err := in.ReadBlob(); err == nil {
		t.Fatalf("expected error reading truncated blob")
	}
}

// TestReadBlobRejectsLengthLargerThanStream guards against a corrupt or
// adversarial length prefix forcing a huge allocation before the read is
// attempted: the length must be checked against what's actually left in
// the stream first.
func TestReadBlobRejectsLengthLargerThanStream(t *testing.T) {
	o := NewOutputStream()
	o.WriteUint64(1 << 40) // absurd claimed length, far beyond any real payload
	in := NewInputStream(o.Bytes())
	if _, err := in.ReadBlob(); err == nil {
		t.Fatalf("expected error for a blob length exceeding the stream")
	}
}
