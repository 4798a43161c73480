package pbo

import (
	"bytes"
	"errors"
	"testing"
)

func newTestWindow(data []byte) *ByteWindow {
	return NewByteWindow(bytes.NewReader(data), 0, int64(len(data)))
}

func TestByteWindowReadExact(t *testing.T) {
	w := newTestWindow([]byte("hello world"))

	got, err := w.ReadExact(5)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadExact() = %q, want %q", got, "hello")
	}
	if w.Tell() != 5 {
		t.Errorf("Tell() = %d, want 5", w.Tell())
	}
}

func TestByteWindowReadExactInsufficient(t *testing.T) {
	w := newTestWindow([]byte("ab"))

	_, err := w.ReadExact(3)
	if !errors.Is(err, ErrInsufficientBytes) {
		t.Errorf("err = %v, want ErrInsufficientBytes", err)
	}
}

func TestByteWindowReadUint32LE(t *testing.T) {
	w := newTestWindow([]byte{0x01, 0x00, 0x00, 0x00})

	got, err := w.ReadUint32LE()
	if err != nil {
		t.Fatalf("ReadUint32LE: %v", err)
	}
	if got != 1 {
		t.Errorf("ReadUint32LE() = %d, want 1", got)
	}
}

func TestByteWindowReadCString(t *testing.T) {
	w := newTestWindow([]byte("abc\x00def\x00"))

	got, err := w.ReadCString()
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("ReadCString() = %q, want %q", got, "abc")
	}

	got, err = w.ReadCString()
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if string(got) != "def" {
		t.Errorf("ReadCString() = %q, want %q", got, "def")
	}
}

func TestByteWindowReadCStringAtEOF(t *testing.T) {
	w := newTestWindow(nil)

	got, err := w.ReadCString()
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadCString() = %q, want empty", got)
	}
}

func TestByteWindowSub(t *testing.T) {
	w := newTestWindow([]byte("0123456789"))

	sub := w.Sub(3, 4)
	got, err := sub.ReadExact(4)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if string(got) != "3456" {
		t.Errorf("Sub().ReadExact() = %q, want %q", got, "3456")
	}

	// Reading through the sub-window must not move the parent's cursor.
	if w.Tell() != 0 {
		t.Errorf("parent Tell() = %d, want 0", w.Tell())
	}
}

func TestByteWindowSubClampsToParent(t *testing.T) {
	w := newTestWindow([]byte("01234"))

	sub := w.Sub(3, 100)
	if sub.Len() != 2 {
		t.Errorf("Sub().Len() = %d, want 2", sub.Len())
	}
}

func TestByteWindowEofAndRemaining(t *testing.T) {
	w := newTestWindow([]byte("ab"))

	if w.Eof() {
		t.Error("Eof() = true before reading any bytes")
	}
	if w.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2", w.Remaining())
	}

	if _, err := w.ReadExact(2); err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if !w.Eof() {
		t.Error("Eof() = false after consuming all bytes")
	}
}
