package pbo

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ByteWindow is a bounded, seekable view over an underlying random-access
// byte source. It never reads past baseOffset+length into the source, and
// its cursor is independent of any other window derived from the same
// source.
//
// A ByteWindow does no internal synchronization. Windows derived from the
// same source share only the source, which each reads through ReadAt at
// absolute offsets.
type ByteWindow struct {
	source io.ReaderAt
	base   int64 // offset of this window's start within source
	length int64 // number of bytes visible through this window
	pos    int64 // cursor, 0 <= pos <= length
}

// NewByteWindow returns a window over the first length bytes of source
// starting at base. length is not validated against the source's actual
// size; reads beyond the source's real extent surface as io errors from
// the underlying ReaderAt.
func NewByteWindow(source io.ReaderAt, base, length int64) *ByteWindow {
	return &ByteWindow{source: source, base: base, length: length}
}

// Len returns the window's fixed length.
func (w *ByteWindow) Len() int64 {
	return w.length
}

// Tell returns the current cursor position, relative to the window's base.
func (w *ByteWindow) Tell() int64 {
	return w.pos
}

// Seek moves the cursor to pos, clamped to [0, Len()].
func (w *ByteWindow) Seek(pos int64) {
	if pos < 0 {
		pos = 0
	}
	if pos > w.length {
		pos = w.length
	}
	w.pos = pos
}

// Eof reports whether the cursor has reached the end of the window.
func (w *ByteWindow) Eof() bool {
	return w.pos >= w.length
}

// Remaining returns the number of bytes between the cursor and the end of
// the window.
func (w *ByteWindow) Remaining() int64 {
	return w.length - w.pos
}

// Read returns up to n bytes starting at the cursor, advancing it by the
// number of bytes returned. It returns fewer than n bytes only when fewer
// than n remain before the end of the window; it never returns an error
// for a short read at end-of-window, matching the reference reader's
// truncating read().
func (w *ByteWindow) Read(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("pbo: negative read size %d", n)
	}

	avail := w.length - w.pos
	if int64(n) > avail {
		n = int(avail)
	}

	buf := make([]byte, n)
	if n > 0 {
		read, err := w.source.ReadAt(buf, w.base+w.pos)
		// A ReaderAt may return (n, io.EOF) for a full final read; only a
		// short read that isn't explained by running off source's own end
		// is an actual failure, and since our window already clamped n to
		// the window's declared length, any error here is an I/O failure
		// of the underlying source rather than an expected boundary.
		if read < n {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			buf = buf[:read]
			w.pos += int64(read)
			return buf, fmt.Errorf("pbo: short read from source: %w", err)
		}
	}

	w.pos += int64(n)
	return buf, nil
}

// ReadExact returns exactly n bytes, or ErrInsufficientBytes if fewer than
// n bytes remain before the end of the window.
func (w *ByteWindow) ReadExact(n int) ([]byte, error) {
	if int64(n) > w.Remaining() {
		return nil, fmt.Errorf("pbo: need %d bytes, %d remain: %w", n, w.Remaining(), ErrInsufficientBytes)
	}

	return w.Read(n)
}

// ReadUint16LE reads a little-endian 16-bit unsigned integer, advancing the
// cursor by 2 bytes. Returns ErrInsufficientBytes if fewer than 2 bytes
// remain.
func (w *ByteWindow) ReadUint16LE() (uint16, error) {
	b, err := w.ReadExact(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32LE reads a little-endian 32-bit unsigned integer, advancing the
// cursor by 4 bytes. Returns ErrInsufficientBytes if fewer than 4 bytes
// remain.
func (w *ByteWindow) ReadUint32LE() (uint32, error) {
	b, err := w.ReadExact(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// ReadCString reads bytes up to and including the next 0x00 terminator,
// returning the bytes before the terminator and advancing the cursor past
// it. If no terminator is found before the end of the window, it returns
// all remaining bytes and leaves the cursor at the end.
func (w *ByteWindow) ReadCString() ([]byte, error) {
	var out []byte

	for {
		if w.Eof() {
			return out, nil
		}

		chunk, err := w.Read(1)
		if err != nil {
			return nil, err
		}

		if chunk[0] == 0 {
			return out, nil
		}

		out = append(out, chunk[0])
	}
}

// Sub derives a sub-window whose base is offset bytes into this window and
// whose length is size, clamped to the remaining length of the parent
// window from that offset. Reads on the sub-window never move this
// window's cursor, and vice versa.
func (w *ByteWindow) Sub(offset, size int64) *ByteWindow {
	if offset < 0 {
		offset = 0
	}
	if offset > w.length {
		offset = w.length
	}

	remaining := w.length - offset
	if size < 0 {
		size = 0
	}
	if size > remaining {
		size = remaining
	}

	return &ByteWindow{source: w.source, base: w.base + offset, length: size}
}
