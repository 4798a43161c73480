package pbo

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// foldCaser performs Unicode case folding for the case-insensitive entry
// lookups and filename comparisons required by spec.md §4.2/§6. It is
// preferred over strings.EqualFold for the same reason avogabo-EDRmount
// reaches for golang.org/x/text when comparing user-facing path text:
// it folds beyond simple ASCII case, which strings.EqualFold does not
// attempt for multi-byte runes.
var foldCaser = cases.Fold()

func foldEqual(a, b string) bool {
	return foldCaser.String(a) == foldCaser.String(b)
}

// Entry is the parsed metadata for one archived member (spec.md §3 *Entry*).
type Entry struct {
	// Filename is the raw, backslash-separated name as stored in the
	// archive, including any prefix header already joined in by the
	// parser.
	Filename []byte
	// PackingMethod is the 4-byte packing tag.
	PackingMethod [4]byte
	// OriginalSize is the declared uncompressed size; 0 means "stored
	// uncompressed".
	OriginalSize uint32
	// Reserved is preserved but unused.
	Reserved uint32
	// TimeStamp is seconds since the Unix epoch.
	TimeStamp uint32
	// DataSize is the number of payload bytes occupied in the archive.
	DataSize uint32
	// Payload is a window over exactly DataSize bytes.
	Payload *ByteWindow
}

// UnpackedSize returns the entry's uncompressed size: OriginalSize, or
// DataSize when OriginalSize is 0 ("stored uncompressed").
func (e *Entry) UnpackedSize() uint32 {
	if e.OriginalSize == 0 {
		return e.DataSize
	}
	return e.OriginalSize
}

// IsCompressed reports whether the entry's payload is LZSS-compressed,
// per the dispatch rule in spec.md §4.4.
func (e *Entry) IsCompressed() bool {
	return e.OriginalSize != 0 && e.OriginalSize != e.DataSize
}

// Type renders the 4-byte packing tag as four printable characters,
// replacing non-printable or non-ASCII bytes with a space. It is purely
// informational (spec.md §4.3).
func (e *Entry) Type() string {
	out := make([]byte, 4)
	for i, b := range e.PackingMethod {
		if b >= 32 && b < 127 {
			out[i] = b
		} else {
			out[i] = ' '
		}
	}
	return string(out)
}

// SplitFilename splits the raw filename on both '\\' and '/', dropping
// empty segments produced by leading or duplicated separators. If the
// result would be empty it returns a single empty segment, matching
// dayz_dev_tools.pbo_file.PBOFile.split_filename.
func (e *Entry) SplitFilename() [][]byte {
	return splitFilename(e.Filename)
}

func splitFilename(name []byte) [][]byte {
	var parts [][]byte
	start := 0
	for i, b := range name {
		if b == '\\' || b == '/' {
			if i > start {
				parts = append(parts, name[start:i])
			}
			start = i + 1
		}
	}
	if start < len(name) {
		parts = append(parts, name[start:])
	}

	if len(parts) == 0 {
		return [][]byte{{}}
	}
	return parts
}

// NormalizedFilename joins the split filename with the host path
// separator, replacing bytes that do not form valid UTF-8 with the
// Unicode replacement character, matching the replace-on-error decoding
// of dayz_dev_tools.pbo_file.normalize_filename.
func (e *Entry) NormalizedFilename() string {
	parts := e.SplitFilename()
	joined := make([]string, len(parts))
	for i, p := range parts {
		joined[i] = sanitizeUTF8(p)
	}
	return strings.Join(joined, string(filepath.Separator))
}

// sanitizeUTF8 decodes raw bytes as UTF-8, substituting the replacement
// character (U+FFFD) for any byte sequence that isn't valid UTF-8. This is
// the stdlib idiom for the operation (utf8.DecodeRune already returns
// (RuneError, 1) for invalid input; see DESIGN.md for why no pack library
// improves on it for this exact byte-sanitization role, as opposed to
// charset transcoding).
func sanitizeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// hasInvalidFilenameByte reports whether name contains a raw byte that
// makes a filename illegal on the target filesystem (spec.md §4.3).
func hasInvalidFilenameByte(name []byte) bool {
	for _, b := range name {
		switch b {
		case '\t', '?', '*', '<', '>', ':', '"', '|':
			return true
		}
		if b >= 0x80 {
			return true
		}
	}
	return false
}

// reservedDeviceStems are Windows reserved device names, matched per
// path segment against the stem (before any extension), case-insensitive.
var reservedDeviceStems = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
}

func isReservedDeviceStem(stem string) bool {
	folded := foldCaser.String(stem)
	if reservedDeviceStems[folded] {
		return true
	}
	if len(folded) == 4 && (strings.HasPrefix(folded, "com") || strings.HasPrefix(folded, "lpt")) {
		return folded[3] >= '0' && folded[3] <= '9'
	}
	return false
}

// hasReservedSegment reports whether any path segment's stem (the part
// before the first '.') is a reserved Windows device name.
func hasReservedSegment(parts [][]byte) bool {
	for _, part := range parts {
		s := string(part)
		if i := strings.IndexByte(s, '.'); i >= 0 {
			s = s[:i]
		}
		if isReservedDeviceStem(s) {
			return true
		}
	}
	return false
}

// IsInvalidFilename reports whether the entry's filename is illegal on
// the host filesystem: it contains a disallowed byte, or a path segment's
// stem is a reserved Windows device name (spec.md §4.3).
func (e *Entry) IsInvalidFilename() bool {
	if hasInvalidFilenameByte(e.Filename) {
		return true
	}
	return hasReservedSegment(e.SplitFilename())
}

// IsObfuscated reports whether the entry is invalid and ends in ".c",
// the deobfuscation-eligible case (spec.md §4.3, §8 property 6).
func (e *Entry) IsObfuscated() bool {
	return e.IsInvalidFilename() && strings.HasSuffix(strings.ToLower(string(e.Filename)), ".c")
}

// Unpack decodes the entry's payload and writes it to sink (spec.md
// §4.4). Uncompressed entries are copied verbatim; compressed entries are
// decompressed with Expand and checked against the trailing additive
// checksum, returning ErrChecksumMismatch on disagreement. Each call
// decodes the payload from its start.
func (e *Entry) Unpack(sink io.Writer) error {
	e.Payload.Seek(0)

	if !e.IsCompressed() {
		raw, err := e.Payload.ReadExact(int(e.DataSize))
		if err != nil {
			return fmt.Errorf("pbo: read entry %q payload: %w", e.Filename, err)
		}
		if _, err := sink.Write(raw); err != nil {
			return fmt.Errorf("pbo: write entry %q payload: %w", e.Filename, err)
		}
		return nil
	}

	compressedLen := int(e.DataSize) - 4
	if compressedLen < 0 {
		return fmt.Errorf("pbo: entry %q data size %d too small for checksum trailer: %w", e.Filename, e.DataSize, ErrInsufficientBytes)
	}

	compressed, err := e.Payload.ReadExact(compressedLen)
	if err != nil {
		return fmt.Errorf("pbo: read entry %q compressed payload: %w", e.Filename, err)
	}

	expected, err := e.Payload.ReadUint32LE()
	if err != nil {
		return fmt.Errorf("pbo: read entry %q checksum: %w", e.Filename, err)
	}

	decoded, err := Expand(compressed, int(e.OriginalSize))
	if err != nil {
		return fmt.Errorf("pbo: expand entry %q: %w", e.Filename, err)
	}

	actual := AdditiveChecksum(decoded)
	if actual != expected {
		return fmt.Errorf("pbo: entry %q checksum mismatch (%#x != %#x): %w", e.Filename, actual, expected, ErrChecksumMismatch)
	}

	if _, err := sink.Write(decoded); err != nil {
		return fmt.Errorf("pbo: write entry %q payload: %w", e.Filename, err)
	}
	return nil
}
