package pbo

import (
	"fmt"
	"io"
)

// versionSentinel is the magic token that, when present as the first
// property key, marks a 16-byte "version" sentinel block (spec.md §4.2
// state HEADER_PROBE) that the parser skips before the property list.
const versionSentinel = "sreV"

// versionSentinelSkip is the distance from the start of the sentinel key
// to the start of the property list: the key "sreV" plus terminator (5
// bytes) plus 15 bytes of padding.
const versionSentinelSkip = 20

// payloadPad is the fixed padding between the index terminator and the
// start of the payload region (spec.md §4.2 state PAYLOAD).
const payloadPad = 20

// Archive is an immutable, parsed view of a PBO container (spec.md §3
// *Archive*). Construct one with Open.
type Archive struct {
	headers []HeaderPair
	prefix  []byte
	entries []*Entry
	source  *ByteWindow
}

// Open parses a PBO archive from source, which must provide size bytes.
// The returned Archive's Entry payloads remain valid as long as source
// stays readable.
func Open(source io.ReaderAt, size int64) (*Archive, error) {
	root := NewByteWindow(source, 0, size)

	headers, err := parsePreambleAndProperties(root)
	if err != nil {
		return nil, err
	}

	prefix := findPrefix(headers)

	entries, err := parseEntries(root, prefix)
	if err != nil {
		return nil, err
	}

	assignPayloadWindows(root, entries)

	return &Archive{headers: headers, prefix: prefix, entries: entries, source: root}, nil
}

// parsePreambleAndProperties implements spec.md §4.2 states PREAMBLE_PROBE,
// HEADER_PROBE and PROPERTIES. It leaves the cursor at the start of the
// entry table.
func parsePreambleAndProperties(r *ByteWindow) ([]HeaderPair, error) {
	preamble, err := r.ReadCString()
	if err != nil {
		return nil, fmt.Errorf("pbo: read preamble: %w", err)
	}

	if len(preamble) != 0 {
		// No property list: rewind to 0 and the whole window is the entry
		// table.
		r.Seek(0)
		return nil, nil
	}

	probePos := r.Tell()
	key, err := r.ReadCString()
	if err != nil {
		return nil, fmt.Errorf("pbo: probe header sentinel: %w", err)
	}

	if string(key) == versionSentinel {
		r.Seek(probePos + versionSentinelSkip)
	} else {
		r.Seek(probePos)
	}

	var headers []HeaderPair
	for {
		key, err := r.ReadCString()
		if err != nil {
			return nil, fmt.Errorf("pbo: read property key: %w", err)
		}
		if len(key) == 0 {
			return headers, nil
		}
		if r.Eof() {
			return nil, fmt.Errorf("pbo: property %q has no value: %w", key, ErrInvalidArchive)
		}

		value, err := r.ReadCString()
		if err != nil {
			return nil, fmt.Errorf("pbo: read property value for %q: %w", key, err)
		}

		headers = append(headers, HeaderPair{Key: key, Value: value})
	}
}

// parseEntries implements spec.md §4.2 state ENTRIES. prefix, if non-nil,
// is joined onto every stored filename with a backslash separator before
// the entry is recorded, per spec.md §4.2 step 4.
func parseEntries(r *ByteWindow, prefix []byte) ([]*Entry, error) {
	var entries []*Entry

	for {
		filename, err := r.ReadCString()
		if err != nil {
			return nil, fmt.Errorf("pbo: read entry filename: %w", err)
		}
		if len(filename) == 0 {
			return entries, nil
		}

		if prefix != nil {
			joined := make([]byte, 0, len(prefix)+1+len(filename))
			joined = append(joined, prefix...)
			joined = append(joined, '\\')
			joined = append(joined, filename...)
			filename = joined
		}

		packing, err := r.ReadExact(4)
		if err != nil {
			return nil, fmt.Errorf("pbo: read entry %q packing method: %w", filename, err)
		}
		originalSize, err := r.ReadUint32LE()
		if err != nil {
			return nil, fmt.Errorf("pbo: read entry %q original size: %w", filename, err)
		}
		reserved, err := r.ReadUint32LE()
		if err != nil {
			return nil, fmt.Errorf("pbo: read entry %q reserved field: %w", filename, err)
		}
		timestamp, err := r.ReadUint32LE()
		if err != nil {
			return nil, fmt.Errorf("pbo: read entry %q timestamp: %w", filename, err)
		}
		dataSize, err := r.ReadUint32LE()
		if err != nil {
			return nil, fmt.Errorf("pbo: read entry %q data size: %w", filename, err)
		}

		e := &Entry{
			Filename:     filename,
			OriginalSize: originalSize,
			Reserved:     reserved,
			TimeStamp:    timestamp,
			DataSize:     dataSize,
		}
		copy(e.PackingMethod[:], packing)
		entries = append(entries, e)
	}
}

// assignPayloadWindows implements spec.md §4.2 state PAYLOAD: the payload
// region begins payloadPad bytes after the index terminator, and each
// entry gets a contiguous slice of it in index order.
func assignPayloadWindows(r *ByteWindow, entries []*Entry) {
	offset := r.Tell() + payloadPad
	for _, e := range entries {
		e.Payload = r.Sub(offset, int64(e.DataSize))
		offset += int64(e.DataSize)
	}
}

// Headers returns the archive's property list in parse order, duplicates
// included.
func (a *Archive) Headers() []HeaderPair {
	return a.headers
}

// Prefix returns the value of the "prefix" header, or nil if the archive
// has none.
func (a *Archive) Prefix() []byte {
	return a.prefix
}

// Entries returns the archive's entries in on-disk order.
func (a *Archive) Entries() []*Entry {
	return a.entries
}

// Find looks up an entry by name. A string argument is matched
// case-insensitively against each entry's NormalizedFilename; a []byte
// argument is matched case-insensitively against each entry's raw
// Filename (spec.md §4.2 *Lookup*, §6 *Entry lookup semantics*).
func (a *Archive) Find(name any) *Entry {
	switch v := name.(type) {
	case string:
		for _, e := range a.entries {
			if foldEqual(e.NormalizedFilename(), v) {
				return e
			}
		}
	case []byte:
		target := string(v)
		for _, e := range a.entries {
			if foldEqual(string(e.Filename), target) {
				return e
			}
		}
	default:
		panic(fmt.Sprintf("pbo: Find expects string or []byte, got %T", name))
	}

	return nil
}
