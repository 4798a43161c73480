package pbo

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FileSource is one pending file for a Writer: an abstract read path used
// for sorting and deduplication, and a callable that lazily yields the
// file's modification time and content (spec.md §4.5).
type FileSource struct {
	// ReadPath is the path this content was read from, used for ordering
	// (§4.5.1) and for deriving StoredPath via path transformation
	// (§4.5.2) when StoredPath is empty.
	ReadPath string
	// StoredPath overrides the archive-internal path. If empty, it is
	// derived from ReadPath by stripping its anchor (§4.5.2).
	StoredPath string
	// Load returns the file's Unix modification time and raw content; the
	// recorded size is len(content). It is called exactly once per Write
	// for every queued source, before deduplication.
	Load func() (mtime uint32, content []byte, err error)
}

// Writer assembles header properties and file entries into a PBO archive
// (spec.md §4.5). The zero value is ready to use.
type Writer struct {
	headers []HeaderPair
	sources []FileSource

	// converter, if non-nil, binarizes any queued config.cpp file at
	// Write time, storing it as a sibling config.bin (spec.md §6
	// `Writer.new(cfgconvert?)`).
	converter ConfigConverter
}

// NewWriter returns an empty Writer. converter may be nil, in which case
// config.cpp sources are stored verbatim; otherwise it is invoked on any
// queued file whose stored base name is "config.cpp" (case-insensitive),
// replacing its content and extension with the converted config.bin form.
func NewWriter(converter ConfigConverter) *Writer {
	return &Writer{converter: converter}
}

// AddHeader appends a (name, value) property pair in insertion order;
// duplicates are preserved, matching spec.md §3 *Header property*.
func (w *Writer) AddHeader(name, value string) {
	w.headers = append(w.headers, HeaderPair{Key: []byte(name), Value: []byte(value)})
}

// AddFile queues a file for inclusion. Files are deduplicated and sorted
// at Write time (§4.5.1); call order does not affect the output.
func (w *Writer) AddFile(src FileSource) {
	w.sources = append(w.sources, src)
}

// pendingEntry is a fully resolved, about-to-be-written file: its stored
// path and loaded content, used for the §4.5.1 dedup/sort pass.
type pendingEntry struct {
	readPath   string
	storedPath string
	mtime      uint32
	content    []byte
}

// storedPathFor implements spec.md §4.5.2: the anchor (volume name and
// leading separators) is stripped from the read path, and the remaining
// segments are rejoined with backslash.
func storedPathFor(src FileSource) string {
	if src.StoredPath != "" {
		return src.StoredPath
	}

	p := stripAnchor(src.ReadPath)

	parts := splitFilename([]byte(p))
	joined := make([]string, len(parts))
	for i, part := range parts {
		joined[i] = string(part)
	}
	return strings.Join(joined, `\`)
}

// stripAnchor removes a leading Windows-style drive letter (e.g. "C:") and
// any leading path separators, matching spec.md §4.5.2's anchor-stripping
// rule. It is implemented independently of path/filepath's VolumeName,
// which only recognizes drive letters when GOOS=windows; PBO read paths
// name Windows-style anchors regardless of the host building the archive.
func stripAnchor(p string) string {
	if len(p) >= 2 && p[1] == ':' && isASCIILetter(p[0]) {
		p = p[2:]
	}
	return strings.TrimLeft(p, `/\`)
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// convertConfigCpp implements spec.md §6's write-time half of
// `Writer.new(cfgconvert?)`: when stored names a "config.cpp" file
// (matched case-insensitively against the whole base name, as
// `dayz_dev_tools.pbo_writer.PBOWriter.add_file` does), converter
// binarizes its content and the stored path's extension is rewritten to
// a lowercase ".bin", preserving the rest of the path's original case.
// Anything else is returned unchanged.
func convertConfigCpp(converter ConfigConverter, stored string, content []byte) (string, []byte, error) {
	sep := strings.LastIndexByte(stored, '\\')
	base := stored[sep+1:]
	if !strings.EqualFold(base, "config.cpp") {
		return stored, content, nil
	}

	bin, err := converter(content)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", err.Error(), ErrConverterFailure)
	}

	newBase := base[:len(base)-len(".cpp")] + ".bin"
	return stored[:sep+1] + newBase, bin, nil
}

// dedupKey is the structural-equality tuple spec.md §4.5.1 dedupes on:
// same read path, stored path, size, mtime and contents.
type dedupKey struct {
	readPath   string
	storedPath string
	size       int
	mtime      uint32
	contentSum string
}

// resolveEntries loads every queued source, deduplicates by structural
// equality, and returns the survivors sorted by read path ascending
// (spec.md §4.5.1).
func (w *Writer) resolveEntries() ([]pendingEntry, error) {
	seen := make(map[dedupKey]bool, len(w.sources))
	entries := make([]pendingEntry, 0, len(w.sources))

	for _, src := range w.sources {
		mtime, content, err := src.Load()
		if err != nil {
			return nil, fmt.Errorf("pbo: load %q: %w", src.ReadPath, err)
		}

		stored := storedPathFor(src)
		if w.converter != nil {
			stored, content, err = convertConfigCpp(w.converter, stored, content)
			if err != nil {
				return nil, fmt.Errorf("pbo: convert %q: %w", src.ReadPath, err)
			}
		}

		key := dedupKey{
			readPath:   src.ReadPath,
			storedPath: stored,
			size:       len(content),
			mtime:      mtime,
			contentSum: string(sha1Sum(content)),
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		entries = append(entries, pendingEntry{
			readPath:   src.ReadPath,
			storedPath: stored,
			mtime:      mtime,
			content:    content,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].readPath < entries[j].readPath
	})

	return entries, nil
}

func sha1Sum(b []byte) []byte {
	sum := sha1.Sum(b)
	return sum[:]
}

// Write serializes the writer's headers and files to sink in the exact
// layout of spec.md §4.5, followed by a trailing SHA-1 digest over every
// byte emitted before the trailer.
func (w *Writer) Write(sink io.Writer) error {
	entries, err := w.resolveEntries()
	if err != nil {
		return err
	}

	digest := sha1.New()
	out := io.MultiWriter(sink, digest)

	if err := writeByte(out, 0); err != nil {
		return err
	}
	if err := writeVersionSentinel(out); err != nil {
		return err
	}
	if err := writeHeaders(out, w.headers); err != nil {
		return err
	}
	if err := writeIndex(out, entries); err != nil {
		return err
	}

	var pad [payloadPad + 1]byte // index terminator zero byte + 20-byte pad
	if _, err := out.Write(pad[:]); err != nil {
		return fmt.Errorf("pbo: write index terminator: %w", err)
	}

	for _, e := range entries {
		n, err := out.Write(e.content)
		if err != nil {
			return fmt.Errorf("pbo: write payload for %q: %w", e.storedPath, err)
		}
		if n != len(e.content) {
			return fmt.Errorf("pbo: entry %q wrote %d of %d bytes: %w", e.storedPath, n, len(e.content), ErrSizeMismatch)
		}
	}

	if err := writeByte(sink, 0); err != nil {
		return fmt.Errorf("pbo: write digest prefix: %w", err)
	}
	if _, err := sink.Write(digest.Sum(nil)); err != nil {
		return fmt.Errorf("pbo: write SHA-1 trailer: %w", err)
	}

	return nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func writeVersionSentinel(w io.Writer) error {
	var block [versionSentinelSkip]byte
	copy(block[:], versionSentinel)
	_, err := w.Write(block[:])
	if err != nil {
		return fmt.Errorf("pbo: write version sentinel: %w", err)
	}
	return nil
}

func writeHeaders(w io.Writer, headers []HeaderPair) error {
	for _, h := range headers {
		if err := writeCString(w, h.Key); err != nil {
			return fmt.Errorf("pbo: write header key %q: %w", h.Key, err)
		}
		if err := writeCString(w, h.Value); err != nil {
			return fmt.Errorf("pbo: write header value for %q: %w", h.Key, err)
		}
	}
	return writeByte(w, 0)
}

func writeCString(w io.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return err
	}
	return writeByte(w, 0)
}

func writeIndex(w io.Writer, entries []pendingEntry) error {
	for _, e := range entries {
		if err := writeCString(w, []byte(e.storedPath)); err != nil {
			return fmt.Errorf("pbo: write entry path %q: %w", e.storedPath, err)
		}

		var fields [16]byte
		binary.LittleEndian.PutUint32(fields[0:4], 0) // packing_method
		binary.LittleEndian.PutUint32(fields[4:8], uint32(len(e.content)))
		binary.LittleEndian.PutUint32(fields[8:12], 0) // reserved
		binary.LittleEndian.PutUint32(fields[12:16], e.mtime)
		if _, err := w.Write(fields[:]); err != nil {
			return fmt.Errorf("pbo: write entry fields for %q: %w", e.storedPath, err)
		}

		var dataSize [4]byte
		binary.LittleEndian.PutUint32(dataSize[:], uint32(len(e.content)))
		if _, err := w.Write(dataSize[:]); err != nil {
			return fmt.Errorf("pbo: write entry data size for %q: %w", e.storedPath, err)
		}
	}
	return nil
}

// WriteFile serializes the writer's contents to a new file at path,
// staging it under a UUID-suffixed temporary name in the same directory
// and renaming it into place once the write succeeds. This gives callers
// an atomic, all-or-nothing write without the writer itself needing to
// understand filesystem semantics.
func (w *Writer) WriteFile(path string) (err error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf("%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("pbo: create staging file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err = w.Write(f); err != nil {
		_ = f.Close()
		return err
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("pbo: close staging file: %w", err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pbo: rename staging file into place: %w", err)
	}

	return nil
}
