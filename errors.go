package pbo

import "errors"

// Sentinel errors for the error kinds described in spec.md §7. Callers
// should match them with errors.Is; call sites wrap them with
// fmt.Errorf("...: %w", ...) to add context, following the convention
// shown throughout the WoozyMasta/pbo reference reader and writer.
var (
	// ErrInsufficientBytes is returned when a fixed-width read runs past
	// the end of a ByteWindow.
	ErrInsufficientBytes = errors.New("pbo: insufficient bytes remaining")

	// ErrInvalidArchive is returned for structural violations detected
	// while parsing an archive (e.g. a property key without a value).
	ErrInvalidArchive = errors.New("pbo: invalid archive")

	// ErrChecksumMismatch is returned when the additive checksum trailing
	// a compressed entry's payload does not match the decompressed bytes.
	ErrChecksumMismatch = errors.New("pbo: checksum mismatch")

	// ErrNotCompressible is returned by Collapse when the input cannot
	// produce at least one back-reference.
	ErrNotCompressible = errors.New("pbo: input not compressible")

	// ErrSizeMismatch is returned by Writer when the bytes actually
	// written for an entry's content disagree with its recorded size.
	ErrSizeMismatch = errors.New("pbo: size mismatch")

	// ErrEntryNotFound is returned by Archive.Find callers (and by
	// Extract, for an explicitly requested file) when a named lookup
	// fails.
	ErrEntryNotFound = errors.New("pbo: entry not found")

	// ErrConverterFailure wraps an error from an external binarized-config
	// converter. Extract recovers from it locally (falling back to plain
	// extraction), so it never escapes Extract; Writer.Write returns it.
	ErrConverterFailure = errors.New("pbo: config converter failed")
)
