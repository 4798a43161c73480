/*

Package pbo is a decoder/encoder for the PBO archive file format used by
Real Virtuality and Enfusion engine titles (Arma, DayZ and related mods).

This is not a full implementation of every PBO variant in the wild; it
targets the common "sreV"-sentinel layout plus the sentinel-less legacy
layout that readers must also tolerate.

Format notes:

- Header: an optional zero-terminated property list, preceded by an
  empty filename marker and (usually) a 20-byte "sreV" version sentinel.

- Entry index: zero-terminated filename, 4-byte packing tag, and four
  little-endian u32 fields (original size, reserved, timestamp, data
  size), terminated by an empty filename.

- Payload: entry content, concatenated in index order, immediately
  following the index's 20-byte pad.

- Trailer: a zero byte followed by a 20-byte SHA-1 digest of every byte
  written before it.

Compressed entries (OriginalSize neither 0 nor equal to DataSize) use a packet-oriented LZSS
scheme: an 8-bit flag byte (LSB first) precedes each run of up to 8
literal bytes or 16-bit back-references, followed by a 4-byte
little-endian additive checksum of the decompressed content.

Information sources:

- dayz_dev_tools: the reference reader/writer/extractor this package's
  semantics are ported from.

- PBO file format notes: https://community.bistudio.com/wiki/PBO_File_Format

*/
package pbo
