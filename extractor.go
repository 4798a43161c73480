package pbo

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ConfigConverter converts between a config.bin payload and its textual
// config.cpp form. Extract calls it bin-to-cpp (unbinarizing for
// readability); Writer calls it cpp-to-bin (binarizing for storage),
// mirroring the two-way `cfgconvert.exe -txt`/`-bin` tool it typically
// wraps. Implementations shell out to that external binarizer themselves;
// invoking the subprocess is outside this package's scope (spec.md
// Non-goals) and entirely the caller's responsibility.
type ConfigConverter func(content []byte) ([]byte, error)

// includeRedirectPattern matches a file whose entire content is a single
// `#include "target"` directive, optionally preceded by one line or block
// comment, per spec.md §4.6's deobfuscation walk.
var includeRedirectPattern = regexp.MustCompile(
	`^(?:(?://[^\r\n]*|/\*(?:[^*]|\*[^/])*\*/)\r\n)?#include "([^"]+)"(?:\r\n)?$`,
)

// maxDeobfuscationDepth bounds the include-redirect recursion (spec.md §9
// design note: "implement with ... a bounded recursion guard"), since a
// malformed or adversarial archive could otherwise form an include cycle.
const maxDeobfuscationDepth = 64

// ExtractOptions controls Extract's behavior (spec.md §4.6, §6 library
// surface `extract(archive, selection, verbose, deobfuscate, cfgconvert?,
// pattern?)`).
type ExtractOptions struct {
	// Verbose enables progress and skip notices on Log (or on the
	// standard library logger, if Log is nil).
	Verbose bool
	// Deobfuscate enables obfuscated-filename renaming and include-redirect
	// resolution.
	Deobfuscate bool
	// Converter, if non-nil, is invoked for any config.bin entry to
	// produce a sibling config.cpp.
	Converter ConfigConverter
	// Pattern overrides includeRedirectPattern, if non-nil.
	Pattern *regexp.Regexp
	// Log receives verbose notices. Defaults to the standard library
	// log.Printf if nil.
	Log func(format string, args ...any)
}

func (o ExtractOptions) logf(format string, args ...any) {
	if !o.Verbose {
		return
	}
	if o.Log != nil {
		o.Log(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (o ExtractOptions) pattern() *regexp.Regexp {
	if o.Pattern != nil {
		return o.Pattern
	}
	return includeRedirectPattern
}

// extractionContext carries the state that must advance monotonically
// across one Extract call: the deobfuscation rename counter (spec.md §9
// design note: the counter is session-local, not global). The ignored set
// is passed to extractEntry separately: one set shared by a whole-archive
// extraction, a fresh one for each selected entry.
type extractionContext struct {
	archive *Archive
	dest    string
	opts    ExtractOptions
	counter int
}

// Extract writes archive entries to dest, a destination directory.
// selection, if non-empty, names the specific entries to extract (in
// order); otherwise every entry in archive.Entries() order is extracted.
func Extract(archive *Archive, dest string, selection []string, opts ExtractOptions) error {
	ctx := &extractionContext{archive: archive, dest: dest, opts: opts}

	if len(selection) == 0 {
		ignored := make(map[string]bool)
		for _, e := range archive.Entries() {
			if err := ctx.extractEntry(e, ignored); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range selection {
		e := archive.Find(name)
		if e == nil {
			return fmt.Errorf("pbo: extract %q: %w", name, ErrEntryNotFound)
		}
		if err := ctx.extractEntry(e, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}

// extractEntry implements the per-entry policy of spec.md §4.6.
func (c *extractionContext) extractEntry(e *Entry, ignored map[string]bool) error {
	parts := e.SplitFilename()
	normalized := e.NormalizedFilename()

	if isEmptyOrPrefixOnly(normalized, c.archive.Prefix()) {
		c.opts.logf("skipping empty: %s", e.Filename)
		return nil
	}

	invalidAndNotObfuscated := e.IsInvalidFilename() && !e.IsObfuscated()
	if (c.opts.Deobfuscate && ignored[string(e.Filename)]) || invalidAndNotObfuscated {
		c.opts.logf("skipping obfuscation file: %s", normalized)
		return nil
	}

	finalSegment := string(parts[len(parts)-1])
	if strings.EqualFold(finalSegment, "config.bin") && c.opts.Converter != nil {
		converted, err := c.tryConvertConfig(e)
		if err != nil {
			// Recovered locally: fall through to normal extraction.
			c.opts.logf("config converter failed for %s: %v", normalized, err)
		} else {
			outParts := append(append([][]byte{}, parts[:len(parts)-1]...), []byte("config.cpp"))
			return c.writeFile(outParts, converted)
		}
	}

	outParts := parts
	if c.opts.Deobfuscate && e.IsObfuscated() {
		c.counter++
		renamed := fmt.Sprintf("deobfs%05d.c", c.counter)
		outParts = append(append([][]byte{}, parts[:len(parts)-1]...), []byte(renamed))
	}

	if !c.opts.Deobfuscate {
		return c.streamEntry(outParts, e)
	}

	content, err := c.resolveDeobfuscated(e, ignored, 0)
	if err != nil {
		return err
	}
	return c.writeFile(outParts, content)
}

func isEmptyOrPrefixOnly(normalized string, prefix []byte) bool {
	if strings.TrimSpace(normalized) == "" {
		return true
	}
	if prefix == nil {
		return false
	}
	return normalized == strings.Join(splitJoined(prefix), string(filepath.Separator))
}

func splitJoined(raw []byte) []string {
	parts := splitFilename(raw)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = sanitizeUTF8(p)
	}
	return out
}

func (c *extractionContext) tryConvertConfig(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Unpack(&buf); err != nil {
		return nil, fmt.Errorf("pbo: unpack %s for conversion: %w", e.Filename, err)
	}

	cpp, err := c.opts.Converter(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrConverterFailure)
	}
	return cpp, nil
}

// streamEntry writes an entry's decoded payload directly to disk, no
// deobfuscation walk.
func (c *extractionContext) streamEntry(parts [][]byte, e *Entry) error {
	path, f, err := c.createOutputFile(parts)
	if err != nil {
		return err
	}
	defer f.Close()

	c.opts.logf("extracting %s", path)

	if err := e.Unpack(f); err != nil {
		return fmt.Errorf("pbo: unpack %s: %w", path, err)
	}
	return nil
}

func (c *extractionContext) writeFile(parts [][]byte, content []byte) error {
	path, f, err := c.createOutputFile(parts)
	if err != nil {
		return err
	}
	defer f.Close()

	c.opts.logf("extracting %s", path)

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("pbo: write %s: %w", path, err)
	}
	return nil
}

func (c *extractionContext) createOutputFile(parts [][]byte) (string, *os.File, error) {
	segs := make([]string, len(parts))
	for i, p := range parts {
		segs[i] = sanitizeUTF8(p)
	}

	path := filepath.Join(append([]string{c.dest}, segs...)...)

	if len(segs) > 1 {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return path, nil, fmt.Errorf("pbo: create directory for %s: %w", path, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return path, nil, fmt.Errorf("pbo: create %s: %w", path, err)
	}
	return path, f, nil
}

// resolveDeobfuscated implements the include-redirect walk of spec.md
// §4.6: it unpacks e, tests the content against the include pattern, and
// if it matches a target present in the archive, recurses on that
// target's content (adding it to ignored), otherwise returns e's content
// verbatim.
func (c *extractionContext) resolveDeobfuscated(e *Entry, ignored map[string]bool, depth int) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Unpack(&buf); err != nil {
		return nil, fmt.Errorf("pbo: unpack %s: %w", e.Filename, err)
	}
	content := buf.Bytes()

	if depth >= maxDeobfuscationDepth {
		c.opts.logf("include-redirect depth limit reached at %s", e.Filename)
		return content, nil
	}

	match := c.opts.pattern().FindSubmatch(content)
	if match == nil {
		return content, nil
	}

	target := match[1]
	if prefix := c.archive.Prefix(); prefix != nil {
		want := append(append([]byte{}, prefix...), '\\')
		if !bytes.HasPrefix(target, want) {
			target = append(want, target...)
		}
	}

	resolved := c.archive.Find(target)
	if resolved == nil {
		c.opts.logf("unable to deobfuscate %s", e.Filename)
		return content, nil
	}

	ignored[string(resolved.Filename)] = true
	return c.resolveDeobfuscated(resolved, ignored, depth+1)
}
