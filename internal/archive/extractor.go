// Package archive extracts allow-listed entries from zip-compatible containers
// (.zip, .nupkg) and admits each one through a structural validator. Entries
// are confined to the target directory; rejected files are removed before the
// next entry is processed.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"PECorpus/internal/pe"
)

// DefaultMaxEntryBytes caps a single extracted entry (decompression bomb guard).
const DefaultMaxEntryBytes int64 = 1 << 30

// FallbackFileName names a direct download whose URL and headers carry no usable name.
const FallbackFileName = "downloaded_app.exe"

var (
	// ErrCorruptArchive is returned when the container cannot be opened.
	ErrCorruptArchive = errors.New("corrupt archive")

	// DefaultAllowedExt lists the binary, library and driver extensions kept by default.
	DefaultAllowedExt = []string{".exe", ".dll", ".sys"}

	junkNames = map[string]struct{}{
		".ds_store":   {},
		"thumbs.db":   {},
		"desktop.ini": {},
	}
)

// Result lists what happened to each allow-listed entry.
type Result struct {
	Kept     []string
	Rejected []string
}

// Success reports whether at least one entry passed validation.
func (r Result) Success() bool {
	return len(r.Kept) > 0
}

// Extractor filters, extracts and validates archive entries.
type Extractor struct {
	allowed  map[string]struct{}
	maxBytes int64
	validate func(path string) bool
	logger   *slog.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithAllowedExtensions replaces the extension allow-list.
func WithAllowedExtensions(exts []string) Option {
	return func(e *Extractor) {
		if len(exts) == 0 {
			return
		}
		e.allowed = extensionSet(exts)
	}
}

// WithMaxEntryBytes overrides the per-entry size cap.
func WithMaxEntryBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithValidator replaces the structural check run on every extracted file.
func WithValidator(fn func(path string) bool) Option {
	return func(e *Extractor) {
		if fn != nil {
			e.validate = fn
		}
	}
}

// WithLogger attaches a logger for per-entry decisions.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor builds an extractor validating entries with pe.IsValidFile.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		allowed:  extensionSet(DefaultAllowedExt),
		maxBytes: DefaultMaxEntryBytes,
		validate: pe.IsValidFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractBytes runs Extract over an in-memory container.
func (e *Extractor) ExtractBytes(data []byte, targetDir string) (Result, error) {
	return e.Extract(bytes.NewReader(data), int64(len(data)), targetDir)
}

// Extract walks the container entries, writing allow-listed ones below
// targetDir. Opening errors return ErrCorruptArchive and leave nothing on disk.
func (e *Extractor) Extract(r io.ReaderAt, size int64, targetDir string) (Result, error) {
	var res Result

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return res, fmt.Errorf("resolve target dir: %w", err)
	}

	written := make(map[string]struct{})
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || f.Mode()&os.ModeSymlink != 0 || isJunk(f.Name) {
			continue
		}
		if !e.isAllowed(f.Name) {
			e.debug("skip entry", "entry", f.Name, "reason", "extension")
			continue
		}

		dest, ok := confine(root, f.Name)
		if !ok {
			e.debug("skip entry", "entry", f.Name, "reason", "unsafe path")
			res.Rejected = append(res.Rejected, f.Name)
			continue
		}
		// A kept artifact is never overwritten by a later entry mapping to the same path.
		if _, taken := written[dest]; taken {
			e.debug("skip entry", "entry", f.Name, "reason", "duplicate path")
			res.Rejected = append(res.Rejected, f.Name)
			continue
		}

		if err := e.writeEntry(f, dest); err != nil {
			e.debug("entry write failed", "entry", f.Name, "error", err)
			res.Rejected = append(res.Rejected, f.Name)
			continue
		}

		if !e.validate(dest) {
			_ = os.Remove(dest)
			e.debug("rejected entry", "entry", f.Name, "reason", "not a PE")
			res.Rejected = append(res.Rejected, f.Name)
			continue
		}
		written[dest] = struct{}{}
		res.Kept = append(res.Kept, dest)
	}

	return res, nil
}

// SaveSingle stores a directly downloaded file under targetDir and validates
// it the same way as an archive entry.
func (e *Extractor) SaveSingle(r io.Reader, name, targetDir string) (Result, error) {
	var res Result

	base := SafeFileName(name)
	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return res, fmt.Errorf("create target dir: %w", err)
	}
	dest := filepath.Join(targetDir, base)

	if err := e.writeFile(r, dest); err != nil {
		return res, err
	}
	if !e.validate(dest) {
		_ = os.Remove(dest)
		res.Rejected = append(res.Rejected, base)
		return res, nil
	}
	res.Kept = append(res.Kept, dest)
	return res, nil
}

func (e *Extractor) writeEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create entry dir: %w", err)
	}
	return e.writeFile(rc, dest)
}

func (e *Extractor) writeFile(r io.Reader, dest string) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(out, io.LimitReader(r, e.maxBytes+1))
	closeErr := out.Close()
	switch {
	case err != nil:
		_ = os.Remove(dest)
		return fmt.Errorf("write file: %w", err)
	case n > e.maxBytes:
		_ = os.Remove(dest)
		return fmt.Errorf("entry exceeds %d bytes", e.maxBytes)
	case closeErr != nil:
		_ = os.Remove(dest)
		return fmt.Errorf("close file: %w", closeErr)
	}
	return nil
}

func (e *Extractor) isAllowed(name string) bool {
	_, ok := e.allowed[strings.ToLower(path.Ext(normalize(name)))]
	return ok
}

func (e *Extractor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

// confine maps an entry name to a path inside root. Names that would escape
// root are reduced to their base name; names without a usable base are refused.
func confine(root, name string) (string, bool) {
	rel := path.Clean("/" + normalize(name))[1:]
	if escapes(name) {
		if !hasBase(name) {
			return "", false
		}
		rel = SafeFileName(name)
	}
	if rel == "" {
		return "", false
	}

	dest := filepath.Join(root, filepath.FromSlash(rel))
	check, err := filepath.Rel(root, dest)
	if err != nil || !filepath.IsLocal(check) {
		return "", false
	}
	return dest, true
}

// escapes reports whether the raw entry name tries to leave its container:
// parent references, absolute paths or drive letters.
func escapes(name string) bool {
	n := normalize(name)
	if strings.HasPrefix(n, "/") || (len(n) > 1 && n[1] == ':') {
		return true
	}
	for _, part := range strings.Split(n, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// SafeFileName reduces name to a single path element usable inside a target
// directory, falling back to FallbackFileName.
func SafeFileName(name string) string {
	base := path.Base(normalize(name))
	if len(base) > 1 && base[1] == ':' {
		base = base[2:]
	}
	switch base {
	case "", ".", "..", "/":
		return FallbackFileName
	}
	return base
}

func hasBase(name string) bool {
	base := path.Base(normalize(name))
	return base != "" && base != "." && base != ".." && base != "/"
}

func normalize(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

func isJunk(name string) bool {
	n := normalize(name)
	for _, part := range strings.Split(n, "/") {
		if part == "__MACOSX" {
			return true
		}
	}
	base := path.Base(n)
	if strings.HasPrefix(base, "._") {
		return true
	}
	_, ok := junkNames[strings.ToLower(base)]
	return ok
}

func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

var zipMagic = []byte("PK\x03\x04")

// IsZip reports whether a download should be treated as a zip archive: a
// .zip or .nupkg name, or the local file header magic.
func IsZip(name string, data []byte) bool {
	switch strings.ToLower(path.Ext(normalize(name))) {
	case ".zip", ".nupkg":
		return true
	}
	return bytes.HasPrefix(data, zipMagic)
}
