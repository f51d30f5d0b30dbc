package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peBytes() []byte {
	buf := make([]byte, 0x84)
	copy(buf, "MZ")
	binary.LittleEndian.PutUint32(buf[0x3C:], 0x80)
	copy(buf[0x80:], "PE\x00\x00")
	return buf
}

type entry struct {
	name string
	body []byte
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()

	var files []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestExtract_KeepsValidPEAndSkipsDisallowed(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	data := buildZip(t,
		entry{name: "tool.exe", body: peBytes()},
		entry{name: "readme.txt", body: []byte("hello")},
	)

	res, err := NewExtractor().ExtractBytes(data, target)
	require.NoError(t, err)

	assert.True(t, res.Success())
	require.Len(t, res.Kept, 1)
	assert.Empty(t, res.Rejected)
	assert.Equal(t, []string{"tool.exe"}, listFiles(t, target))
}

func TestExtract_DeletesInvalidEntries(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	data := buildZip(t,
		entry{name: "bin/fake.dll", body: []byte("MZ but nothing else")},
		entry{name: "bin/driver.SYS", body: peBytes()},
	)

	res, err := NewExtractor().ExtractBytes(data, target)
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, []string{"bin/fake.dll"}, res.Rejected)
	assert.Equal(t, []string{"bin/driver.SYS"}, listFiles(t, target))
}

func TestExtract_NoValidEntriesIsNotSuccess(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	data := buildZip(t, entry{name: "setup.exe", body: []byte("plain text")})

	res, err := NewExtractor().ExtractBytes(data, target)
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Empty(t, listFiles(t, target))
}

func TestExtract_PathTraversalStaysInside(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	target := filepath.Join(parent, "pkg")
	require.NoError(t, os.MkdirAll(target, 0o750))

	data := buildZip(t,
		entry{name: "../../evil.exe", body: peBytes()},
		entry{name: `..\..\win.exe`, body: peBytes()},
		entry{name: "/abs/root.exe", body: peBytes()},
		entry{name: "C:/drive.exe", body: peBytes()},
		entry{name: "nested/../../up.exe", body: peBytes()},
	)

	res, err := NewExtractor().ExtractBytes(data, target)
	require.NoError(t, err)

	for _, kept := range res.Kept {
		rel, err := filepath.Rel(target, kept)
		require.NoError(t, err)
		assert.False(t, strings.HasPrefix(rel, ".."), "escaped: %s", kept)
	}
	assert.Equal(t, []string{"pkg"}, dirNames(t, parent))
	assert.ElementsMatch(t,
		[]string{"evil.exe", "win.exe", "root.exe", "drive.exe", "up.exe"},
		listFiles(t, target))
}

func TestExtract_CollidingEntriesKeepFirstArtifact(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	data := buildZip(t,
		entry{name: "tool.exe", body: peBytes()},
		entry{name: "../tool.exe", body: []byte("not a pe")},
		entry{name: "tool.exe", body: []byte("not a pe either")},
	)

	res, err := NewExtractor().ExtractBytes(data, target)
	require.NoError(t, err)

	assert.True(t, res.Success())
	require.Equal(t, []string{filepath.Join(target, "tool.exe")}, res.Kept)
	assert.Equal(t, []string{"../tool.exe", "tool.exe"}, res.Rejected)
	for _, kept := range res.Kept {
		assert.FileExists(t, kept)
		got, err := os.ReadFile(kept)
		require.NoError(t, err)
		assert.Equal(t, peBytes(), got)
	}
}

func TestExtract_InvalidEntryDoesNotBlockLaterValidOne(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	data := buildZip(t,
		entry{name: "../tool.exe", body: []byte("not a pe")},
		entry{name: "tool.exe", body: peBytes()},
	)

	res, err := NewExtractor().ExtractBytes(data, target)
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, []string{"../tool.exe"}, res.Rejected)
	assert.Equal(t, []string{"tool.exe"}, listFiles(t, target))
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestExtract_SkipsJunkEntries(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	data := buildZip(t,
		entry{name: "__MACOSX/tool.exe", body: peBytes()},
		entry{name: "app/._tool.exe", body: peBytes()},
		entry{name: "app/tool.exe", body: peBytes()},
	)

	res, err := NewExtractor().ExtractBytes(data, target)
	require.NoError(t, err)
	assert.Len(t, res.Kept, 1)
	assert.Equal(t, []string{"app/tool.exe"}, listFiles(t, target))
}

func TestExtract_CorruptArchive(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	_, err := NewExtractor().ExtractBytes([]byte("definitely not a zip"), target)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptArchive))
	assert.Empty(t, listFiles(t, target))
}

func TestExtract_EntrySizeCap(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	big := append(peBytes(), make([]byte, 4096)...)
	data := buildZip(t, entry{name: "big.exe", body: big})

	res, err := NewExtractor(WithMaxEntryBytes(1024)).ExtractBytes(data, target)
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, []string{"big.exe"}, res.Rejected)
	assert.Empty(t, listFiles(t, target))
}

func TestExtract_CustomAllowList(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	data := buildZip(t,
		entry{name: "tool.exe", body: peBytes()},
		entry{name: "plugin.ocx", body: peBytes()},
	)

	res, err := NewExtractor(WithAllowedExtensions([]string{"ocx"})).ExtractBytes(data, target)
	require.NoError(t, err)
	assert.Equal(t, []string{"plugin.ocx"}, listFiles(t, target))
	assert.Len(t, res.Kept, 1)
}

func TestSaveSingle(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "app")

	res, err := NewExtractor().SaveSingle(bytes.NewReader(peBytes()), "../PortableApp.paf.exe", target)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, []string{"PortableApp.paf.exe"}, listFiles(t, target))

	res, err = NewExtractor().SaveSingle(strings.NewReader("<html>"), "page.exe", target)
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, []string{"PortableApp.paf.exe"}, listFiles(t, target))
}

func TestSafeFileName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"tool.exe":           "tool.exe",
		"a/b/c.dll":          "c.dll",
		`dir\setup.exe`:      "setup.exe",
		"":                   FallbackFileName,
		"..":                 FallbackFileName,
		"/":                  FallbackFileName,
		"C:":                 FallbackFileName,
		"../../etc/evil.exe": "evil.exe",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeFileName(in), "input %q", in)
	}
}

func TestIsZip(t *testing.T) {
	t.Parallel()

	assert.True(t, IsZip("tool.ZIP", nil))
	assert.True(t, IsZip("Pkg.nupkg", nil))
	assert.True(t, IsZip("1.2.3", []byte("PK\x03\x04rest")))
	assert.False(t, IsZip("setup.exe", peBytes()))
	assert.False(t, IsZip("", []byte("PK")))
}
