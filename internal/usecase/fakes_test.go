package usecase

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"PECorpus/internal/domain"
	"PECorpus/internal/state"
)

func peBytes() []byte {
	buf := make([]byte, 0x84)
	copy(buf, "MZ")
	binary.LittleEndian.PutUint32(buf[0x3C:], 0x80)
	copy(buf[0x80:], "PE\x00\x00")
	return buf
}

type zipEntry struct {
	name string
	body []byte
}

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]zipEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, zipEntry{name: name, body: files[name]})
	}
	return orderedZip(t, entries...)
}

// orderedZip writes entries in the given order, duplicates included.
func orderedZip(t *testing.T, entries ...zipEntry) []byte {
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

func corpusFiles(t *testing.T, root string) []string {
	t.Helper()

	var files []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(root, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

type fakeAdapter struct {
	name     string
	queries  []string
	pages    map[string]map[int][]domain.Candidate
	errs     map[string]error
	resolved map[string][]string

	mu       sync.Mutex
	discover []string
	resolves []string
}

func (f *fakeAdapter) Name() string           { return f.name }
func (f *fakeAdapter) Dir() string            { return f.name + "_dir" }
func (f *fakeAdapter) CursorSpec() state.Spec { return state.Spec{Initial: 1, Step: 1} }
func (f *fakeAdapter) Queries() []string      { return f.queries }

func (f *fakeAdapter) Discover(_ context.Context, query string, cursor int) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.discover = append(f.discover, fmt.Sprintf("%s@%d", query, cursor))
	f.mu.Unlock()
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.pages[query][cursor], nil
}

func (f *fakeAdapter) Resolve(_ context.Context, c domain.Candidate) ([]string, error) {
	f.mu.Lock()
	f.resolves = append(f.resolves, c.ID)
	f.mu.Unlock()
	if err := f.errs["resolve:"+c.ID]; err != nil {
		return nil, err
	}
	return f.resolved[c.ID], nil
}

func (f *fakeAdapter) discoverCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.discover...)
}

type fakeDownloader struct {
	payloads map[string]domain.Payload
	errs     map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeDownloader) Download(_ context.Context, url string) (domain.Payload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return domain.Payload{}, err
	}
	p, ok := f.payloads[url]
	if !ok {
		return domain.Payload{}, domain.WithOutcome(domain.OutcomePermanent, fmt.Errorf("GET %s: HTTP 404", url))
	}
	p.URL = url
	return p, nil
}

func (f *fakeDownloader) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeScanner struct {
	infected map[string]bool
	err      error
}

func (f *fakeScanner) Name() string          { return "fake-scan" }
func (f *fakeScanner) Policy() domain.Policy { return domain.FailOpen }
func (f *fakeScanner) Scan(_ context.Context, path string) (domain.ScanVerdict, error) {
	if f.err != nil {
		return domain.ScanError, f.err
	}
	if f.infected[filepath.Base(path)] {
		return domain.ScanInfected, nil
	}
	return domain.ScanClean, nil
}

type fakeSigner struct {
	signed map[string]bool
}

func (f *fakeSigner) Name() string          { return "fake-sign" }
func (f *fakeSigner) Policy() domain.Policy { return domain.FailClosed }
func (f *fakeSigner) Check(_ context.Context, path string) (domain.SignatureStatus, error) {
	if f.signed[filepath.Base(path)] {
		return domain.Signed, nil
	}
	return domain.Unsigned, nil
}

type fakeDisk struct{ ratio float64 }

func (f fakeDisk) UsedRatio(string) (float64, error) { return f.ratio, nil }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, digest)
	return nil
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
