// Package state holds the durable acquisition state: the history ledger of
// processed source URLs and the per-source discovery cursors. Every mutation
// is flushed before the call returns.
package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Ledger is the durable set of source URLs that produced at least one valid artifact.
type Ledger interface {
	Contains(ctx context.Context, url string) (bool, error)
	Record(ctx context.Context, url string) error
}

// LedgerPath returns the history file for a source inside the metadata directory.
func LedgerPath(metadataDir, source string) string {
	return filepath.Join(metadataDir, fmt.Sprintf("history_%s.json", source))
}

// JSONLedger keeps the ledger as a JSON array of URLs.
type JSONLedger struct {
	path string
	urls map[string]struct{}
}

var _ Ledger = (*JSONLedger)(nil)

// OpenJSONLedger loads path; a missing file is an empty ledger.
func OpenJSONLedger(path string) (*JSONLedger, error) {
	var urls []string
	if _, err := readJSON(path, &urls); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	l := &JSONLedger{path: path, urls: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		l.urls[u] = struct{}{}
	}
	return l, nil
}

// Contains reports whether url was already processed.
func (l *JSONLedger) Contains(_ context.Context, url string) (bool, error) {
	_, ok := l.urls[url]
	return ok, nil
}

// Record adds url and rewrites the file before returning.
func (l *JSONLedger) Record(_ context.Context, url string) error {
	if _, ok := l.urls[url]; ok {
		return nil
	}
	l.urls[url] = struct{}{}
	if err := writeJSONAtomic(l.path, sortedKeys(l.urls)); err != nil {
		delete(l.urls, url)
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Len returns the number of recorded URLs.
func (l *JSONLedger) Len() int {
	return len(l.urls)
}

// MemoryLedger is an in-memory Ledger for tests and dry runs.
type MemoryLedger struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger seeds the ledger with urls.
func NewMemoryLedger(urls ...string) *MemoryLedger {
	l := &MemoryLedger{urls: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		l.urls[u] = struct{}{}
	}
	return l
}

func (l *MemoryLedger) Contains(_ context.Context, url string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.urls[url]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls[url] = struct{}{}
	return nil
}

// URLs returns the recorded URLs in sorted order.
func (l *MemoryLedger) URLs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedKeys(l.urls)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
