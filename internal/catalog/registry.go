package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"PECorpus/internal/domain"
	"PECorpus/internal/state"
)

// Adapter captures a single catalog (GitHub releases, NuGet, PortableApps).
//
// Discover returns one page of candidates for query at the given cursor
// value. An empty slice with a nil error means the query is exhausted.
// Errors carry a domain.Outcome; OutcomeRateLimited stops the source for
// the rest of the cycle.
//
// Resolve turns a candidate into concrete download URLs. Candidates that
// already carry DownloadURLs are not resolved.
type Adapter interface {
	Name() string
	Dir() string
	CursorSpec() state.Spec
	Queries() []string
	Discover(ctx context.Context, query string, cursor int) ([]domain.Candidate, error)
	Resolve(ctx context.Context, c domain.Candidate) ([]string, error)
}

// Registry indexes the catalogs a crawl can poll by their source name, the
// name used in config, CLI flags, ledger files and cursor keys.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns a registry with no catalogs.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register makes adapter selectable under its Name; a later adapter with the
// same name takes its place.
func (r *Registry) Register(adapter Adapter) {
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
	}
	r.adapters[adapter.Name()] = adapter
}

// Resolve looks up the catalog for a source name.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("unknown source %q (known: %s)", name, strings.Join(r.Names(), ", "))
}

// Select resolves names in order, dropping repeats. An empty list selects
// every registered catalog.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		adapter, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		out = append(out, adapter)
	}
	return out, nil
}

// Names lists registered sources in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
