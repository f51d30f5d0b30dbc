package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// CursorFile is the discovery state file name inside the metadata directory.
const CursorFile = "discovery_state.json"

// Spec declares where a source's cursor starts and how far one discovery call moves it.
type Spec struct {
	Initial int
	Step    int
}

// Positions maps source -> query -> cursor value.
type Positions map[string]map[string]int

func (p Positions) clone() Positions {
	out := make(Positions, len(p))
	for source, queries := range p {
		q := make(map[string]int, len(queries))
		for k, v := range queries {
			q[k] = v
		}
		out[source] = q
	}
	return out
}

// CursorStore persists the whole position map.
type CursorStore interface {
	LoadPositions(ctx context.Context) (Positions, error)
	SavePositions(ctx context.Context, positions Positions) error
}

// Cursor tracks discovery pagination per (source, query). Every mutating
// call saves the full map before returning; a failed save restores the
// previous in-memory value and is returned to the caller.
type Cursor struct {
	store     CursorStore
	positions Positions
}

// LoadCursor reads the stored positions.
func LoadCursor(ctx context.Context, store CursorStore) (*Cursor, error) {
	positions, err := store.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load discovery state: %w", err)
	}
	if positions == nil {
		positions = Positions{}
	}
	// A source stored as null has no positions yet.
	for source, queries := range positions {
		if queries == nil {
			delete(positions, source)
		}
	}
	return &Cursor{store: store, positions: positions}, nil
}

// Current returns the stored value or spec.Initial when none exists.
func (c *Cursor) Current(source, query string, spec Spec) int {
	if v, ok := c.positions[source][query]; ok && v >= 0 {
		return v
	}
	return spec.Initial
}

// Advance moves the cursor one step past the value it returns.
func (c *Cursor) Advance(ctx context.Context, source, query string, spec Spec) (int, error) {
	used := c.Current(source, query, spec)
	step := spec.Step
	if step <= 0 {
		step = 1
	}
	if err := c.set(ctx, source, query, used+step); err != nil {
		return used, err
	}
	return used, nil
}

// Reset wraps the cursor back to spec.Initial after an empty result set.
func (c *Cursor) Reset(ctx context.Context, source, query string, spec Spec) error {
	return c.set(ctx, source, query, spec.Initial)
}

// Hold persists the current value unchanged after a rate-limited call.
func (c *Cursor) Hold(ctx context.Context, source, query string, spec Spec) error {
	return c.set(ctx, source, query, c.Current(source, query, spec))
}

// Restore rewinds the cursor to value, used when a rate limit interrupts the
// processing of a window that was already advanced past.
func (c *Cursor) Restore(ctx context.Context, source, query string, value int) error {
	if value < 0 {
		value = 0
	}
	return c.set(ctx, source, query, value)
}

// Snapshot returns a copy of all positions.
func (c *Cursor) Snapshot() Positions {
	return c.positions.clone()
}

func (c *Cursor) set(ctx context.Context, source, query string, value int) error {
	queries := c.positions[source]
	if queries == nil {
		queries = map[string]int{}
		c.positions[source] = queries
	}
	prev, existed := queries[query]
	queries[query] = value

	if err := c.store.SavePositions(ctx, c.positions.clone()); err != nil {
		if existed {
			queries[query] = prev
		} else {
			delete(queries, query)
		}
		return fmt.Errorf("persist discovery state %s/%s: %w", source, query, err)
	}
	return nil
}

// JSONCursorStore keeps positions in a JSON object file.
type JSONCursorStore struct {
	path string
}

var _ CursorStore = (*JSONCursorStore)(nil)

// NewJSONCursorStore stores positions at metadataDir/discovery_state.json.
func NewJSONCursorStore(metadataDir string) *JSONCursorStore {
	return &JSONCursorStore{path: filepath.Join(metadataDir, CursorFile)}
}

// Path returns the backing file.
func (s *JSONCursorStore) Path() string {
	return s.path
}

func (s *JSONCursorStore) LoadPositions(_ context.Context) (Positions, error) {
	positions := Positions{}
	if _, err := readJSON(s.path, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (s *JSONCursorStore) SavePositions(_ context.Context, positions Positions) error {
	return writeJSONAtomic(s.path, positions)
}

// MemoryCursorStore is an in-memory CursorStore that counts saves.
type MemoryCursorStore struct {
	mu        sync.Mutex
	positions Positions
	saves     int
	failWith  error
}

var _ CursorStore = (*MemoryCursorStore)(nil)

// NewMemoryCursorStore seeds the store with positions (may be nil).
func NewMemoryCursorStore(positions Positions) *MemoryCursorStore {
	if positions == nil {
		positions = Positions{}
	}
	return &MemoryCursorStore{positions: positions.clone()}
}

// FailWith makes every following save return err.
func (s *MemoryCursorStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryCursorStore) LoadPositions(_ context.Context) (Positions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions.clone(), nil
}

func (s *MemoryCursorStore) SavePositions(_ context.Context, positions Positions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.positions = positions.clone()
	s.saves++
	return nil
}

// Saves returns how many times positions were persisted.
func (s *MemoryCursorStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Value returns the persisted value and whether it exists.
func (s *MemoryCursorStore) Value(source, query string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.positions[source][query]
	return v, ok
}
