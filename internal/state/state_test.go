package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLedger_RecordPersistsImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := LedgerPath(filepath.Join(t.TempDir(), "metadata"), "github")

	ledger, err := OpenJSONLedger(path)
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.Len())

	require.NoError(t, ledger.Record(ctx, "https://example.org/b.zip"))
	require.NoError(t, ledger.Record(ctx, "https://example.org/a.zip"))
	require.NoError(t, ledger.Record(ctx, "https://example.org/a.zip"))

	reopened, err := OpenJSONLedger(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	ok, err := reopened.Contains(ctx, "https://example.org/a.zip")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reopened.Contains(ctx, "https://example.org/c.zip")
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `["https://example.org/a.zip","https://example.org/b.zip"]`, string(raw))
}

func TestJSONLedger_CorruptFileIsAnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history_nuget.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenJSONLedger(path)
	require.Error(t, err)
}

func TestJSONLedger_RecordFailureIsSurfaced(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "metadata")

	ledger, err := OpenJSONLedger(LedgerPath(blocker, "github"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(blocker, []byte("file where a dir should be"), 0o644))

	err = ledger.Record(context.Background(), "https://example.org/x.zip")
	require.Error(t, err)

	ok, _ := ledger.Contains(context.Background(), "https://example.org/x.zip")
	assert.False(t, ok, "failed record must not stay in memory")
}

func TestCursor_AdvanceResetHold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryCursorStore(nil)
	cursor, err := LoadCursor(ctx, store)
	require.NoError(t, err)

	offset := Spec{Initial: 0, Step: 20}

	used, err := cursor.Advance(ctx, "nuget", "tags:chocolatey", offset)
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	used, err = cursor.Advance(ctx, "nuget", "tags:chocolatey", offset)
	require.NoError(t, err)
	assert.Equal(t, 20, used)

	v, ok := store.Value("nuget", "tags:chocolatey")
	require.True(t, ok)
	assert.Equal(t, 40, v)

	require.NoError(t, cursor.Hold(ctx, "nuget", "tags:chocolatey", offset))
	v, _ = store.Value("nuget", "tags:chocolatey")
	assert.Equal(t, 40, v)

	require.NoError(t, cursor.Reset(ctx, "nuget", "tags:chocolatey", offset))
	v, _ = store.Value("nuget", "tags:chocolatey")
	assert.Equal(t, 0, v)

	assert.Equal(t, 4, store.Saves(), "every call persists")
}

func TestCursor_PageSpecStartsAtOne(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cursor, err := LoadCursor(ctx, NewMemoryCursorStore(nil))
	require.NoError(t, err)

	page := Spec{Initial: 1, Step: 1}
	assert.Equal(t, 1, cursor.Current("github", "topic:windows", page))

	used, err := cursor.Advance(ctx, "github", "topic:windows", page)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
	assert.Equal(t, 2, cursor.Current("github", "topic:windows", page))

	require.NoError(t, cursor.Restore(ctx, "github", "topic:windows", used))
	assert.Equal(t, 1, cursor.Current("github", "topic:windows", page))
}

func TestCursor_SaveFailureKeepsPreviousValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryCursorStore(Positions{"nuget": {"q": 40}})
	cursor, err := LoadCursor(ctx, store)
	require.NoError(t, err)

	boom := errors.New("disk full")
	store.FailWith(boom)

	_, err = cursor.Advance(ctx, "nuget", "q", Spec{Step: 20})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 40, cursor.Current("nuget", "q", Spec{}))
}

func TestJSONCursorStore_NullSourceEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "metadata")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CursorFile), []byte(`{"github": null, "nuget": {"q": 10}}`), 0o600))

	store := NewJSONCursorStore(dir)
	cursor, err := LoadCursor(ctx, store)
	require.NoError(t, err)

	page := Spec{Initial: 1, Step: 1}
	assert.Equal(t, 1, cursor.Current("github", "q", page))
	used, err := cursor.Advance(ctx, "github", "q", page)
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	reloaded, err := LoadCursor(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, Positions{
		"github": {"q": 2},
		"nuget":  {"q": 10},
	}, reloaded.Snapshot())
}

func TestCursor_NilQueryMapFromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cursor := &Cursor{store: NewMemoryCursorStore(nil), positions: Positions{"github": nil}}

	require.NoError(t, cursor.Reset(ctx, "github", "q", Spec{Initial: 1, Step: 1}))
	assert.Equal(t, 1, cursor.Current("github", "q", Spec{Initial: 7}))
}

func TestJSONCursorStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJSONCursorStore(filepath.Join(t.TempDir(), "metadata"))

	cursor, err := LoadCursor(ctx, store)
	require.NoError(t, err)
	_, err = cursor.Advance(ctx, "portableapps", "Security", Spec{Initial: 0, Step: 5})
	require.NoError(t, err)
	_, err = cursor.Advance(ctx, "github", "topic:windows", Spec{Initial: 1, Step: 1})
	require.NoError(t, err)

	reloaded, err := LoadCursor(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, Positions{
		"portableapps": {"Security": 5},
		"github":       {"topic:windows": 2},
	}, reloaded.Snapshot())

	matches, err := filepath.Glob(store.Path() + ".tmp.*")
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are cleaned up")
}
