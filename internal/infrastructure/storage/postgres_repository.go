package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"PECorpus/internal/state"
)

const (
	historyTable = "download_history"
	cursorTable  = "discovery_state"
)

// PostgresRepository persists download ledgers and discovery cursors into
// Postgres. It replaces the JSON files under <corpus>/metadata when a DSN is
// configured.
type PostgresRepository struct {
	db     *sql.DB
	schema string
	sb     sq.StatementBuilderType
}

var _ state.CursorStore = (*PostgresRepository)(nil)

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresRepository wires a sql.DB implementation. An empty schema uses
// the connection's search path.
func NewPostgresRepository(db *sql.DB, schema string) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		schema: schema,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the ledger and cursor tables if they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range r.schemaStatements() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) schemaStatements() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    source TEXT NOT NULL,
    url TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (source, url)
)`, r.table(historyTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    source TEXT NOT NULL,
    query TEXT NOT NULL,
    position INTEGER NOT NULL CHECK (position >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (source, query)
)`, r.table(cursorTable)),
	}
}

// Ledger returns the download ledger of one source.
func (r *PostgresRepository) Ledger(source string) state.Ledger {
	return &postgresLedger{repo: r, source: source}
}

type postgresLedger struct {
	repo   *PostgresRepository
	source string
}

func (l *postgresLedger) Contains(ctx context.Context, url string) (bool, error) {
	query, args, err := l.repo.containsQuery(l.source, url)
	if err != nil {
		return false, fmt.Errorf("build contains query: %w", err)
	}
	var one int
	err = l.repo.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query history: %w", err)
	}
	return true, nil
}

func (l *postgresLedger) Record(ctx context.Context, url string) error {
	query, args, err := l.repo.recordQuery(l.source, url)
	if err != nil {
		return fmt.Errorf("build record query: %w", err)
	}
	if _, err := l.repo.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// LoadPositions reads every stored cursor.
func (r *PostgresRepository) LoadPositions(ctx context.Context) (state.Positions, error) {
	query, args, err := r.sb.Select("source", "query", "position").From(r.table(cursorTable)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build positions query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}

	positions := state.Positions{}
	for rows.Next() {
		var (
			source, q string
			position  int
		)
		if err := rows.Scan(&source, &q, &position); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if positions[source] == nil {
			positions[source] = map[string]int{}
		}
		positions[source][q] = position
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return positions, nil
}

// SavePositions upserts the whole map in one statement.
func (r *PostgresRepository) SavePositions(ctx context.Context, positions state.Positions) error {
	query, args, err := r.upsertPositionsQuery(positions)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if query == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert positions: %w", err)
	}
	return nil
}

func (r *PostgresRepository) containsQuery(source, url string) (string, []interface{}, error) {
	return r.sb.Select("1").
		From(r.table(historyTable)).
		Where(sq.Eq{"source": source, "url": url}).
		Limit(1).
		ToSql()
}

func (r *PostgresRepository) recordQuery(source, url string) (string, []interface{}, error) {
	return r.sb.Insert(r.table(historyTable)).
		Columns("source", "url").
		Values(source, url).
		Suffix("ON CONFLICT (source, url) DO NOTHING").
		ToSql()
}

func (r *PostgresRepository) upsertPositionsQuery(positions state.Positions) (string, []interface{}, error) {
	insert := r.sb.Insert(r.table(cursorTable)).Columns("source", "query", "position")
	rows := 0
	for _, source := range sortedSources(positions) {
		for _, q := range sortedQueries(positions[source]) {
			insert = insert.Values(source, q, positions[source][q])
			rows++
		}
	}
	if rows == 0 {
		return "", nil, nil
	}
	return insert.
		Suffix("ON CONFLICT (source, query) DO UPDATE SET position = EXCLUDED.position, updated_at = NOW()").
		ToSql()
}

func (r *PostgresRepository) table(name string) string {
	if r.schema == "" {
		return pq.QuoteIdentifier(name)
	}
	return pq.QuoteIdentifier(r.schema) + "." + pq.QuoteIdentifier(name)
}

func sortedSources(p state.Positions) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedQueries(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
