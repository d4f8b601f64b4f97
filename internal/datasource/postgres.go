package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/corintai/corint/internal/value"
)

// PostgresStore serves feature queries from PostgreSQL. Event tables need a
// `created_at timestamptz` column for window filtering; lookup tables need
// `key text` and `value jsonb` columns.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to PostgreSQL with the given DSN.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Rows returns the table's records inside the trailing window.
func (s *PostgresStore) Rows(ctx context.Context, table string, window time.Duration) ([]Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s", quoteIdent(table)) //nolint:gosec // identifier is quoted
	args := []any{}
	if window > 0 {
		query += " WHERE created_at >= $1"
		args = append(args, time.Now().Add(-window))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		cells := make([]any, len(columns))
		refs := make([]any, len(columns))
		for i := range cells {
			refs[i] = &cells[i]
		}
		if err := rows.Scan(refs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = fromSQL(cells[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Get returns the lookup value for a key, or Null when absent.
func (s *PostgresStore) Get(ctx context.Context, table string, key value.Value) (value.Value, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", quoteIdent(table)) //nolint:gosec // identifier is quoted
	var raw any
	err := s.db.QueryRowContext(ctx, query, key.String()).Scan(&raw)
	if err == sql.ErrNoRows {
		return value.Null(), nil
	}
	if err != nil {
		return value.Null(), fmt.Errorf("failed to look up %q in %q: %w", key, table, err)
	}
	return fromSQL(raw), nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// fromSQL converts a scanned cell into a Value. Timestamps become RFC 3339
// strings so conditions can compare them lexically.
func fromSQL(cell any) value.Value {
	switch v := cell.(type) {
	case []byte:
		return value.String(string(v))
	case time.Time:
		return value.String(v.UTC().Format(time.RFC3339))
	default:
		return value.FromAny(v)
	}
}

// quoteIdent quotes a table identifier. Table names come from compiled
// feature declarations, not request input, but quoting keeps them inert.
func quoteIdent(ident string) string {
	out := make([]rune, 0, len(ident)+2)
	out = append(out, '"')
	for _, r := range ident {
		if r == '"' {
			continue
		}
		out = append(out, r)
	}
	return string(append(out, '"'))
}
