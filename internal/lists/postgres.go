package lists

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/corintai/corint/internal/value"
)

// PostgresService serves lists from a `list_members(list_id text, member
// text)` table. Contains relies on the composite primary key index.
type PostgresService struct {
	db    *sql.DB
	table string
}

var _ Service = (*PostgresService)(nil)

// OpenPostgres connects to the list table. An empty table name defaults to
// "list_members".
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresService, error) {
	if table == "" {
		table = "list_members"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return &PostgresService{db: db, table: table}, nil
}

func (s *PostgresService) Contains(ctx context.Context, listID string, v value.Value) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE list_id = $1 AND member = $2)", s.table)
	var found bool
	if err := s.db.QueryRowContext(ctx, query, listID, v.String()).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check list %q: %w", listID, err)
	}
	return found, nil
}

func (s *PostgresService) Add(ctx context.Context, listID string, v value.Value) error {
	query := fmt.Sprintf("INSERT INTO %s (list_id, member) VALUES ($1, $2) ON CONFLICT DO NOTHING", s.table)
	if _, err := s.db.ExecContext(ctx, query, listID, v.String()); err != nil {
		return fmt.Errorf("failed to add to list %q: %w", listID, err)
	}
	return nil
}

func (s *PostgresService) Remove(ctx context.Context, listID string, v value.Value) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE list_id = $1 AND member = $2", s.table)
	if _, err := s.db.ExecContext(ctx, query, listID, v.String()); err != nil {
		return fmt.Errorf("failed to remove from list %q: %w", listID, err)
	}
	return nil
}

func (s *PostgresService) GetAll(ctx context.Context, listID string) ([]value.Value, error) {
	query := fmt.Sprintf("SELECT member FROM %s WHERE list_id = $1 ORDER BY member", s.table)
	rows, err := s.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to read list %q: %w", listID, err)
	}
	defer func() { _ = rows.Close() }()

	var members []value.Value
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		members = append(members, value.String(member))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if members == nil {
		return nil, ErrUnknownList
	}
	return members, nil
}

func (s *PostgresService) Close() error { return s.db.Close() }
