// Package datasource abstracts the historical event store that aggregate
// and lookup features read from. Backends return rows as dynamic values;
// unknown columns surface as Null downstream rather than failing the
// decision.
package datasource

import (
	"context"
	"errors"
	"time"

	"github.com/corintai/corint/internal/value"
)

// ErrUnknownTable is returned for tables no backend row set covers.
var ErrUnknownTable = errors.New("unknown table")

// Row is one record of a table, keyed by column name.
type Row map[string]value.Value

// Store serves feature queries.
type Store interface {
	// Rows returns the records of a table whose timestamp falls within the
	// trailing window. A zero window returns everything.
	Rows(ctx context.Context, table string, window time.Duration) ([]Row, error)

	// Get returns the value stored under a key in a lookup table, or Null
	// when the key is absent.
	Get(ctx context.Context, table string, key value.Value) (value.Value, error)

	Close() error
}
