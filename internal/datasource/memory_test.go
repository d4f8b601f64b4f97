package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corintai/corint/internal/value"
)

func TestMemoryStoreRowsWindow(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	now := time.Now()
	s.clock = func() time.Time { return now }

	s.Insert("transactions", now.Add(-2*time.Hour), Row{"amount": value.Number(1)})
	s.Insert("transactions", now.Add(-30*time.Minute), Row{"amount": value.Number(2)})
	s.Insert("transactions", now, Row{"amount": value.Number(3)})

	rows, err := s.Rows(context.Background(), "transactions", time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, value.Number(2), rows[0]["amount"])
	assert.Equal(t, value.Number(3), rows[1]["amount"])

	// A zero window returns everything.
	rows, err = s.Rows(context.Background(), "transactions", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestMemoryStoreUnknownTable(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	_, err := s.Rows(context.Background(), "ghost", time.Hour)
	require.ErrorIs(t, err, ErrUnknownTable)

	_, err = s.Get(context.Background(), "ghost", value.String("k"))
	require.ErrorIs(t, err, ErrUnknownTable)
}

func TestMemoryStoreLookup(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.Put("user_profiles", "user-7", value.Object(map[string]value.Value{
		"country": value.String("US"),
	}))

	v, err := s.Get(context.Background(), "user_profiles", value.String("user-7"))
	require.NoError(t, err)
	assert.Equal(t, value.String("US"), v.Field("country"))

	// Absent keys are Null, not errors.
	v, err = s.Get(context.Background(), "user_profiles", value.String("user-404"))
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestMemoryStoreLookupOnlyTableHasNoRows(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.Put("user_profiles", "user-7", value.String("x"))

	rows, err := s.Rows(context.Background(), "user_profiles", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
