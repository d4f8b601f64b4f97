package lists

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corintai/corint/internal/value"
)

func TestMemoryService(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewMemoryService(map[string][]value.Value{
		"blocklist": {value.String("user-7"), value.String("user-9")},
	})

	ok, err := svc.Contains(ctx, "blocklist", value.String("user-7"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Contains(ctx, "blocklist", value.String("user-1"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Contains(ctx, "ghost", value.String("user-7"))
	require.ErrorIs(t, err, ErrUnknownList)

	// Add creates missing lists; re-adding is a no-op.
	require.NoError(t, svc.Add(ctx, "watchlist", value.String("user-2")))
	require.NoError(t, svc.Add(ctx, "watchlist", value.String("user-2")))
	members, err := svc.GetAll(ctx, "watchlist")
	require.NoError(t, err)
	assert.Equal(t, []value.Value{value.String("user-2")}, members)

	require.NoError(t, svc.Remove(ctx, "blocklist", value.String("user-7")))
	members, err = svc.GetAll(ctx, "blocklist")
	require.NoError(t, err)
	assert.Equal(t, []value.Value{value.String("user-9")}, members)

	require.ErrorIs(t, svc.Remove(ctx, "ghost", value.String("x")), ErrUnknownList)
}

func TestMemoryServiceSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewMemoryService(map[string][]value.Value{
		"blocklist": {value.String("a"), value.String("b")},
	})

	snap, err := svc.Snapshot(ctx, "blocklist")
	require.NoError(t, err)
	assert.Equal(t, value.List(value.String("a"), value.String("b")), snap)

	// A snapshot taken before a write keeps its members.
	require.NoError(t, svc.Add(ctx, "blocklist", value.String("c")))
	assert.Equal(t, value.List(value.String("a"), value.String("b")), snap)

	snap, err = svc.Snapshot(ctx, "blocklist")
	require.NoError(t, err)
	assert.Equal(t, value.List(value.String("a"), value.String("b"), value.String("c")), snap)

	snap, err = svc.Snapshot(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, snap.IsNull())
}

func TestProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewProvider(NewMemoryService(map[string][]value.Value{
		"blocklist": {value.String("user-7")},
	}))

	v, err := p.List(ctx, "blocklist")
	require.NoError(t, err)
	assert.Equal(t, value.List(value.String("user-7")), v)

	// Unknown lists degrade to Null so membership tests absorb.
	v, err = p.List(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestFileService(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeList(t, dir, "blocklist.txt", "# bad actors\nuser-7\nuser-9\n\n")
	writeList(t, dir, "notes.md", "not a list\n")

	svc, err := NewFileService(dir, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, svc.Close()) }()

	ctx := context.Background()
	ok, err := svc.Contains(ctx, "blocklist", value.String("user-7"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Contains(ctx, "blocklist", value.String("# bad actors"))
	require.NoError(t, err)
	assert.False(t, ok, "comment lines are not members")

	// Only .txt files define lists.
	_, err = svc.Contains(ctx, "notes", value.String("not a list"))
	require.ErrorIs(t, err, ErrUnknownList)

	require.ErrorIs(t, svc.Add(ctx, "blocklist", value.String("x")), ErrReadOnly)
	require.ErrorIs(t, svc.Remove(ctx, "blocklist", value.String("x")), ErrReadOnly)
}

func TestFileServiceReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeList(t, dir, "blocklist.txt", "user-7\n")

	svc, err := NewFileService(dir, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, svc.Close()) }()

	ctx := context.Background()
	writeList(t, dir, "blocklist.txt", "user-7\nuser-8\n")

	require.Eventually(t, func() bool {
		ok, err := svc.Contains(ctx, "blocklist", value.String("user-8"))
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)

	// A new file becomes a new list.
	writeList(t, dir, "allowlist.txt", "merchant-1\n")
	require.Eventually(t, func() bool {
		ok, err := svc.Contains(ctx, "allowlist", value.String("merchant-1"))
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)
}

func writeList(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}
