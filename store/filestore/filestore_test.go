package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.prcn")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	addr, err := s.Put(ctx, []byte("envelope bytes"))
	require.NoError(t, err)
	got, err := s.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("envelope bytes"), got)
}

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.prcn")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	a, err := s.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	b, err := s.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestGetMissingFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.prcn")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var unknown [block.HashSize]byte
	unknown[0] = 0xff
	_, err = s.Get(ctx, block.RealAddress(unknown))
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestEraseFreesSpaceForReuse(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.prcn")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	addr, err := s.Put(ctx, []byte("to be erased"))
	require.NoError(t, err)
	require.NoError(t, s.Erase(ctx, addr))
	require.NoError(t, s.Erase(ctx, addr), "erasing twice must not error")

	_, err = s.Get(ctx, addr)
	assert.ErrorIs(t, err, errs.NotFound)

	// A later Put that fits the freed extent must succeed.
	_, err = s.Put(ctx, []byte("reused space"))
	require.NoError(t, err)
}

func TestSetLatestThenLatest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.prcn")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	addr, err := s.Put(ctx, []byte("root block"))
	require.NoError(t, err)
	require.NoError(t, s.SetLatest(ctx, store.RootLineage, addr))

	got, err := s.Latest(ctx, store.RootLineage)
	require.NoError(t, err)
	assert.True(t, addr.Equal(got))
}

func TestReopenReplaysLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.prcn")

	s1, err := Open(path)
	require.NoError(t, err)
	addr, err := s1.Put(ctx, []byte("persisted envelope"))
	require.NoError(t, err)
	require.NoError(t, s1.SetLatest(ctx, store.RootLineage, addr))
	require.NoError(t, s1.Flush(ctx))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted envelope"), got)

	latest, err := s2.Latest(ctx, store.RootLineage)
	require.NoError(t, err)
	assert.True(t, addr.Equal(latest))
}

func TestReopenReplaysErase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.prcn")

	s1, err := Open(path)
	require.NoError(t, err)
	addr, err := s1.Put(ctx, []byte("goes away"))
	require.NoError(t, err)
	require.NoError(t, s1.Erase(ctx, addr))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.Get(ctx, addr)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-store.bin")
	garbage := make([]byte, headerSize)
	copy(garbage, "NOPE")
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, errs.IntegrityFailure)
}
