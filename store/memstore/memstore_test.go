package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	addr, err := s.Put(ctx, []byte("envelope bytes"))
	require.NoError(t, err)

	got, err := s.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("envelope bytes"), got)
}

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	b, err := s.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	assert.True(t, a.Equal(b), "putting identical bytes twice must return the same address")
}

func TestGetMissingFails(t *testing.T) {
	ctx := context.Background()
	s := New()
	var unknown [block.HashSize]byte
	unknown[0] = 0xff
	_, err := s.Get(ctx, block.RealAddress(unknown))
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestEraseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	addr, err := s.Put(ctx, []byte("v"))
	require.NoError(t, err)

	require.NoError(t, s.Erase(ctx, addr))
	require.NoError(t, s.Erase(ctx, addr), "erasing twice must not error")

	_, err = s.Get(ctx, addr)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestLatestUnsetFails(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Latest(ctx, store.RootLineage)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestSetLatestThenLatest(t *testing.T) {
	ctx := context.Background()
	s := New()
	addr, err := s.Put(ctx, []byte("root block"))
	require.NoError(t, err)

	require.NoError(t, s.SetLatest(ctx, store.RootLineage, addr))
	got, err := s.Latest(ctx, store.RootLineage)
	require.NoError(t, err)
	assert.True(t, addr.Equal(got))
}
