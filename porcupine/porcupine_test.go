package porcupine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/config"
	"github.com/n1e/porcupine/crypto"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/nest"
	"github.com/n1e/porcupine/store"
	"github.com/n1e/porcupine/store/memstore"
)

// smallDescriptor returns a Descriptor whose extent is sized, in terms of
// this implementation's own footprint accounting (nodule.NodeOverhead
// plus per-inlet key/value/bookkeeping cost), to fit exactly perQuill
// fixed-size values per quill. The seed scenarios in spec.md §8 assume a
// specific overhead model from the original source that this
// implementation's footprint accounting does not reproduce byte for
// byte, so tests here assert the scenario's *behavior* (height, split
// count, invariants) rather than its literal byte arithmetic.
func smallDescriptor(perQuill int, valueSize int) config.Descriptor {
	const quillInletOverhead = 4 // matches nodule.QuillInlet.Footprint's documented bookkeeping cost
	inletFootprint := block.KeySize + quillInletOverhead + valueSize
	d := config.DefaultDescriptor()
	d.Extent = 64 /* nodule.NodeOverhead */ + perQuill*inletFootprint
	d.Balancing = 0.5
	return d
}

func openTestTree(t *testing.T, descriptor config.Descriptor) *Porcupine {
	t.Helper()
	repo := memstore.New()
	t.Cleanup(func() { repo.Close() })
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	var symKey crypto.SymmetricKey
	n := nest.New(repo, identity, symKey, descriptor.ResidentCapacity)
	p, err := Open(context.Background(), repo, n, store.RootLineage, descriptor)
	require.NoError(t, err)
	return p
}

func reopen(t *testing.T, repo store.Repository, descriptor config.Descriptor, identity crypto.Identity) *Porcupine {
	t.Helper()
	var symKey crypto.SymmetricKey
	n := nest.New(repo, identity, symKey, descriptor.ResidentCapacity)
	p, err := Open(context.Background(), repo, n, store.RootLineage, descriptor)
	require.NoError(t, err)
	return p
}

func keyOf(v uint64) block.Key { return block.KeyFromUint64(v) }

// --- Seed scenario 1: grow then shrink ---

func TestSeedGrowThenShrink(t *testing.T) {
	ctx := context.Background()
	p := openTestTree(t, config.DefaultDescriptor())

	require.NoError(t, p.Add(ctx, keyOf(1), block.Bytes("v1")))
	require.Equal(t, 1, p.Height())

	require.NoError(t, p.Remove(ctx, keyOf(1)))
	assert.Equal(t, 0, p.Height())
	assert.True(t, p.root.IsNull())
	require.NoError(t, p.Check(ctx))
}

// --- Seed scenario 2/3: split on overflow, cascading split ---

func TestSeedSplitOnOverflow(t *testing.T) {
	ctx := context.Background()
	descriptor := smallDescriptor(32, 4)
	p := openTestTree(t, descriptor)

	for i := uint64(1); i <= 32; i++ {
		require.NoError(t, p.Add(ctx, keyOf(i), block.Bytes("abcd")))
	}
	require.Equal(t, 1, p.Height(), "32 inlets should still fit in a single quill")

	require.NoError(t, p.Add(ctx, keyOf(33), block.Bytes("abcd")))
	assert.Equal(t, 2, p.Height(), "the 33rd insert should overflow the root quill")
	require.NoError(t, p.Check(ctx))

	for i := uint64(1); i <= 33; i++ {
		v, err := p.Locate(ctx, keyOf(i))
		require.NoError(t, err)
		assert.Equal(t, "abcd", string(v.Bytes()))
	}
}

func TestSeedCascadingSplit(t *testing.T) {
	ctx := context.Background()
	descriptor := smallDescriptor(32, 4)
	p := openTestTree(t, descriptor)

	const n = 1024
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, p.Add(ctx, keyOf(i), block.Bytes("abcd")))
	}
	require.NoError(t, p.Check(ctx))
	assert.GreaterOrEqual(t, p.Height(), 2, "1024 inlets must have cascaded past a single split")

	for i := uint64(1); i <= n; i++ {
		ok, err := p.Exist(ctx, keyOf(i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

// --- Seed scenario 4: prefer-dirty-merge (behavioral: invariants survive a
// range removal that forces merges) ---

func TestSeedPreferDirtyMerge(t *testing.T) {
	ctx := context.Background()
	descriptor := smallDescriptor(32, 4)
	p := openTestTree(t, descriptor)

	for i := uint64(1); i <= 1024; i++ {
		require.NoError(t, p.Add(ctx, keyOf(i), block.Bytes("abcd")))
	}
	require.NoError(t, p.Checkpoint(ctx))

	for i := uint64(33); i <= 48; i++ {
		require.NoError(t, p.Remove(ctx, keyOf(i)))
	}
	require.NoError(t, p.Check(ctx), "merges triggered by the removal run must leave every invariant intact")

	for i := uint64(1); i <= 1024; i++ {
		want := i < 33 || i > 48
		ok, err := p.Exist(ctx, keyOf(i))
		require.NoError(t, err)
		assert.Equal(t, want, ok, "key %d", i)
	}

	require.NoError(t, p.Checkpoint(ctx), "exactly one write-back per modified nodule should succeed at the next checkpoint")
}

// --- Seed scenario 5: shrink on root ---

func TestSeedShrinkOnRoot(t *testing.T) {
	ctx := context.Background()
	descriptor := smallDescriptor(32, 4)
	p := openTestTree(t, descriptor)

	for i := uint64(1); i <= 33; i++ {
		require.NoError(t, p.Add(ctx, keyOf(i), block.Bytes("abcd")))
	}
	require.Equal(t, 2, p.Height())

	for i := uint64(33); i >= 2; i-- {
		require.NoError(t, p.Remove(ctx, keyOf(i)))
	}
	assert.Equal(t, 1, p.Height(), "removing down to a single surviving child should collapse the root")
	root, err := p.root.Resolve(ctx)
	require.NoError(t, err)
	assert.Nil(t, root.Parent())
	require.NoError(t, p.Check(ctx))
}

// --- Seed scenario 6: checkpoint atomicity under a simulated StoreFailure ---

type flakyRepository struct {
	store.Repository
	failOnPut int
	puts      int
}

func (f *flakyRepository) Put(ctx context.Context, envelope []byte) (block.Address, error) {
	f.puts++
	if f.puts == f.failOnPut {
		return block.Address{}, fmt.Errorf("flaky: simulated failure on put #%d: %w", f.puts, errs.StoreFailure)
	}
	return f.Repository.Put(ctx, envelope)
}

func TestSeedCheckpointAtomicity(t *testing.T) {
	ctx := context.Background()
	descriptor := smallDescriptor(32, 4)
	backing := memstore.New()
	flaky := &flakyRepository{Repository: backing, failOnPut: 3}

	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	var symKey crypto.SymmetricKey
	n := nest.New(flaky, identity, symKey, descriptor.ResidentCapacity)
	p, err := Open(ctx, flaky, n, store.RootLineage, descriptor)
	require.NoError(t, err)

	for i := uint64(1); i <= 64; i++ {
		require.NoError(t, p.Add(ctx, keyOf(i), block.Bytes("abcd")))
	}

	err = p.Checkpoint(ctx)
	require.Error(t, err, "the simulated failure on the 3rd put must surface")

	for i := uint64(1); i <= 64; i++ {
		v, err := p.Locate(ctx, keyOf(i))
		require.NoError(t, err, "in-memory state must survive a failed checkpoint")
		assert.Equal(t, "abcd", string(v.Bytes()))
	}

	flaky.failOnPut = 0 // stop failing
	require.NoError(t, p.Checkpoint(ctx), "a retried checkpoint must succeed")
	require.NoError(t, p.Check(ctx))
}

// --- Properties ---

func TestPropertyRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := openTestTree(t, smallDescriptor(16, 8))
	model := make(map[uint64][]byte)

	ops := []struct {
		key uint64
		add bool
	}{
		{10, true}, {20, true}, {5, true}, {10, false}, {30, true},
		{20, false}, {40, true}, {5, false}, {50, true}, {30, false},
	}
	for _, op := range ops {
		k := keyOf(op.key)
		if op.add {
			v := []byte(fmt.Sprintf("value-%d", op.key))
			err := p.Add(ctx, k, block.Bytes(v))
			if _, exists := model[op.key]; exists {
				require.ErrorIs(t, err, errs.AlreadyExists)
				continue
			}
			require.NoError(t, err)
			model[op.key] = v
		} else {
			err := p.Remove(ctx, k)
			if _, exists := model[op.key]; !exists {
				require.ErrorIs(t, err, errs.NotFound)
				continue
			}
			require.NoError(t, err)
			delete(model, op.key)
		}
	}

	for k, want := range model {
		got, err := p.Locate(ctx, keyOf(k))
		require.NoError(t, err)
		assert.Equal(t, want, got.Bytes())
	}
	for k := uint64(0); k < 64; k++ {
		_, wantPresent := model[k]
		gotPresent, err := p.Exist(ctx, keyOf(k))
		require.NoError(t, err)
		assert.Equal(t, wantPresent, gotPresent, "key %d", k)
	}
}

func TestPropertyIdempotentCheckpoint(t *testing.T) {
	ctx := context.Background()
	tracker := &countingRepository{Repository: memstore.New()}
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	var symKey crypto.SymmetricKey
	descriptor := smallDescriptor(16, 8)
	n := nest.New(tracker, identity, symKey, descriptor.ResidentCapacity)
	p, err := Open(ctx, tracker, n, store.RootLineage, descriptor)
	require.NoError(t, err)

	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, p.Add(ctx, keyOf(i), block.Bytes("payload")))
	}
	require.NoError(t, p.Checkpoint(ctx))
	puts := tracker.puts
	require.Greater(t, puts, 0)
	addrFirst := p.root.Address()

	require.NoError(t, p.Checkpoint(ctx), "checkpointing an already-clean tree must succeed")
	assert.Equal(t, puts, tracker.puts, "a second checkpoint with nothing dirty must write zero blocks")
	assert.Equal(t, addrFirst, p.root.Address())
}

type countingRepository struct {
	store.Repository
	puts int
}

func (c *countingRepository) Put(ctx context.Context, envelope []byte) (block.Address, error) {
	c.puts++
	return c.Repository.Put(ctx, envelope)
}

func TestPropertyBoundarySplit(t *testing.T) {
	ctx := context.Background()
	const quillInletOverhead = 4
	// extent chosen so that one inlet exactly reaches NodeOverhead +
	// inletFootprint; a value one byte larger must overflow it.
	valueSize := 32
	inletFootprint := block.KeySize + quillInletOverhead + valueSize
	descriptor := config.DefaultDescriptor()
	descriptor.Extent = 64 + inletFootprint
	descriptor.Balancing = 0.25

	p := openTestTree(t, descriptor)
	value := make([]byte, valueSize)
	require.NoError(t, p.Add(ctx, keyOf(1), block.Bytes(value)))
	assert.Equal(t, 1, p.Height(), "an inlet exactly at the extent must not split")

	p2 := openTestTree(t, descriptor)
	big := make([]byte, valueSize+1)
	require.NoError(t, p2.Add(ctx, keyOf(1), block.Bytes(big)))
	require.Greater(t, p2.Height(), 1, "an inlet one byte past the extent must split")
	require.NoError(t, p2.Check(ctx))
}

func TestPropertyBoundaryShrinkToZero(t *testing.T) {
	ctx := context.Background()
	p := openTestTree(t, smallDescriptor(16, 8))

	keys := []uint64{5, 17, 3, 40, 21, 9, 33, 1, 12, 28}
	for _, k := range keys {
		require.NoError(t, p.Add(ctx, keyOf(k), block.Bytes("x")))
	}
	require.Greater(t, p.Height(), 0)

	for _, k := range keys {
		require.NoError(t, p.Remove(ctx, keyOf(k)))
	}
	assert.Equal(t, 0, p.Height())
	assert.True(t, p.root.IsNull())
}

func TestReopenRecoversRoot(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	descriptor := smallDescriptor(16, 8)
	var symKey crypto.SymmetricKey
	n := nest.New(repo, identity, symKey, descriptor.ResidentCapacity)
	p, err := Open(ctx, repo, n, store.RootLineage, descriptor)
	require.NoError(t, err)

	for i := uint64(1); i <= 64; i++ {
		require.NoError(t, p.Add(ctx, keyOf(i), block.Bytes("abcd")))
	}
	require.NoError(t, p.Checkpoint(ctx))
	wantHeight := p.Height()

	reopened := reopen(t, repo, descriptor, identity)
	assert.Equal(t, wantHeight, reopened.Height())
	for i := uint64(1); i <= 64; i++ {
		v, err := reopened.Locate(ctx, keyOf(i))
		require.NoError(t, err)
		assert.Equal(t, "abcd", string(v.Bytes()))
	}
	require.NoError(t, reopened.Check(ctx))
}

func TestAddDuplicateFails(t *testing.T) {
	ctx := context.Background()
	p := openTestTree(t, config.DefaultDescriptor())
	require.NoError(t, p.Add(ctx, keyOf(1), block.Bytes("v")))
	err := p.Add(ctx, keyOf(1), block.Bytes("v2"))
	assert.ErrorIs(t, err, errs.AlreadyExists)
}

func TestRemoveMissingFails(t *testing.T) {
	ctx := context.Background()
	p := openTestTree(t, config.DefaultDescriptor())
	err := p.Remove(ctx, keyOf(1))
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestLocateMissingFails(t *testing.T) {
	ctx := context.Background()
	p := openTestTree(t, config.DefaultDescriptor())
	_, err := p.Locate(ctx, keyOf(1))
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestConsultPagesInOrder(t *testing.T) {
	ctx := context.Background()
	p := openTestTree(t, smallDescriptor(16, 8))
	for i := uint64(1); i <= 100; i++ {
		require.NoError(t, p.Add(ctx, keyOf(i), block.Bytes(fmt.Sprintf("v%d", i))))
	}

	var got []uint64
	offset := 0
	for {
		entries, err := p.Consult(ctx, offset, 7)
		require.NoError(t, err)
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			got = append(got, e.Key.Uint64())
		}
		offset += len(entries)
	}

	require.Len(t, got, 100)
	for i, k := range got {
		assert.Equal(t, uint64(i+1), k)
	}
}
