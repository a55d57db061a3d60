package nodule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
)

// leafHandle wraps a freshly created, resident Quill as a child handle,
// mirroring how package porcupine attaches a newborn leaf to its seam.
func leafHandle(keys ...uint64) *Handle {
	q := NewQuill()
	for _, v := range keys {
		q.Insert(k(v), block.Bytes("v"))
	}
	return NewResidentHandle(q, nil)
}

func TestSeamLocatePicksLeastGreaterOrEqual(t *testing.T) {
	s := NewSeam()
	s.Insert(k(10), leafHandle(1, 10))
	s.Insert(k(20), leafHandle(11, 20))
	s.Insert(k(30), leafHandle(21, 30))

	inlet, err := s.Locate(k(15))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), inlet.Key.Uint64())

	inlet, err = s.Locate(k(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), inlet.Key.Uint64())

	inlet, err = s.Locate(k(999))
	require.NoError(t, err)
	assert.Equal(t, uint64(30), inlet.Key.Uint64(), "keys past the last summary key fall into the rightmost child")
}

func TestSeamLocateEmptyFails(t *testing.T) {
	s := NewSeam()
	_, err := s.Locate(k(1))
	assert.ErrorIs(t, err, errs.Empty)
}

func TestSeamSearchDescendsToQuill(t *testing.T) {
	s := NewSeam()
	s.Insert(k(10), leafHandle(1, 10))
	s.Insert(k(20), leafHandle(11, 20))

	q, err := s.Search(context.Background(), k(15))
	require.NoError(t, err)
	assert.True(t, q.Exist(k(11)))
	assert.False(t, q.Exist(k(1)))
}

func TestSeamInsertReparentsResidentChild(t *testing.T) {
	s := NewSeam()
	child := leafHandle(1)
	s.Insert(k(1), child)

	n, ok := child.Resident()
	require.True(t, ok)
	parent := n.Parent()
	require.NotNil(t, parent)
	resident, ok := parent.Resident()
	require.True(t, ok)
	assert.Same(t, s, resident)
}

func TestSeamInletForChild(t *testing.T) {
	s := NewSeam()
	a := leafHandle(1)
	b := leafHandle(2)
	s.Insert(k(1), a)
	s.Insert(k(2), b)

	i, err := s.InletForChild(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.inlets[i].Key.Uint64())

	_, err = s.InletForChild(leafHandle(3))
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestSeamDeleteMissingFails(t *testing.T) {
	s := NewSeam()
	err := s.Delete(k(1))
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestSeamPropagateRenamesInlet(t *testing.T) {
	s := NewSeam()
	s.Insert(k(10), leafHandle(1, 10))
	s.Insert(k(20), leafHandle(11, 20))

	err := s.Propagate(k(10), k(15))
	require.NoError(t, err)

	_, ok := s.indexOfKey(k(10))
	assert.False(t, ok)
	_, ok = s.indexOfKey(k(15))
	assert.True(t, ok)
}

func TestSeamPropagatePropagatesUpwardOnNewMayor(t *testing.T) {
	grandparent := NewSeam()
	parent := NewSeam()
	grandparent.Insert(k(20), NewResidentHandle(parent, nil))
	parent.SetParent(NewResidentHandle(grandparent, nil))

	parent.Insert(k(20), leafHandle(11, 20))

	err := parent.Propagate(k(20), k(25))
	require.NoError(t, err)

	_, ok := grandparent.indexOfKey(k(25))
	assert.True(t, ok, "renaming a seam's mayor must propagate to its parent's inlet")
}

func TestSeamPropagateMissingFails(t *testing.T) {
	s := NewSeam()
	err := s.Propagate(k(1), k(2))
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestSeamSplitAtReparentsMovedChildren(t *testing.T) {
	s := NewSeam()
	for v := uint64(1); v <= 10; v++ {
		s.Insert(k(v*10), leafHandle(v))
	}
	footprint := SeamInlet{Key: k(1)}.Footprint()
	extent := NodeOverhead + 4*footprint
	right := s.SplitAt(extent)

	require.Greater(t, s.Len(), 0)
	require.Greater(t, right.Len(), 0)
	assert.Equal(t, 10, s.Len()+right.Len())

	for _, inlet := range right.inlets {
		n, ok := inlet.Child.Resident()
		require.True(t, ok)
		parentHandle := n.Parent()
		resident, ok := parentHandle.Resident()
		require.True(t, ok)
		assert.Same(t, right, resident, "every child moved to the right sibling must be reparented to it")
	}
}

func TestSeamMergeReparentsAndRestoresSingleNode(t *testing.T) {
	left := NewSeam()
	right := NewSeam()
	left.Insert(k(10), leafHandle(1))
	right.Insert(k(20), leafHandle(2))

	combined := left.CombinedFootprint(right)
	left.Merge(right)

	assert.Equal(t, 2, left.Len())
	assert.Equal(t, combined, left.Footprint())
	assert.True(t, right.IsEmpty())

	for _, inlet := range left.inlets {
		n, ok := inlet.Child.Resident()
		require.True(t, ok)
		parentHandle := n.Parent()
		resident, ok := parentHandle.Resident()
		require.True(t, ok)
		assert.Same(t, left, resident)
	}
}

func TestSeamMayorMaidenEmptyFails(t *testing.T) {
	s := NewSeam()
	_, err := s.Mayor()
	assert.ErrorIs(t, err, errs.Empty)
	_, err = s.Maiden()
	assert.ErrorIs(t, err, errs.Empty)
}
