package filestore

import "sort"

// extent is a free byte range available for reuse.
type extent struct {
	offset int64
	length int64
}

// freeList is a coalescing first-fit free list, a deliberately simplified
// cousin of hive/alloc's segregated size-class heaps: content-addressed
// cells cluster much more tightly in size than registry cells do, so one
// sorted list with neighbor coalescing (the same "byOff adjacency merge"
// idea fastalloc uses per size class) gets most of the benefit without
// the size-class bookkeeping.
type freeList struct {
	extents []extent // kept sorted by offset
}

// add records a freed range, merging it with an immediately adjacent
// neighbor on either side if one exists.
func (f *freeList) add(offset, length int64) {
	i := sort.Search(len(f.extents), func(i int) bool { return f.extents[i].offset >= offset })
	f.extents = append(f.extents, extent{})
	copy(f.extents[i+1:], f.extents[i:])
	f.extents[i] = extent{offset: offset, length: length}

	// merge with the following neighbor
	if i+1 < len(f.extents) && f.extents[i].offset+f.extents[i].length == f.extents[i+1].offset {
		f.extents[i].length += f.extents[i+1].length
		f.extents = append(f.extents[:i+1], f.extents[i+2:]...)
	}
	// merge with the preceding neighbor
	if i > 0 && f.extents[i-1].offset+f.extents[i-1].length == f.extents[i].offset {
		f.extents[i-1].length += f.extents[i].length
		f.extents = append(f.extents[:i], f.extents[i+1:]...)
	}
}

// take removes and returns the offset of the first extent at least n bytes
// long, re-inserting any leftover remainder. Reports false if nothing fits.
func (f *freeList) take(n int64) (int64, bool) {
	for i, e := range f.extents {
		if e.length < n {
			continue
		}
		f.extents = append(f.extents[:i], f.extents[i+1:]...)
		if leftover := e.length - n; leftover > 0 {
			f.add(e.offset+n, leftover)
		}
		return e.offset, true
	}
	return 0, false
}
