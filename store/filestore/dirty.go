package filestore

// dirtyTracker records whether any writes have happened since the last
// Flush, grounded on hive/dirty.Tracker's Add/Flush shape. Filestore
// writes go straight through WriteAt rather than through a mmapped
// writable view, so there is no per-range msync to coalesce; all
// dirtyTracker needs to decide is whether Flush has anything to do.
type dirtyTracker struct {
	pending bool
}

func (t *dirtyTracker) add(_ int64, _ int64) { t.pending = true }
func (t *dirtyTracker) empty() bool          { return !t.pending }
func (t *dirtyTracker) clear()               { t.pending = false }
