//go:build !unix

package filestore

import "os"

// mapFile falls back to a plain read into a heap buffer on platforms
// without syscall.Mmap wired up (mirrors internal/mmfile's
// windows/fallback split).
func mapFile(f *os.File, size int64) ([]byte, func() error, error) {
	buf := make([]byte, size)
	if size > 0 {
		if _, err := f.ReadAt(buf, 0); err != nil {
			return nil, nil, err
		}
	}
	return buf, func() error { return nil }, nil
}
