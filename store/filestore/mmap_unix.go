//go:build unix

package filestore

import (
	"errors"
	"os"
	"syscall"
)

// mapFile maps size bytes of f into memory read-only, mirroring
// internal/mmfile.Map's PROT_READ/MAP_SHARED approach. Writes always go
// through f.WriteAt; the mapping exists only to serve Get without a
// read syscall per lookup.
func mapFile(f *os.File, size int64) ([]byte, func() error, error) {
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := syscall.Munmap(data)
		if errors.Is(err, syscall.EINVAL) {
			return nil
		}
		return err
	}
	return data, cleanup, nil
}
