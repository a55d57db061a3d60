// Package filestore is a durable, single-file store.Repository. It is
// grounded on three teacher subsystems working together exactly the way
// they do in hivekit: internal/mmfile for a read-only memory-mapped view
// of the backing file, hive/alloc's free-list-over-size-classes idea
// (here simplified to one coalescing free list, since content-addressed
// cells are already far more uniform in size than registry cells), and
// hive/dirty's batched-flush idea for turning many small writes into a
// handful of fsyncs.
//
// The file is simultaneously the object store and its own recovery log:
// every Put/Erase/SetLatest appends a self-delimiting record, and Open
// replays every record from the front to rebuild the in-memory address
// index, lineage table, and free list. A freed record's space re-enters
// the free list and is reused by a later Put whose envelope fits it,
// instead of always growing the file (mirroring GrowByPages: only grow
// when nothing free fits).
package filestore

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/store"
)

const (
	magic   = "PRCN"
	version = 1

	headerSize = 4096 // one page, mirrors HBIN-style page alignment
	pageSize   = 4096

	recordHeaderSize = 8 // tag(1) + reserved(3) + payloadLen(4)

	tagPut       = 1
	tagErase     = 2
	tagSetLatest = 3

	alignment = 8
)

type recordLoc struct {
	offset int64 // start of the record (including its header)
	length int64 // total on-disk length, 8-byte aligned
}

// Store is a file-backed store.Repository.
type Store struct {
	mu   sync.Mutex
	file *os.File
	size int64

	data  []byte
	unmap func() error

	objects  map[block.Address]recordLoc
	lineages map[store.Lineage]block.Address
	free     freeList
	dirty    dirtyTracker
}

// Open opens (creating if necessary) a filestore at path and replays its
// log to rebuild the in-memory index.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filestore: stat %s: %w", path, err)
	}

	s := &Store{
		file:     f,
		objects:  make(map[block.Address]recordLoc),
		lineages: make(map[store.Lineage]block.Address),
	}

	if info.Size() == 0 {
		if err := s.initHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := s.verifyHeader(); err != nil {
		f.Close()
		return nil, err
	}

	if err := s.remap(); err != nil {
		f.Close()
		return nil, err
	}
	if err := s.replay(); err != nil {
		s.unmap()
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initHeader() error {
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], magic)
	binary.BigEndian.PutUint32(hdr[4:8], version)
	if _, err := s.file.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("filestore: write header: %w", err)
	}
	return nil
}

func (s *Store) verifyHeader() error {
	hdr := make([]byte, 8)
	if _, err := s.file.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("filestore: read header: %w", err)
	}
	if string(hdr[0:4]) != magic {
		return fmt.Errorf("filestore: bad magic %q: %w", hdr[0:4], errs.IntegrityFailure)
	}
	return nil
}

// remap drops the current mapping (if any) and maps the whole file
// read-only, exactly as internal/mmfile does for hive files.
func (s *Store) remap() error {
	if s.unmap != nil {
		if err := s.unmap(); err != nil {
			return fmt.Errorf("filestore: unmap: %w", err)
		}
		s.data, s.unmap = nil, nil
	}
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("filestore: stat: %w", err)
	}
	s.size = info.Size()
	data, cleanup, err := mapFile(s.file, s.size)
	if err != nil {
		return fmt.Errorf("filestore: map: %w", err)
	}
	s.data, s.unmap = data, cleanup
	return nil
}

// replay scans every record from headerSize to EOF, rebuilding the
// address index, lineage table, and free list.
func (s *Store) replay() error {
	off := int64(headerSize)
	for off < s.size {
		if off+recordHeaderSize > s.size {
			break // trailing short write from a crashed append; ignore
		}
		tag := s.data[off]
		payloadLen := int64(binary.BigEndian.Uint32(s.data[off+4 : off+8]))
		total := align(recordHeaderSize + payloadLen)
		if off+total > s.size {
			break
		}
		payload := s.data[off+recordHeaderSize : off+recordHeaderSize+payloadLen]

		switch tag {
		case tagPut:
			var addr block.Address
			addr = block.RealAddress(toHash(payload[:block.HashSize]))
			s.objects[addr] = recordLoc{offset: off, length: total}
		case tagErase:
			addr := block.RealAddress(toHash(payload[:block.HashSize]))
			freedOff := int64(binary.BigEndian.Uint64(payload[block.HashSize : block.HashSize+8]))
			freedLen := int64(binary.BigEndian.Uint64(payload[block.HashSize+8 : block.HashSize+16]))
			delete(s.objects, addr)
			s.free.add(freedOff, freedLen)
		case tagSetLatest:
			n := int(binary.BigEndian.Uint16(payload[0:2]))
			lineage := store.Lineage(payload[2 : 2+n])
			addr := block.RealAddress(toHash(payload[2+n : 2+n+block.HashSize]))
			s.lineages[lineage] = addr
		case 0:
			// Zero-filled space (the unused tail of a page grown by
			// reserve) holds no record; it goes back on the free list in
			// 8-byte steps, which freeList.add coalesces.
			s.free.add(off, total)
		default:
			return fmt.Errorf("filestore: replay: unknown record tag %d: %w", tag, errs.IntegrityFailure)
		}
		off += total
	}
	return nil
}

func (s *Store) Get(_ context.Context, addr block.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.objects[addr]
	if !ok {
		return nil, fmt.Errorf("filestore: get %s: %w", addr, errs.NotFound)
	}
	payloadStart := loc.offset + recordHeaderSize + int64(block.HashSize)
	payloadLen := binary.BigEndian.Uint32(s.data[loc.offset+4 : loc.offset+8])
	dataLen := int64(payloadLen) - int64(block.HashSize)
	out := make([]byte, dataLen)
	copy(out, s.data[payloadStart:payloadStart+dataLen])
	return out, nil
}

func (s *Store) Put(ctx context.Context, envelope []byte) (block.Address, error) {
	if err := ctx.Err(); err != nil {
		return block.Address{}, err
	}
	addr := block.RealAddress(hashEnvelope(envelope))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[addr]; exists {
		return addr, nil
	}

	payloadLen := int64(block.HashSize + len(envelope))
	total := align(recordHeaderSize + payloadLen)

	offset, err := s.reserve(total)
	if err != nil {
		return block.Address{}, fmt.Errorf("filestore: put: %w", err)
	}

	buf := make([]byte, total)
	buf[0] = tagPut
	binary.BigEndian.PutUint32(buf[4:8], uint32(payloadLen))
	hash, _ := addr.Hash()
	copy(buf[recordHeaderSize:recordHeaderSize+block.HashSize], hash[:])
	copy(buf[recordHeaderSize+block.HashSize:], envelope)

	if _, err := s.file.WriteAt(buf, offset); err != nil {
		return block.Address{}, fmt.Errorf("filestore: put: write: %w", errs.StoreFailure)
	}
	s.dirty.add(offset, total)

	if err := s.remap(); err != nil {
		return block.Address{}, fmt.Errorf("filestore: put: %w", err)
	}
	s.objects[addr] = recordLoc{offset: offset, length: total}
	return addr, nil
}

func (s *Store) Erase(ctx context.Context, addr block.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.objects[addr]
	if !ok {
		return nil
	}
	payloadLen := int64(block.HashSize + 16)
	total := align(recordHeaderSize + payloadLen)
	offset, err := s.reserve(total)
	if err != nil {
		return fmt.Errorf("filestore: erase: %w", err)
	}

	buf := make([]byte, total)
	buf[0] = tagErase
	binary.BigEndian.PutUint32(buf[4:8], uint32(payloadLen))
	hash, _ := addr.Hash()
	copy(buf[recordHeaderSize:recordHeaderSize+block.HashSize], hash[:])
	binary.BigEndian.PutUint64(buf[recordHeaderSize+block.HashSize:], uint64(loc.offset))
	binary.BigEndian.PutUint64(buf[recordHeaderSize+block.HashSize+8:], uint64(loc.length))

	if _, err := s.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("filestore: erase: write: %w", errs.StoreFailure)
	}
	s.dirty.add(offset, total)
	if err := s.remap(); err != nil {
		return fmt.Errorf("filestore: erase: %w", err)
	}
	delete(s.objects, addr)
	s.free.add(loc.offset, loc.length)
	return nil
}

func (s *Store) Latest(_ context.Context, lineage store.Lineage) (block.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.lineages[lineage]
	if !ok {
		return block.Address{}, fmt.Errorf("filestore: latest %s: %w", lineage, errs.NotFound)
	}
	return addr, nil
}

func (s *Store) SetLatest(ctx context.Context, lineage store.Lineage, addr block.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadLen := int64(2 + len(lineage) + block.HashSize)
	total := align(recordHeaderSize + payloadLen)
	offset, err := s.reserve(total)
	if err != nil {
		return fmt.Errorf("filestore: set latest: %w", err)
	}

	buf := make([]byte, total)
	buf[0] = tagSetLatest
	binary.BigEndian.PutUint32(buf[4:8], uint32(payloadLen))
	binary.BigEndian.PutUint16(buf[recordHeaderSize:recordHeaderSize+2], uint16(len(lineage)))
	copy(buf[recordHeaderSize+2:], lineage)
	hash, _ := addr.Hash()
	copy(buf[recordHeaderSize+2+int64(len(lineage)):], hash[:])

	if _, err := s.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("filestore: set latest: write: %w", errs.StoreFailure)
	}
	s.dirty.add(offset, total)
	if err := s.remap(); err != nil {
		return fmt.Errorf("filestore: set latest: %w", err)
	}
	s.lineages[lineage] = addr
	return nil
}

// Flush fsyncs the file, matching hive/dirty's FlushDataOnly contract:
// callers batch several mutations and flush once, instead of fsyncing
// after every single write.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.dirty.empty() {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("filestore: flush: %w", errs.StoreFailure)
	}
	s.dirty.clear()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.unmap != nil {
		if err := s.unmap(); err != nil {
			firstErr = err
		}
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// reserve finds space for an n-byte record, reusing a free extent first
// and growing the file by whole pages only when nothing free fits.
func (s *Store) reserve(n int64) (int64, error) {
	if off, ok := s.free.take(n); ok {
		return off, nil
	}
	offset := s.size
	pages := (n + pageSize - 1) / pageSize
	newSize := s.size + pages*pageSize
	if err := s.file.Truncate(newSize); err != nil {
		return 0, fmt.Errorf("grow: %w", errs.StoreFailure)
	}
	s.size = newSize
	if offset+n < s.size {
		s.free.add(offset+n, s.size-(offset+n))
	}
	return offset, nil
}

func align(n int64) int64 {
	if r := n % alignment; r != 0 {
		n += alignment - r
	}
	return n
}

func toHash(b []byte) [block.HashSize]byte {
	var h [block.HashSize]byte
	copy(h[:], b)
	return h
}

// hashEnvelope computes the content address of a sealed envelope. It uses
// the same BLAKE2b-256 digest as crypto.Services.Hash so that addresses
// stay identical regardless of which store.Repository wrote them.
func hashEnvelope(envelope []byte) [block.HashSize]byte {
	return blake2b.Sum256(envelope)
}
