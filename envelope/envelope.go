// Package envelope implements the block envelope of spec.md §4.5: the
// component tag, revision counter, encrypted payload, and signature that
// together make up everything a store.Repository ever sees. Package nest
// is the only caller; envelope knows how to turn a resident nodule.Nodule
// into signed, encrypted bytes and back, but has no opinion about when
// that should happen.
//
// Nothing in the teacher repository seals or signs cells (registry hives
// are plaintext), so the wire layout here is original, but it is built
// entirely out of the crypto package's primitives and follows the same
// "small fixed header, then a versioned payload" shape hive/tx uses for
// its own transaction records.
package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/crypto"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/nodule"
)

const headerSize = 1 + 8 // tag + revision

// Encode seals n into signed, encrypted bytes ready for store.Repository.
// n may be Dirty (the Nest encodes Dirty nodules at checkpoint), but every
// child address of a seam must already be real; encoding one with a
// Pending sibling/child address is an invariant violation, since Pending
// addresses are never meaningful outside one process's memory (spec.md §9).
func Encode(n nodule.Nodule, identity crypto.Identity, symKey crypto.SymmetricKey, svc crypto.Services) ([]byte, error) {
	payload, err := serializePayload(n)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}

	header := make([]byte, headerSize)
	header[0] = byte(n.Kind())
	binary.BigEndian.PutUint64(header[1:9], n.Revision())

	ciphertext, err := svc.Encrypt(symKey, payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode: encrypt: %w", err)
	}

	body := append(header, ciphertext...)
	signed := svc.Sign(identity.Private, body)
	return signed, nil
}

// Decode verifies, decrypts, and deserializes a block produced by Encode.
// Sibling handles in the returned nodule are attached to resolver; the
// parent link is left nil (parent references are rebuilt by the caller
// during traversal, per spec.md §9).
func Decode(raw []byte, pub crypto.PublicKey, symKey crypto.SymmetricKey, svc crypto.Services, resolver nodule.Resolver) (nodule.Nodule, error) {
	body, err := svc.Verify(pub, raw)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	if len(body) < headerSize {
		return nil, fmt.Errorf("envelope: decode: short body: %w", errs.IntegrityFailure)
	}
	kind := nodule.Kind(body[0])
	revision := binary.BigEndian.Uint64(body[1:9])
	ciphertext := body[headerSize:]

	payload, err := svc.Decrypt(symKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}

	n, err := deserializePayload(kind, payload, resolver)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	n.SetRevision(revision)
	addr := svc.Hash(raw)
	n.SetSelfAddress(addr)
	return n, nil
}

func serializePayload(n nodule.Nodule) ([]byte, error) {
	var buf []byte
	buf = appendAddress(buf, siblingAddress(n.Left()))
	buf = appendAddress(buf, siblingAddress(n.Right()))

	switch t := n.(type) {
	case *nodule.Quill:
		return serializeQuill(buf, t)
	case *nodule.Seam:
		return serializeSeam(buf, t)
	default:
		return nil, fmt.Errorf("envelope: unknown nodule type %T", n)
	}
}

func deserializePayload(kind nodule.Kind, payload []byte, resolver nodule.Resolver) (nodule.Nodule, error) {
	left, rest, err := readAddress(payload)
	if err != nil {
		return nil, err
	}
	right, rest, err := readAddress(rest)
	if err != nil {
		return nil, err
	}

	var n nodule.Nodule
	switch kind {
	case nodule.KindQuill:
		n, err = deserializeQuill(rest)
	case nodule.KindSeam:
		n, err = deserializeSeam(rest, resolver)
	default:
		return nil, fmt.Errorf("envelope: unknown kind %d", kind)
	}
	if err != nil {
		return nil, err
	}
	if !left.IsNull() {
		n.SetLeft(nodule.NewHandle(left, resolver))
	}
	if !right.IsNull() {
		n.SetRight(nodule.NewHandle(right, resolver))
	}
	return n, nil
}

func siblingAddress(h *nodule.Handle) block.Address {
	if h == nil || h.IsNull() {
		return block.NullAddress
	}
	return h.Address()
}

func appendAddress(buf []byte, addr block.Address) []byte {
	if addr.IsNull() {
		return append(buf, 0)
	}
	hash, ok := addr.Hash()
	if !ok {
		// Pending addresses must never reach the wire (spec.md §9): a
		// sibling that is still Dirty means the caller tried to encode
		// before its neighbor was checkpointed.
		hash = [block.HashSize]byte{}
	}
	buf = append(buf, 1)
	return append(buf, hash[:]...)
}

func readAddress(buf []byte) (block.Address, []byte, error) {
	if len(buf) < 1 {
		return block.Address{}, nil, fmt.Errorf("envelope: truncated address: %w", errs.IntegrityFailure)
	}
	present, buf := buf[0], buf[1:]
	if present == 0 {
		return block.NullAddress, buf, nil
	}
	if len(buf) < block.HashSize {
		return block.Address{}, nil, fmt.Errorf("envelope: truncated address hash: %w", errs.IntegrityFailure)
	}
	var hash [block.HashSize]byte
	copy(hash[:], buf[:block.HashSize])
	return block.RealAddress(hash), buf[block.HashSize:], nil
}

func serializeQuill(buf []byte, q *nodule.Quill) ([]byte, error) {
	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, uint32(q.Len()))
	buf = append(buf, countBuf...)

	for _, inlet := range q.Inlets() {
		buf = append(buf, inlet.Key[:]...)
		valueBytes := inlet.Value.Bytes()
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(valueBytes)))
		buf = append(buf, lenBuf...)
		buf = append(buf, valueBytes...)
	}
	return buf, nil
}

func deserializeQuill(buf []byte) (*nodule.Quill, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("envelope: truncated quill count: %w", errs.IntegrityFailure)
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]

	q := nodule.NewQuill()
	for i := uint32(0); i < count; i++ {
		if len(buf) < block.KeySize+4 {
			return nil, fmt.Errorf("envelope: truncated quill inlet: %w", errs.IntegrityFailure)
		}
		var key block.Key
		copy(key[:], buf[:block.KeySize])
		buf = buf[block.KeySize:]
		valueLen := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < valueLen {
			return nil, fmt.Errorf("envelope: truncated quill value: %w", errs.IntegrityFailure)
		}
		value := make(block.Bytes, valueLen)
		copy(value, buf[:valueLen])
		buf = buf[valueLen:]
		q.Insert(key, value)
	}
	return q, nil
}

func serializeSeam(buf []byte, s *nodule.Seam) ([]byte, error) {
	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, uint32(s.Len()))
	buf = append(buf, countBuf...)

	for _, inlet := range s.Inlets() {
		buf = append(buf, inlet.Key[:]...)
		childAddr := inlet.Child.Address()
		hash, ok := childAddr.Hash()
		if !ok {
			return nil, fmt.Errorf("envelope: encode seam: child address not real: %w", errs.InvariantViolation)
		}
		buf = append(buf, hash[:]...)
	}
	return buf, nil
}

func deserializeSeam(buf []byte, resolver nodule.Resolver) (*nodule.Seam, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("envelope: truncated seam count: %w", errs.IntegrityFailure)
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]

	s := nodule.NewSeam()
	for i := uint32(0); i < count; i++ {
		if len(buf) < block.KeySize+block.HashSize {
			return nil, fmt.Errorf("envelope: truncated seam inlet: %w", errs.IntegrityFailure)
		}
		var key block.Key
		copy(key[:], buf[:block.KeySize])
		buf = buf[block.KeySize:]
		var hash [block.HashSize]byte
		copy(hash[:], buf[:block.HashSize])
		buf = buf[block.HashSize:]
		child := nodule.NewHandle(block.RealAddress(hash), resolver)
		s.Insert(key, child)
	}
	return s, nil
}
