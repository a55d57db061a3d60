package main

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/n1e/porcupine/config"
	"github.com/n1e/porcupine/crypto"
	"github.com/n1e/porcupine/internal/logging"
	"github.com/n1e/porcupine/nest"
	"github.com/n1e/porcupine/porcupine"
	"github.com/n1e/porcupine/store"
	"github.com/n1e/porcupine/store/filestore"
)

// session bundles the open tree with the pieces the commands need to
// close cleanly and to checkpoint under the identity the tree was
// opened with.
type session struct {
	tree *porcupine.Porcupine
	nest *nest.Nest
	repo store.Repository
}

func (s *session) Close() error {
	return s.repo.Close()
}

// openSession opens (or creates) the filestore at storePath, loading or
// generating the keypair alongside it, and opens a Porcupine over the
// default Descriptor. Every subcommand logs through
// internal/logging, initialized here from the global --verbose/--json
// flags (cmd/hiveexplorer/logger's init-once-in-main convention).
func openSession(ctx context.Context) (*session, error) {
	logging.Init(logging.Options{Enabled: verbose, Level: loggingOptions(), JSON: jsonOut})

	identity, symKey, err := loadOrCreateIdentity(storePath + ".keys")
	if err != nil {
		return nil, fmt.Errorf("porcupinectl: identity: %w", err)
	}

	repo, err := filestore.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("porcupinectl: open store: %w", err)
	}

	descriptor := config.DefaultDescriptor()
	n := nest.New(repo, identity, symKey, descriptor.ResidentCapacity)

	tree, err := porcupine.Open(ctx, repo, n, store.RootLineage, descriptor)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("porcupinectl: open tree: %w", err)
	}
	return &session{tree: tree, nest: n, repo: repo}, nil
}

// loadOrCreateIdentity reads a keypair+symmetric key from path, creating
// and persisting a fresh one on first use. The format is the plain
// concatenation public||private||symmetric, since porcupinectl is
// scaffolding and not the key-management surface spec.md §1 excludes.
func loadOrCreateIdentity(path string) (crypto.Identity, crypto.SymmetricKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return decodeIdentity(raw)
	}
	if !os.IsNotExist(err) {
		return crypto.Identity{}, crypto.SymmetricKey{}, err
	}

	identity, err := crypto.GenerateIdentity()
	if err != nil {
		return crypto.Identity{}, crypto.SymmetricKey{}, err
	}
	var symKey crypto.SymmetricKey
	if _, err := io.ReadFull(cryptorand.Reader, symKey[:]); err != nil {
		return crypto.Identity{}, crypto.SymmetricKey{}, err
	}

	if err := os.WriteFile(path, encodeIdentity(identity, symKey), 0o600); err != nil {
		return crypto.Identity{}, crypto.SymmetricKey{}, err
	}
	return identity, symKey, nil
}

func encodeIdentity(identity crypto.Identity, symKey crypto.SymmetricKey) []byte {
	buf := make([]byte, 0, crypto.PublicKeySize+crypto.PrivateKeySize+crypto.SymmetricKeySize)
	buf = append(buf, identity.Public[:]...)
	buf = append(buf, identity.Private[:]...)
	buf = append(buf, symKey[:]...)
	return buf
}

func decodeIdentity(raw []byte) (crypto.Identity, crypto.SymmetricKey, error) {
	want := crypto.PublicKeySize + crypto.PrivateKeySize + crypto.SymmetricKeySize
	if len(raw) != want {
		return crypto.Identity{}, crypto.SymmetricKey{}, fmt.Errorf("porcupinectl: malformed keyfile (%d bytes, want %d)", len(raw), want)
	}
	var identity crypto.Identity
	var symKey crypto.SymmetricKey
	copy(identity.Public[:], raw[:crypto.PublicKeySize])
	copy(identity.Private[:], raw[crypto.PublicKeySize:crypto.PublicKeySize+crypto.PrivateKeySize])
	copy(symKey[:], raw[crypto.PublicKeySize+crypto.PrivateKeySize:])
	return identity, symKey, nil
}

func jsonEncode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
