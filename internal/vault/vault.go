// Package vault seals persisted space snapshots with kryptograf envelope
// encryption. The key store lives beside the snapshot directory; a root key
// wraps one data-encryption key per snapshot scope.
package vault

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const descriptorName = "snapshots"

// Vault seals and opens snapshot bytes. It implements persist.Codec.
type Vault struct {
	storePath string
	log       pslog.Logger
}

// New constructs a Vault backed by the key store at path, creating the store
// and its root key on first use.
func New(path string, logger pslog.Logger) (*Vault, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("key store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		return nil, err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		return nil, err
	}
	if err := store.Commit(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("key_store", path)
	}
	return &Vault{storePath: path, log: logger}, nil
}

// Seal encrypts plain snapshot bytes.
func (v *Vault) Seal(plain []byte) ([]byte, error) {
	material, root, err := v.material()
	if err != nil {
		return nil, err
	}
	kg := kryptograf.New(root)
	var buf bytes.Buffer
	writer, err := kg.EncryptWriter(&buf, material)
	if err != nil {
		v.warn(err)
		return nil, err
	}
	if _, err := writer.Write(plain); err != nil {
		_ = writer.Close()
		v.warn(err)
		return nil, err
	}
	if err := writer.Close(); err != nil {
		v.warn(err)
		return nil, err
	}
	return buf.Bytes(), nil
}

// Open decrypts sealed snapshot bytes.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	material, root, err := v.material()
	if err != nil {
		return nil, err
	}
	kg := kryptograf.New(root)
	reader, err := kg.DecryptReader(bytes.NewReader(sealed), material)
	if err != nil {
		v.warn(err)
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		v.warn(err)
		return nil, err
	}
	return plain, nil
}

func (v *Vault) material() (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(v.storePath)
	if err != nil {
		v.warn(err)
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		v.warn(err)
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	material, err := store.EnsureDescriptor(descriptorName, root, []byte(descriptorName))
	if err != nil {
		v.warn(err)
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		v.warn(err)
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

func (v *Vault) warn(err error) {
	if v.log != nil {
		v.log.Warn("vault operation failed", "err", err)
	}
}
