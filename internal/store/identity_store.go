package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/loomchat/loom/internal/domain"
)

const identityFile = "identity.enc"

// IdentityFileStore persists the device identity encrypted at rest.
type IdentityFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir}
}

// SaveIdentity seals the identity under the passphrase and writes it.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	N, r, p := scryptParamsDefault()
	sealed, err := sealBlob(passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, identityFile), sealed, 0o600)
}

// stageSaveIdentity seals the identity for a staged snapshot swap.
// Restore path only; nothing is written until commitStaged.
func (s *IdentityFileStore) stageSaveIdentity(passphrase string, id domain.DeviceIdentity) (stagedFile, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return stagedFile{}, err
	}
	N, r, p := scryptParamsDefault()
	sealed, err := sealBlob(passphrase, raw, N, r, p)
	if err != nil {
		return stagedFile{}, err
	}
	return stagedFile{path: filepath.Join(s.dir, identityFile), data: sealed, mode: 0o600}, nil
}

// LoadIdentity reads and opens the identity. Fails with
// domain.ErrNoIdentity when none exists.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(filepath.Join(s.dir, identityFile))
	if errors.Is(err, os.ErrNotExist) {
		return domain.DeviceIdentity{}, domain.ErrNoIdentity
	}
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	raw, err := openBlob(passphrase, sealed)
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	var id domain.DeviceIdentity
	if err := json.Unmarshal(raw, &id); err != nil {
		return domain.DeviceIdentity{}, err
	}
	return id, nil
}

// HasIdentity reports whether an identity file exists.
func (s *IdentityFileStore) HasIdentity() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(filepath.Join(s.dir, identityFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DestroyIdentity removes the identity file. Removing an absent file is
// not an error.
func (s *IdentityFileStore) DestroyIdentity() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, identityFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Compile-time assertion that IdentityFileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityFileStore)(nil)
