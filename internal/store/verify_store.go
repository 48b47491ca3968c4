package store

import (
	"path/filepath"
	"sync"

	"github.com/loomchat/loom/internal/domain"
)

const verifiedFile = "verified_devices.json"

// VerifyFileStore records out-of-band device verifications.
type VerifyFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewVerifyFileStore returns a VerifyFileStore rooted at dir.
func NewVerifyFileStore(dir string) *VerifyFileStore {
	return &VerifyFileStore{dir: dir}
}

func verifyKey(user domain.UserID, device domain.DeviceID) string {
	return user.String() + "/" + device.String()
}

// MarkVerified records a verification, overwriting any earlier record
// for the same device.
func (s *VerifyFileStore) MarkVerified(dev domain.VerifiedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, verifiedFile)
	m := map[string]domain.VerifiedDevice{}
	_ = readJSON(path, &m)
	m[verifyKey(dev.UserID, dev.DeviceID)] = dev
	return writeJSON(path, m, 0o600)
}

// VerifiedDevices returns all verified devices of one user.
func (s *VerifyFileStore) VerifiedDevices(user domain.UserID) ([]domain.VerifiedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, verifiedFile)
	m := map[string]domain.VerifiedDevice{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	var out []domain.VerifiedDevice
	for _, dev := range m {
		if dev.UserID == user {
			out = append(out, dev)
		}
	}
	return out, nil
}

// IsVerified reports whether a specific device has been verified.
func (s *VerifyFileStore) IsVerified(user domain.UserID, device domain.DeviceID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, verifiedFile)
	m := map[string]domain.VerifiedDevice{}
	if err := readJSON(path, &m); err != nil {
		return false, err
	}
	_, ok := m[verifyKey(user, device)]
	return ok, nil
}

// ListVerified returns every verification record.
func (s *VerifyFileStore) ListVerified() ([]domain.VerifiedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, verifiedFile)
	m := map[string]domain.VerifiedDevice{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	out := make([]domain.VerifiedDevice, 0, len(m))
	for _, dev := range m {
		out = append(out, dev)
	}
	return out, nil
}

// stageReplaceVerified prepares a full verification snapshot swap.
// Restore path only; nothing is written until commitStaged.
func (s *VerifyFileStore) stageReplaceVerified(devs []domain.VerifiedDevice) (stagedFile, error) {
	m := map[string]domain.VerifiedDevice{}
	for _, dev := range devs {
		m[verifyKey(dev.UserID, dev.DeviceID)] = dev
	}
	return stageJSON(filepath.Join(s.dir, verifiedFile), m, 0o600)
}

// wipe removes the verification file. Explicit destroy path only.
func (s *VerifyFileStore) wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeIfExists(filepath.Join(s.dir, verifiedFile))
}

// Compile-time assertion that VerifyFileStore implements domain.VerifyStore.
var _ domain.VerifyStore = (*VerifyFileStore)(nil)
