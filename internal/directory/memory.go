package directory

import (
	"context"
	"sync"

	"github.com/loomchat/loom/internal/domain"
)

// Memory is an in-process DirectoryClient with real claim semantics:
// each claim atomically consumes one one-time prekey, and a claimed
// prekey never reappears however often the device republishes. Used in
// tests and single-process setups.
type Memory struct {
	mu      sync.Mutex
	bundles map[string]*domain.PrekeyBundle
	claimed map[domain.OneTimePrekeyID]bool
	backups map[domain.UserID]domain.EncryptedBackup
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		bundles: make(map[string]*domain.PrekeyBundle),
		claimed: make(map[domain.OneTimePrekeyID]bool),
		backups: make(map[domain.UserID]domain.EncryptedBackup),
	}
}

func deviceKey(user domain.UserID, device domain.DeviceID) string {
	return user.String() + "/" + device.String()
}

// PublishBundle replaces the device's bundle, dropping any one-time
// prekeys that were already claimed.
func (m *Memory) PublishBundle(_ context.Context, b domain.PrekeyBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]domain.OneTimePrekeyPublic, 0, len(b.OneTimePrekeys))
	for _, opk := range b.OneTimePrekeys {
		if !m.claimed[opk.ID] {
			kept = append(kept, opk)
		}
	}
	b.OneTimePrekeys = kept
	m.bundles[deviceKey(b.UserID, b.DeviceID)] = &b
	return nil
}

// ClaimBundle returns the device's bundle with at most one one-time
// prekey, consuming it.
func (m *Memory) ClaimBundle(_ context.Context, user domain.UserID, device domain.DeviceID) (domain.PrekeyBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bundles[deviceKey(user, device)]
	if !ok {
		return domain.PrekeyBundle{}, domain.ErrPrekeyNotFound
	}
	out := *b
	if len(b.OneTimePrekeys) > 0 {
		out.OneTimePrekeys = []domain.OneTimePrekeyPublic{b.OneTimePrekeys[0]}
		m.claimed[b.OneTimePrekeys[0].ID] = true
		b.OneTimePrekeys = b.OneTimePrekeys[1:]
	} else {
		out.OneTimePrekeys = nil
	}
	return out, nil
}

// OneTimePrekeyCount reports how many unclaimed one-time prekeys remain.
func (m *Memory) OneTimePrekeyCount(_ context.Context, user domain.UserID, device domain.DeviceID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bundles[deviceKey(user, device)]
	if !ok {
		return 0, nil
	}
	return len(b.OneTimePrekeys), nil
}

// PutBackup stores the user's current backup, superseding any prior one.
func (m *Memory) PutBackup(_ context.Context, user domain.UserID, backup domain.EncryptedBackup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups[user] = backup
	return nil
}

// GetBackup returns the user's current backup.
func (m *Memory) GetBackup(_ context.Context, user domain.UserID) (domain.EncryptedBackup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.backups[user]
	if !ok {
		return domain.EncryptedBackup{}, domain.ErrNoBackup
	}
	return b, nil
}

// DeleteBackup removes the user's backup if present.
func (m *Memory) DeleteBackup(_ context.Context, user domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backups, user)
	return nil
}

var _ domain.DirectoryClient = (*Memory)(nil)
