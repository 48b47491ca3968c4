package keyserver

import (
	"context"
	"sync"

	"github.com/loomchat/loom/internal/domain"
)

// MemoryStore is the in-process backend used by tests and development
// setups.
type MemoryStore struct {
	mu      sync.Mutex
	bundles map[string]domain.PrekeyBundle
	pool    map[string][]domain.OneTimePrekeyPublic
	claimed map[domain.OneTimePrekeyID]bool
	backups map[domain.UserID]domain.EncryptedBackup
}

// NewMemoryStore returns an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bundles: make(map[string]domain.PrekeyBundle),
		pool:    make(map[string][]domain.OneTimePrekeyPublic),
		claimed: make(map[domain.OneTimePrekeyID]bool),
		backups: make(map[domain.UserID]domain.EncryptedBackup),
	}
}

var _ Store = (*MemoryStore)(nil)

func storeKey(user domain.UserID, device domain.DeviceID) string {
	return user.String() + "/" + device.String()
}

func (s *MemoryStore) SaveBundle(_ context.Context, b domain.PrekeyBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(b.UserID, b.DeviceID)
	known := make(map[domain.OneTimePrekeyID]bool, len(s.pool[key]))
	for _, opk := range s.pool[key] {
		known[opk.ID] = true
	}
	for _, opk := range b.OneTimePrekeys {
		if !known[opk.ID] && !s.claimed[opk.ID] {
			s.pool[key] = append(s.pool[key], opk)
		}
	}

	b.OneTimePrekeys = nil
	s.bundles[key] = b
	return nil
}

func (s *MemoryStore) ClaimBundle(_ context.Context, user domain.UserID, device domain.DeviceID) (domain.PrekeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(user, device)
	b, ok := s.bundles[key]
	if !ok {
		return domain.PrekeyBundle{}, domain.ErrPrekeyNotFound
	}
	if pool := s.pool[key]; len(pool) > 0 {
		b.OneTimePrekeys = []domain.OneTimePrekeyPublic{pool[0]}
		s.claimed[pool[0].ID] = true
		s.pool[key] = pool[1:]
	}
	return b, nil
}

func (s *MemoryStore) OneTimePrekeyCount(_ context.Context, user domain.UserID, device domain.DeviceID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pool[storeKey(user, device)]), nil
}

func (s *MemoryStore) PutBackup(_ context.Context, user domain.UserID, backup domain.EncryptedBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[user] = backup
	return nil
}

func (s *MemoryStore) GetBackup(_ context.Context, user domain.UserID) (domain.EncryptedBackup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backups[user]
	if !ok {
		return domain.EncryptedBackup{}, domain.ErrNoBackup
	}
	return b, nil
}

func (s *MemoryStore) DeleteBackup(_ context.Context, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backups, user)
	return nil
}
