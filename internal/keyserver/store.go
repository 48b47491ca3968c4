package keyserver

import (
	"context"

	"github.com/loomchat/loom/internal/domain"
)

// KeyStore persists published bundles. Claiming must consume the
// returned one-time prekey atomically: two concurrent claims can never
// receive the same one.
type KeyStore interface {
	// SaveBundle upserts the device's bundle. One-time prekeys are
	// merged additively; a key that was ever claimed stays claimed no
	// matter what the device republishes.
	SaveBundle(ctx context.Context, bundle domain.PrekeyBundle) error

	// ClaimBundle returns the bundle with at most one one-time prekey,
	// consuming it. Unknown devices fail with domain.ErrPrekeyNotFound.
	ClaimBundle(ctx context.Context, user domain.UserID, device domain.DeviceID) (domain.PrekeyBundle, error)

	// OneTimePrekeyCount reports the device's unclaimed key count.
	OneTimePrekeyCount(ctx context.Context, user domain.UserID, device domain.DeviceID) (int, error)
}

// BackupStore keeps one current encrypted backup per user.
type BackupStore interface {
	PutBackup(ctx context.Context, user domain.UserID, backup domain.EncryptedBackup) error
	// GetBackup fails with domain.ErrNoBackup when none exists.
	GetBackup(ctx context.Context, user domain.UserID) (domain.EncryptedBackup, error)
	DeleteBackup(ctx context.Context, user domain.UserID) error
}

// Store is the full directory backend.
type Store interface {
	KeyStore
	BackupStore
}
