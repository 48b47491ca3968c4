package backup

import (
	"context"
	"encoding/json"
	"time"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"github.com/loomchat/loom/internal/crypto"
	"github.com/loomchat/loom/internal/domain"
)

const (
	backupVersion = 1
	saltSize      = 16

	// minPasswordScore is the minimum zxcvbn score (0..4) accepted for
	// a backup password. Below this the backup is the weakest link of
	// the whole scheme.
	minPasswordScore = 3
)

// Service creates and restores encrypted state backups.
type Service struct {
	ids  domain.IdentityStore
	snap domain.SnapshotStore
	dir  domain.DirectoryClient
	log  *logrus.Logger
}

// New returns a backup service over the given snapshot store and
// directory.
func New(ids domain.IdentityStore, snap domain.SnapshotStore, dir domain.DirectoryClient, log *logrus.Logger) *Service {
	return &Service{ids: ids, snap: snap, dir: dir, log: log}
}

// PasswordStrength scores a candidate backup password from 0 to 4. Pure
// function of the password, so UIs can give live feedback.
func PasswordStrength(password string) int {
	return zxcvbn.PasswordStrength(password, nil).Score
}

// CreateBackup exports the full local state, encrypts it under a key
// derived from password, and uploads it, superseding any prior backup.
// Fails with ErrWeakPassword below the minimum strength score. A
// cancelled context before the upload leaves the previous backup in
// place.
func (s *Service) CreateBackup(
	ctx context.Context,
	passphrase string,
	password string,
) (domain.EncryptedBackup, error) {
	if PasswordStrength(password) < minPasswordScore {
		return domain.EncryptedBackup{}, domain.ErrWeakPassword
	}
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.EncryptedBackup{}, err
	}

	snap, err := s.snap.ExportSnapshot(passphrase)
	if err != nil {
		return domain.EncryptedBackup{}, errors.Wrap(err, "export snapshot")
	}
	plain, err := json.Marshal(snap)
	if err != nil {
		return domain.EncryptedBackup{}, err
	}
	defer crypto.Wipe(plain)

	salt := make([]byte, saltSize)
	if err := crypto.RandomBytes(salt); err != nil {
		return domain.EncryptedBackup{}, err
	}
	params := domain.DefaultKDFParams()
	key := deriveKey(password, salt, params)
	defer crypto.Wipe(key)

	nonce, err := crypto.RandomNonce()
	if err != nil {
		return domain.EncryptedBackup{}, err
	}
	ct, err := crypto.Seal(key, nonce, plain, backupAD())
	if err != nil {
		return domain.EncryptedBackup{}, err
	}

	b := domain.EncryptedBackup{
		Version:    backupVersion,
		Salt:       salt,
		Nonce:      nonce,
		Cipher:     ct,
		Params:     params,
		CreatedUTC: time.Now().Unix(),
	}

	if err := ctx.Err(); err != nil {
		return domain.EncryptedBackup{}, err
	}
	if err := s.dir.PutBackup(ctx, id.UserID, b); err != nil {
		return domain.EncryptedBackup{}, errors.Wrap(err, "upload backup")
	}
	s.log.WithFields(logrus.Fields{
		"user":     id.UserID,
		"sessions": len(snap.Sessions),
	}).Info("backup created")
	return b, nil
}

// RestoreBackup fetches the user's backup, decrypts it, and replaces
// local state in one swap. Fails with ErrNoBackup when none exists and
// ErrDecryptFailure for a wrong password or corrupted blob; which of the
// two happened is never revealed.
func (s *Service) RestoreBackup(
	ctx context.Context,
	passphrase string,
	user domain.UserID,
	password string,
) error {
	b, err := s.dir.GetBackup(ctx, user)
	if err != nil {
		return err
	}

	key := deriveKey(password, b.Salt, b.Params)
	defer crypto.Wipe(key)

	plain, err := crypto.Open(key, b.Nonce, b.Cipher, backupAD())
	if err != nil {
		return domain.ErrDecryptFailure
	}
	defer crypto.Wipe(plain)

	var snap domain.Snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return domain.ErrDecryptFailure
	}

	// Everything is validated; past this point the swap must finish.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.snap.ImportSnapshot(passphrase, snap); err != nil {
		return errors.Wrap(err, "import snapshot")
	}
	s.log.WithFields(logrus.Fields{
		"user":     user,
		"sessions": len(snap.Sessions),
	}).Info("backup restored")
	return nil
}

// DeleteBackup removes the user's stored backup.
func (s *Service) DeleteBackup(ctx context.Context, user domain.UserID) error {
	return s.dir.DeleteBackup(ctx, user)
}

func deriveKey(password string, salt []byte, p domain.KDFParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKB, p.Threads, crypto.AEADKeySize)
}

// backupAD binds the blob to its format version.
func backupAD() []byte {
	return []byte{'l', 'o', 'o', 'm', '-', 'b', 'k', backupVersion}
}
