package keyserver

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/loomchat/loom/internal/domain"
)

// PostgresStore is the durable directory backend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection. Call Migrate before use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the directory schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS bundles (
			user_id VARCHAR(255) NOT NULL,
			device_id VARCHAR(255) NOT NULL,
			identity_key BYTEA NOT NULL,
			signing_key BYTEA NOT NULL,
			spk_id VARCHAR(255) NOT NULL,
			spk BYTEA NOT NULL,
			spk_signature BYTEA NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, device_id)
		)`,

		`CREATE TABLE IF NOT EXISTS one_time_prekeys (
			user_id VARCHAR(255) NOT NULL,
			device_id VARCHAR(255) NOT NULL,
			key_id VARCHAR(255) NOT NULL,
			public_key BYTEA NOT NULL,
			claimed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, device_id, key_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_unclaimed_prekeys
		ON one_time_prekeys (user_id, device_id)
		WHERE claimed = FALSE`,

		`CREATE TABLE IF NOT EXISTS backups (
			user_id VARCHAR(255) PRIMARY KEY,
			version INTEGER NOT NULL,
			salt BYTEA NOT NULL,
			nonce BYTEA NOT NULL,
			cipher BYTEA NOT NULL,
			kdf_time INTEGER NOT NULL,
			kdf_memory_kb INTEGER NOT NULL,
			kdf_threads INTEGER NOT NULL,
			created_utc BIGINT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return errors.Wrap(err, "migrate directory schema")
		}
	}
	return nil
}

func (s *PostgresStore) SaveBundle(ctx context.Context, b domain.PrekeyBundle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bundles (user_id, device_id, identity_key, signing_key, spk_id, spk, spk_signature, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, device_id) DO UPDATE
		SET identity_key = $3, signing_key = $4, spk_id = $5, spk = $6, spk_signature = $7,
		    updated_at = CURRENT_TIMESTAMP`,
		b.UserID.String(), b.DeviceID.String(),
		b.IdentityKey.Slice(), b.SigningKey.Slice(),
		b.SignedPrekeyID.String(), b.SignedPrekey.Slice(), b.SignedPrekeySignature)
	if err != nil {
		return errors.Wrap(err, "upsert bundle")
	}

	// DO NOTHING keeps a claimed key claimed however often the device
	// republishes it.
	for _, opk := range b.OneTimePrekeys {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO one_time_prekeys (user_id, device_id, key_id, public_key)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, device_id, key_id) DO NOTHING`,
			b.UserID.String(), b.DeviceID.String(), opk.ID.String(), opk.Pub.Slice())
		if err != nil {
			return errors.Wrap(err, "insert one-time prekey")
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ClaimBundle(ctx context.Context, user domain.UserID, device domain.DeviceID) (domain.PrekeyBundle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PrekeyBundle{}, err
	}
	defer tx.Rollback()

	b := domain.PrekeyBundle{UserID: user, DeviceID: device}
	var identity, signing, spk, spkSig []byte
	var spkID string
	err = tx.QueryRowContext(ctx, `
		SELECT identity_key, signing_key, spk_id, spk, spk_signature
		FROM bundles WHERE user_id = $1 AND device_id = $2`,
		user.String(), device.String()).Scan(&identity, &signing, &spkID, &spk, &spkSig)
	if err == sql.ErrNoRows {
		return domain.PrekeyBundle{}, domain.ErrPrekeyNotFound
	}
	if err != nil {
		return domain.PrekeyBundle{}, err
	}
	copy(b.IdentityKey[:], identity)
	copy(b.SigningKey[:], signing)
	copy(b.SignedPrekey[:], spk)
	b.SignedPrekeyID = domain.SignedPrekeyID(spkID)
	b.SignedPrekeySignature = spkSig

	// SKIP LOCKED lets concurrent claims take different rows instead of
	// queueing on the same one.
	var keyID string
	var pub []byte
	err = tx.QueryRowContext(ctx, `
		SELECT key_id, public_key FROM one_time_prekeys
		WHERE user_id = $1 AND device_id = $2 AND claimed = FALSE
		ORDER BY created_at LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		user.String(), device.String()).Scan(&keyID, &pub)
	switch {
	case err == sql.ErrNoRows:
		// Exhausted pool: the claim still succeeds on the signed prekey.
	case err != nil:
		return domain.PrekeyBundle{}, err
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE one_time_prekeys SET claimed = TRUE
			WHERE user_id = $1 AND device_id = $2 AND key_id = $3`,
			user.String(), device.String(), keyID)
		if err != nil {
			return domain.PrekeyBundle{}, err
		}
		var opk domain.OneTimePrekeyPublic
		opk.ID = domain.OneTimePrekeyID(keyID)
		copy(opk.Pub[:], pub)
		b.OneTimePrekeys = []domain.OneTimePrekeyPublic{opk}
	}

	if err := tx.Commit(); err != nil {
		return domain.PrekeyBundle{}, err
	}
	return b, nil
}

func (s *PostgresStore) OneTimePrekeyCount(ctx context.Context, user domain.UserID, device domain.DeviceID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM one_time_prekeys
		WHERE user_id = $1 AND device_id = $2 AND claimed = FALSE`,
		user.String(), device.String()).Scan(&count)
	return count, err
}

func (s *PostgresStore) PutBackup(ctx context.Context, user domain.UserID, b domain.EncryptedBackup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backups (user_id, version, salt, nonce, cipher, kdf_time, kdf_memory_kb, kdf_threads, created_utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE
		SET version = $2, salt = $3, nonce = $4, cipher = $5,
		    kdf_time = $6, kdf_memory_kb = $7, kdf_threads = $8, created_utc = $9`,
		user.String(), b.Version, b.Salt, b.Nonce, b.Cipher,
		b.Params.Time, b.Params.MemoryKB, b.Params.Threads, b.CreatedUTC)
	return errors.Wrap(err, "upsert backup")
}

func (s *PostgresStore) GetBackup(ctx context.Context, user domain.UserID) (domain.EncryptedBackup, error) {
	var b domain.EncryptedBackup
	err := s.db.QueryRowContext(ctx, `
		SELECT version, salt, nonce, cipher, kdf_time, kdf_memory_kb, kdf_threads, created_utc
		FROM backups WHERE user_id = $1`, user.String()).Scan(
		&b.Version, &b.Salt, &b.Nonce, &b.Cipher,
		&b.Params.Time, &b.Params.MemoryKB, &b.Params.Threads, &b.CreatedUTC)
	if err == sql.ErrNoRows {
		return domain.EncryptedBackup{}, domain.ErrNoBackup
	}
	return b, err
}

func (s *PostgresStore) DeleteBackup(ctx context.Context, user domain.UserID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE user_id = $1`, user.String())
	return err
}
