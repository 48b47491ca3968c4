package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/loomchat/loom/internal/crypto"
	"github.com/loomchat/loom/internal/domain"
)

const (
	// DefaultOneTimePrekeys is how many one-time prekeys a fresh
	// identity publishes.
	DefaultOneTimePrekeys = 20

	// lowWaterMark is the unclaimed count below which Replenish
	// actually generates new one-time prekeys.
	lowWaterMark = 10

	// signedPrekeyGrace is how long a rotated-out signed prekey is
	// retained so messages already in flight still decrypt.
	signedPrekeyGrace = 7 * 24 * time.Hour
)

// Service owns identity and prekey lifecycle for the local device.
type Service struct {
	ids   domain.IdentityStore
	pks   domain.PrekeyStore
	local domain.LocalStateStore
	dir   domain.DirectoryClient
	log   *logrus.Logger
}

// New returns an identity service over the given stores and directory.
func New(ids domain.IdentityStore, pks domain.PrekeyStore, local domain.LocalStateStore, dir domain.DirectoryClient, log *logrus.Logger) *Service {
	return &Service{ids: ids, pks: pks, local: local, dir: dir, log: log}
}

// GenerateIdentity creates the device identity, an initial signed
// prekey, and n one-time prekeys, then publishes the bundle. It fails
// with ErrAlreadyInitialized if an identity already exists; the caller
// must destroy it explicitly first.
func (s *Service) GenerateIdentity(
	ctx context.Context,
	passphrase string,
	user domain.UserID,
	n int,
) (domain.DeviceIdentity, string, error) {
	exists, err := s.ids.HasIdentity()
	if err != nil {
		return domain.DeviceIdentity{}, "", err
	}
	if exists {
		return domain.DeviceIdentity{}, "", domain.ErrAlreadyInitialized
	}
	if n <= 0 {
		n = DefaultOneTimePrekeys
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.DeviceIdentity{}, "", errors.Wrap(err, "generate identity key")
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.DeviceIdentity{}, "", errors.Wrap(err, "generate signing key")
	}

	id := domain.DeviceIdentity{
		UserID:       user,
		DeviceID:     domain.DeviceID(uuid.NewString()),
		IdentityPriv: xPriv,
		IdentityPub:  xPub,
		SigningPriv:  edPriv,
		SigningPub:   edPub,
		CreatedUTC:   time.Now().Unix(),
	}
	if err := s.ids.SaveIdentity(passphrase, id); err != nil {
		return domain.DeviceIdentity{}, "", errors.Wrap(err, "save identity")
	}

	if _, err := s.newSignedPrekey(id); err != nil {
		return domain.DeviceIdentity{}, "", err
	}
	if _, err := s.newOneTimePrekeys(n); err != nil {
		return domain.DeviceIdentity{}, "", err
	}
	if err := s.publishBundle(ctx, id); err != nil {
		return domain.DeviceIdentity{}, "", err
	}

	fp := crypto.Fingerprint(id.IdentityPub.Slice())
	s.log.WithFields(logrus.Fields{
		"user":        user,
		"device":      id.DeviceID,
		"fingerprint": fp,
	}).Info("device identity generated")
	return id, fp, nil
}

// Fingerprint returns the short fingerprint of the local identity key.
func (s *Service) Fingerprint(passphrase string) (string, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(id.IdentityPub.Slice()), nil
}

// ReplenishOneTimePrekeys tops the published pool back up. It asks the
// directory for the unclaimed count and does nothing while that count
// sits at or above the low-water mark. Returns how many prekeys were
// generated.
func (s *Service) ReplenishOneTimePrekeys(
	ctx context.Context,
	passphrase string,
	count int,
) (int, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return 0, err
	}

	remaining, err := s.dir.OneTimePrekeyCount(ctx, id.UserID, id.DeviceID)
	if err != nil {
		return 0, errors.Wrap(err, "query one-time prekey count")
	}
	if remaining >= lowWaterMark {
		return 0, nil
	}
	if count <= 0 {
		count = DefaultOneTimePrekeys - remaining
	}

	if _, err := s.newOneTimePrekeys(count); err != nil {
		return 0, err
	}
	if err := s.publishBundle(ctx, id); err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{
		"device":    id.DeviceID,
		"remaining": remaining,
		"generated": count,
	}).Info("one-time prekeys replenished")
	return count, nil
}

// RotateSignedPrekey generates and publishes a new signed prekey,
// marking it current. The previous one stays in the store for a grace
// period; pairs older than that are pruned.
func (s *Service) RotateSignedPrekey(ctx context.Context, passphrase string) (domain.SignedPrekeyID, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}

	pair, err := s.newSignedPrekey(id)
	if err != nil {
		return "", err
	}
	if err := s.pruneRetiredSignedPrekeys(pair.ID); err != nil {
		return "", err
	}
	if err := s.publishBundle(ctx, id); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"device": id.DeviceID,
		"spk":    pair.ID,
	}).Info("signed prekey rotated")
	return pair.ID, nil
}

// DestroyIdentity wipes the local identity and every other store:
// prekey pairs, pairwise sessions, group sessions, and verification
// records. Nothing keyed to the old identity may survive into a
// regenerated one. Idempotent; destroying an uninitialised device is
// not an error.
func (s *Service) DestroyIdentity() error {
	if err := s.local.DestroyAll(); err != nil {
		return err
	}
	s.log.Warn("device identity destroyed")
	return nil
}

// Bundle builds the public prekey bundle for the local device.
func (s *Service) Bundle(passphrase string) (domain.PrekeyBundle, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.PrekeyBundle{}, err
	}
	return s.buildBundle(id)
}

func (s *Service) newSignedPrekey(id domain.DeviceIdentity) (domain.SignedPrekeyPair, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPrekeyPair{}, errors.Wrap(err, "generate signed prekey")
	}
	pair := domain.SignedPrekeyPair{
		ID:         domain.SignedPrekeyID("spk-" + uuid.NewString()),
		Priv:       priv,
		Pub:        pub,
		Signature:  crypto.SignEd25519(id.SigningPriv, pub.Slice()),
		CreatedUTC: time.Now().Unix(),
	}
	if err := s.pks.SaveSignedPrekey(pair); err != nil {
		return domain.SignedPrekeyPair{}, errors.Wrap(err, "save signed prekey")
	}
	if err := s.pks.SetCurrentSignedPrekeyID(pair.ID); err != nil {
		return domain.SignedPrekeyPair{}, err
	}
	return pair, nil
}

func (s *Service) newOneTimePrekeys(n int) ([]domain.OneTimePrekeyPair, error) {
	pairs := make([]domain.OneTimePrekeyPair, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, errors.Wrap(err, "generate one-time prekey")
		}
		pairs = append(pairs, domain.OneTimePrekeyPair{
			ID:   domain.OneTimePrekeyID("opk-" + uuid.NewString()),
			Priv: priv,
			Pub:  pub,
		})
	}
	if err := s.pks.SaveOneTimePrekeys(pairs); err != nil {
		return nil, errors.Wrap(err, "save one-time prekeys")
	}
	return pairs, nil
}

func (s *Service) pruneRetiredSignedPrekeys(current domain.SignedPrekeyID) error {
	pairs, err := s.pks.ListSignedPrekeys()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-signedPrekeyGrace).Unix()
	for _, p := range pairs {
		if p.ID == current || p.CreatedUTC >= cutoff {
			continue
		}
		if err := s.pks.DeleteSignedPrekey(p.ID); err != nil {
			return err
		}
		s.log.WithField("spk", p.ID).Debug("retired signed prekey pruned")
	}
	return nil
}

func (s *Service) buildBundle(id domain.DeviceIdentity) (domain.PrekeyBundle, error) {
	spkID, ok, err := s.pks.CurrentSignedPrekeyID()
	if err != nil {
		return domain.PrekeyBundle{}, err
	}
	if !ok {
		return domain.PrekeyBundle{}, errors.New("no current signed prekey")
	}
	spk, found, err := s.pks.LoadSignedPrekey(spkID)
	if err != nil {
		return domain.PrekeyBundle{}, err
	}
	if !found {
		return domain.PrekeyBundle{}, errors.Errorf("current signed prekey %q missing", spkID)
	}
	oneTime, err := s.pks.ListOneTimePrekeyPublics()
	if err != nil {
		return domain.PrekeyBundle{}, err
	}
	return domain.PrekeyBundle{
		UserID:                id.UserID,
		DeviceID:              id.DeviceID,
		IdentityKey:           id.IdentityPub,
		SigningKey:            id.SigningPub,
		SignedPrekeyID:        spk.ID,
		SignedPrekey:          spk.Pub,
		SignedPrekeySignature: spk.Signature,
		OneTimePrekeys:        oneTime,
	}, nil
}

func (s *Service) publishBundle(ctx context.Context, id domain.DeviceIdentity) error {
	bundle, err := s.buildBundle(id)
	if err != nil {
		return err
	}
	if err := s.dir.PublishBundle(ctx, bundle); err != nil {
		return errors.Wrap(err, "publish prekey bundle")
	}
	return nil
}
