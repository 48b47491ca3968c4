package verify

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loomchat/loom/internal/crypto"
	"github.com/loomchat/loom/internal/domain"
)

// Service records out-of-band device verifications.
type Service struct {
	vs  domain.VerifyStore
	log *logrus.Logger
}

// New returns a verification tracker over the given store.
func New(vs domain.VerifyStore, log *logrus.Logger) *Service {
	return &Service{vs: vs, log: log}
}

// MarkVerified records that the user compared fingerprints with the
// device out-of-band. Re-verifying updates the timestamp.
func (s *Service) MarkVerified(dev domain.RemoteDevice) error {
	rec := domain.VerifiedDevice{
		UserID:      dev.UserID,
		DeviceID:    dev.DeviceID,
		Fingerprint: crypto.Fingerprint(dev.IdentityKey.Slice()),
		VerifiedUTC: time.Now().Unix(),
	}
	if err := s.vs.MarkVerified(rec); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"user":        dev.UserID,
		"device":      dev.DeviceID,
		"fingerprint": rec.Fingerprint,
	}).Info("device marked verified")
	return nil
}

// GetVerifiedDevices lists the user's verified devices.
func (s *Service) GetVerifiedDevices(user domain.UserID) ([]domain.VerifiedDevice, error) {
	return s.vs.VerifiedDevices(user)
}

// IsVerified reports whether a device was verified.
func (s *Service) IsVerified(user domain.UserID, device domain.DeviceID) (bool, error) {
	return s.vs.IsVerified(user, device)
}

// Fingerprint returns the short fingerprint a user reads out to compare
// with the peer's screen.
func Fingerprint(identity domain.X25519Public) string {
	return crypto.Fingerprint(identity.Slice())
}
