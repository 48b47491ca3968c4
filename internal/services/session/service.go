package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/loomchat/loom/internal/domain"
	"github.com/loomchat/loom/internal/protocol/ratchet"
	"github.com/loomchat/loom/internal/protocol/x3dh"
	"github.com/loomchat/loom/internal/util/keymutex"
)

// Service runs the pairwise engine over the session store and key
// directory.
type Service struct {
	ids   domain.IdentityStore
	pks   domain.PrekeyStore
	sess  domain.SessionStore
	dir   domain.DirectoryClient
	locks *keymutex.Registry
	log   *logrus.Logger
}

// New returns a pairwise session engine.
func New(
	ids domain.IdentityStore,
	pks domain.PrekeyStore,
	sess domain.SessionStore,
	dir domain.DirectoryClient,
	log *logrus.Logger,
) *Service {
	return &Service{ids: ids, pks: pks, sess: sess, dir: dir, locks: keymutex.New(), log: log}
}

// EstablishOutbound claims the peer's prekey bundle, runs the initiator
// key agreement, and persists a fresh establishing session. The per-peer
// lock spans the claim and the mutation because the derived state
// depends on the freshly claimed bundle. An existing session for the
// same peer is superseded.
func (s *Service) EstablishOutbound(
	ctx context.Context,
	passphrase string,
	user domain.UserID,
	device domain.DeviceID,
) (domain.PairwiseSession, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.PairwiseSession{}, err
	}

	// The claim lock spans the network fetch because the derived state
	// depends on the claimed bundle; the per-session lock below only
	// covers the mutation.
	unlockClaim := s.locks.Lock(peerKey(user, device))
	defer unlockClaim()

	bundle, err := s.dir.ClaimBundle(ctx, user, device)
	if err != nil {
		return domain.PairwiseSession{}, errors.Wrap(err, "claim prekey bundle")
	}
	unlockSess := s.locks.Lock(bundle.IdentityKey.Hex())
	defer unlockSess()

	root, ephPub, usedOPK, err := x3dh.InitiatorRoot(id, bundle)
	if err != nil {
		return domain.PairwiseSession{}, err
	}
	st, err := ratchet.InitAsInitiator(root, bundle.IdentityKey)
	if err != nil {
		return domain.PairwiseSession{}, err
	}

	if old, ok, err := s.sess.LoadSession(bundle.IdentityKey); err != nil {
		return domain.PairwiseSession{}, err
	} else if ok {
		old.State = domain.SessionSuperseded
		s.log.WithFields(logrus.Fields{
			"peer":  old.Peer.DeviceID,
			"state": old.State,
		}).Info("existing session superseded by new outbound establishment")
	}

	sess := domain.PairwiseSession{
		Peer: domain.RemoteDevice{
			UserID:      bundle.UserID,
			DeviceID:    bundle.DeviceID,
			IdentityKey: bundle.IdentityKey,
			SigningKey:  bundle.SigningKey,
		},
		State: domain.SessionEstablishing,
		Prekey: &domain.PrekeyMessage{
			InitiatorIdentityKey: id.IdentityPub,
			InitiatorSigningKey:  id.SigningPub,
			EphemeralKey:         ephPub,
			SignedPrekeyID:       bundle.SignedPrekeyID,
			OneTimePrekeyID:      usedOPK,
		},
		Ratchet:    st,
		CreatedUTC: time.Now().Unix(),
	}
	if err := s.sess.SaveSession(sess); err != nil {
		return domain.PairwiseSession{}, errors.Wrap(err, "save session")
	}
	s.log.WithFields(logrus.Fields{
		"peer_user":   user,
		"peer_device": device,
		"used_opk":    usedOPK != "",
	}).Info("outbound session established")
	return sess, nil
}

// Encrypt advances the sending chain for the peer and returns the wire
// envelope. Until the peer has answered, envelopes carry the handshake
// material and are framed as prekey messages so the peer can establish
// its side. Fails with ErrSessionNotFound when no session exists.
func (s *Service) Encrypt(
	passphrase string,
	remoteIdentity domain.X25519Public,
	plaintext []byte,
) (domain.Envelope, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.Envelope{}, err
	}

	unlock := s.locks.Lock(remoteIdentity.Hex())
	defer unlock()

	sess, ok, err := s.sess.LoadSession(remoteIdentity)
	if err != nil {
		return domain.Envelope{}, err
	}
	if !ok || sess.State == domain.SessionDestroyed {
		return domain.Envelope{}, domain.ErrSessionNotFound
	}

	ad := bindIdentities(id.IdentityPub, sess.Peer.IdentityKey)
	header, ct, err := ratchet.Encrypt(&sess.Ratchet, ad, plaintext)
	if err != nil {
		return domain.Envelope{}, err
	}

	typ := domain.MessageNormal
	var prekey *domain.PrekeyMessage
	if !sess.HasReceivedMessage && sess.Prekey != nil {
		typ = domain.MessagePrekey
		prekey = sess.Prekey
	}

	// Persist the advanced chain before handing the envelope out so a
	// crash cannot reuse a message key.
	if err := s.sess.SaveSession(sess); err != nil {
		return domain.Envelope{}, errors.Wrap(err, "save session")
	}

	return domain.Envelope{
		From:      id.DeviceID,
		FromUser:  id.UserID,
		To:        sess.Peer.DeviceID,
		ToUser:    sess.Peer.UserID,
		Type:      typ,
		Header:    header,
		Cipher:    ct,
		Prekey:    prekey,
		Timestamp: time.Now().Unix(),
	}, nil
}

// Decrypt opens an inbound envelope. A prekey envelope with no matching
// session runs the responder key agreement first, consuming the
// referenced one-time prekey; a prekey envelope for a peer that already
// has a session from a different handshake supersedes that session.
// Failed decrypts leave the stored ratchet state untouched.
func (s *Service) Decrypt(passphrase string, env domain.Envelope) ([]byte, error) {
	if err := validateEnvelope(env); err != nil {
		return nil, err
	}
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return nil, err
	}

	remoteIdentity, ok, err := s.senderIdentity(env)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	unlock := s.locks.Lock(remoteIdentity.Hex())
	defer unlock()

	sess, ok, err := s.sess.LoadSession(remoteIdentity)
	if err != nil {
		return nil, err
	}
	if ok && sess.State == domain.SessionDestroyed {
		ok = false
	}

	if env.Type == domain.MessagePrekey {
		fresh := !ok || sess.Prekey == nil ||
			sess.Prekey.EphemeralKey != env.Prekey.EphemeralKey
		if fresh {
			if ok {
				sess.State = domain.SessionSuperseded
				s.log.WithFields(logrus.Fields{
					"peer":  env.From,
					"state": sess.State,
				}).Info("session superseded by new prekey message")
			}
			sess, err = s.establishInbound(id, env)
			if err != nil {
				return nil, err
			}
		}
	} else if !ok {
		return nil, domain.ErrSessionNotFound
	}

	ad := bindIdentities(sess.Peer.IdentityKey, id.IdentityPub)
	pt, err := ratchet.Decrypt(&sess.Ratchet, ad, env.Header, env.Cipher)
	if err != nil {
		// The in-memory state may have stepped; the stored copy has
		// not. Dropping it here is the recovery.
		return nil, err
	}

	sess.HasReceivedMessage = true
	if sess.State == domain.SessionEstablishing {
		sess.State = domain.SessionActive
	}
	if err := s.sess.SaveSession(sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	return pt, nil
}

// Session returns the stored session for a remote identity key.
func (s *Service) Session(remoteIdentity domain.X25519Public) (domain.PairwiseSession, bool, error) {
	return s.sess.LoadSession(remoteIdentity)
}

// Sessions lists every stored session.
func (s *Service) Sessions() ([]domain.PairwiseSession, error) {
	return s.sess.ListSessions()
}

// DestroySession wipes the session for a remote identity key. Recovery
// from a corrupted ratchet is a fresh establishment, never repair.
func (s *Service) DestroySession(remoteIdentity domain.X25519Public) error {
	unlock := s.locks.Lock(remoteIdentity.Hex())
	defer unlock()
	return s.sess.DeleteSession(remoteIdentity)
}

// establishInbound runs the responder side of the key agreement from the
// envelope's handshake material.
func (s *Service) establishInbound(id domain.DeviceIdentity, env domain.Envelope) (domain.PairwiseSession, error) {
	pre := *env.Prekey

	spk, found, err := s.pks.LoadSignedPrekey(pre.SignedPrekeyID)
	if err != nil {
		return domain.PairwiseSession{}, err
	}
	if !found {
		return domain.PairwiseSession{}, errors.Wrapf(
			domain.ErrPrekeyNotFound, "signed prekey %q", pre.SignedPrekeyID)
	}

	var opkPriv *domain.X25519Private
	if pre.OneTimePrekeyID != "" {
		pair, ok, err := s.pks.ConsumeOneTimePrekey(pre.OneTimePrekeyID)
		if err != nil {
			return domain.PairwiseSession{}, err
		}
		if !ok {
			// Unknown or already consumed. Replayed prekey messages
			// land here and must fail.
			return domain.PairwiseSession{}, errors.Wrapf(
				domain.ErrPrekeyNotFound, "one-time prekey %q", pre.OneTimePrekeyID)
		}
		opkPriv = &pair.Priv
	}

	root, err := x3dh.ResponderRoot(id, spk.Priv, opkPriv, pre)
	if err != nil {
		return domain.PairwiseSession{}, err
	}
	var senderPub domain.X25519Public
	copy(senderPub[:], env.Header.DHPub)
	st, err := ratchet.InitAsResponder(root, id.IdentityPriv, senderPub)
	if err != nil {
		return domain.PairwiseSession{}, err
	}

	s.log.WithFields(logrus.Fields{
		"peer_user":   env.FromUser,
		"peer_device": env.From,
		"used_opk":    pre.OneTimePrekeyID != "",
	}).Info("inbound session established")

	return domain.PairwiseSession{
		Peer: domain.RemoteDevice{
			UserID:      env.FromUser,
			DeviceID:    env.From,
			IdentityKey: pre.InitiatorIdentityKey,
			SigningKey:  pre.InitiatorSigningKey,
		},
		State:      domain.SessionEstablishing,
		Prekey:     &pre,
		Ratchet:    st,
		CreatedUTC: time.Now().Unix(),
	}, nil
}

// senderIdentity resolves the envelope's sender to a remote identity
// key. Prekey envelopes carry it; normal ones are matched by device.
func (s *Service) senderIdentity(env domain.Envelope) (domain.X25519Public, bool, error) {
	if env.Type == domain.MessagePrekey {
		return env.Prekey.InitiatorIdentityKey, true, nil
	}
	all, err := s.sess.ListSessions()
	if err != nil {
		return domain.X25519Public{}, false, err
	}
	for _, sess := range all {
		if sess.Peer.UserID == env.FromUser && sess.Peer.DeviceID == env.From &&
			sess.State != domain.SessionDestroyed {
			return sess.Peer.IdentityKey, true, nil
		}
	}
	return domain.X25519Public{}, false, nil
}

func validateEnvelope(env domain.Envelope) error {
	switch env.Type {
	case domain.MessagePrekey:
		if env.Prekey == nil {
			return errors.Wrap(domain.ErrFormat, "prekey envelope without handshake material")
		}
	case domain.MessageNormal:
	default:
		return errors.Wrapf(domain.ErrFormat, "unknown message type %q", env.Type)
	}
	if len(env.Header.DHPub) != 32 {
		return errors.Wrap(domain.ErrFormat, "bad ratchet header")
	}
	if len(env.Cipher) == 0 {
		return errors.Wrap(domain.ErrFormat, "empty ciphertext")
	}
	return nil
}

// bindIdentities is the associated data for pairwise AEAD, always in
// sender-then-receiver order.
func bindIdentities(sender, receiver domain.X25519Public) []byte {
	out := make([]byte, 0, 64)
	out = append(out, sender.Slice()...)
	out = append(out, receiver.Slice()...)
	return out
}

func peerKey(user domain.UserID, device domain.DeviceID) string {
	return user.String() + "/" + device.String()
}
