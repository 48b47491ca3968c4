package group

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/loomchat/loom/internal/domain"
	"github.com/loomchat/loom/internal/protocol/groupratchet"
	"github.com/loomchat/loom/internal/services/session"
	"github.com/loomchat/loom/internal/util/keymutex"
)

// Service runs the group engine over the group store, using the pairwise
// engine to wrap session keys per recipient.
type Service struct {
	ids   domain.IdentityStore
	gs    domain.GroupStore
	pair  *session.Service
	locks *keymutex.Registry
	log   *logrus.Logger
}

// New returns a group session engine.
func New(ids domain.IdentityStore, gs domain.GroupStore, pair *session.Service, log *logrus.Logger) *Service {
	return &Service{ids: ids, gs: gs, pair: pair, locks: keymutex.New(), log: log}
}

// CreateOutboundSession mints a fresh sender-key session for the
// conversation, replacing any existing one. The device keeps its own
// inbound copy at index zero so it can re-export the key at any later
// index and decrypt its own history.
func (s *Service) CreateOutboundSession(
	passphrase string,
	conv domain.ConversationID,
	policy domain.RotationPolicy,
) (domain.OutboundGroupSession, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.OutboundGroupSession{}, err
	}

	unlock := s.locks.Lock(conv.String())
	defer unlock()
	return s.createLocked(id, conv, policy)
}

// EncryptGroup advances the conversation's outbound ratchet one step and
// returns the wire message. When the rotation policy triggers, a new
// session is minted first; members must be issued its key. Fails with
// ErrSessionNotFound when CreateOutboundSession was never called.
func (s *Service) EncryptGroup(
	passphrase string,
	conv domain.ConversationID,
	plaintext []byte,
) (domain.GroupMessage, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.GroupMessage{}, err
	}

	unlock := s.locks.Lock(conv.String())
	defer unlock()

	out, ok, err := s.gs.LoadOutbound(conv)
	if err != nil {
		return domain.GroupMessage{}, err
	}
	if !ok {
		return domain.GroupMessage{}, errors.Wrapf(domain.ErrSessionNotFound,
			"no outbound group session for %q", conv)
	}

	if groupratchet.ShouldRotate(out, time.Now()) {
		s.log.WithFields(logrus.Fields{
			"conversation": conv,
			"session":      out.ID,
			"index":        out.MessageIndex,
		}).Info("outbound group session rotated")
		out, err = s.createLocked(id, conv, out.Policy)
		if err != nil {
			return domain.GroupMessage{}, err
		}
	}

	msg, err := groupratchet.Encrypt(&out, plaintext)
	if err != nil {
		return domain.GroupMessage{}, err
	}
	msg.Sender = id.DeviceID

	// Persist the advanced ratchet before handing the message out.
	if err := s.gs.SaveOutbound(out); err != nil {
		return domain.GroupMessage{}, errors.Wrap(err, "save outbound group session")
	}
	return msg, nil
}

// ShareSessionKey exports the conversation's current session key
// starting at index, wrapped by the pairwise engine for each recipient.
// An export at the current message index admits a member to new
// messages only; exporting below the device's own first known index
// fails with ErrIndexTooOld.
func (s *Service) ShareSessionKey(
	passphrase string,
	conv domain.ConversationID,
	atIndex uint32,
	recipients []domain.X25519Public,
) ([]domain.Envelope, error) {
	unlock := s.locks.Lock(conv.String())

	out, ok, err := s.gs.LoadOutbound(conv)
	if err != nil {
		unlock()
		return nil, err
	}
	if !ok {
		unlock()
		return nil, errors.Wrapf(domain.ErrSessionNotFound,
			"no outbound group session for %q", conv)
	}
	own, ok, err := s.gs.LoadInbound(conv, out.ID)
	unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrSessionNotFound,
			"own inbound copy missing for %q", out.ID)
	}

	exp, err := groupratchet.ExportInbound(own, atIndex)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(exp)
	if err != nil {
		return nil, err
	}

	envs := make([]domain.Envelope, 0, len(recipients))
	for _, r := range recipients {
		env, err := s.pair.Encrypt(passphrase, r, payload)
		if err != nil {
			return nil, errors.Wrapf(err, "wrap session key for %s", r.Hex())
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// ImportSharedKey unwraps a pairwise envelope carrying a session key
// export and imports it.
func (s *Service) ImportSharedKey(passphrase string, env domain.Envelope) (domain.InboundGroupSession, error) {
	payload, err := s.pair.Decrypt(passphrase, env)
	if err != nil {
		return domain.InboundGroupSession{}, err
	}
	var exp domain.GroupSessionExport
	if err := json.Unmarshal(payload, &exp); err != nil {
		return domain.InboundGroupSession{}, errors.Wrap(domain.ErrFormat, err.Error())
	}
	return s.ImportInboundSession(exp)
}

// ImportInboundSession creates or updates the inbound session for an
// export. An import can extend capability backwards but a session
// already known at an earlier index is kept as is.
func (s *Service) ImportInboundSession(exp domain.GroupSessionExport) (domain.InboundGroupSession, error) {
	if exp.ID == "" || exp.ConversationID == "" {
		return domain.InboundGroupSession{}, errors.Wrap(domain.ErrFormat, "incomplete session export")
	}
	in := groupratchet.Inbound(exp)
	if err := s.gs.SaveInbound(in); err != nil {
		return domain.InboundGroupSession{}, errors.Wrap(err, "save inbound group session")
	}
	// The store may have kept an existing record with a wider view;
	// report what is actually on disk.
	kept, ok, err := s.gs.LoadInbound(in.ConversationID, in.ID)
	if err != nil {
		return domain.InboundGroupSession{}, err
	}
	if !ok {
		return domain.InboundGroupSession{}, errors.Wrapf(domain.ErrSessionNotFound,
			"inbound group session %q vanished after import", in.ID)
	}
	s.log.WithFields(logrus.Fields{
		"conversation": kept.ConversationID,
		"session":      kept.ID,
		"first_index":  kept.FirstKnownIndex,
	}).Info("inbound group session imported")
	return kept, nil
}

// DecryptGroup opens a group message against the matching inbound
// session. Fails with ErrSessionNotFound when the key was never
// received, ErrIndexTooOld when the message predates the device's view,
// and ErrAuthTagMismatch on tampering.
func (s *Service) DecryptGroup(msg domain.GroupMessage) ([]byte, error) {
	in, ok, err := s.gs.LoadInbound(msg.ConversationID, msg.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrSessionNotFound,
			"no inbound group session %q in %q", msg.SessionID, msg.ConversationID)
	}
	return groupratchet.Decrypt(in, msg)
}

// OutboundSession returns the stored outbound session for a
// conversation.
func (s *Service) OutboundSession(conv domain.ConversationID) (domain.OutboundGroupSession, bool, error) {
	return s.gs.LoadOutbound(conv)
}

func (s *Service) createLocked(
	id domain.DeviceIdentity,
	conv domain.ConversationID,
	policy domain.RotationPolicy,
) (domain.OutboundGroupSession, error) {
	out, err := groupratchet.NewOutbound(conv, policy)
	if err != nil {
		return domain.OutboundGroupSession{}, err
	}
	if err := s.gs.SaveOutbound(out); err != nil {
		return domain.OutboundGroupSession{}, errors.Wrap(err, "save outbound group session")
	}
	if err := s.gs.SaveInbound(groupratchet.Inbound(groupratchet.ExportOutbound(out, id.DeviceID))); err != nil {
		return domain.OutboundGroupSession{}, errors.Wrap(err, "save own inbound copy")
	}
	s.log.WithFields(logrus.Fields{
		"conversation": conv,
		"session":      out.ID,
	}).Info("outbound group session created")
	return out, nil
}
