package groupratchet

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/loomchat/loom/internal/crypto"
	"github.com/loomchat/loom/internal/domain"
)

const (
	advanceLabel = "loom-mg-advance"
	messageLabel = "loom-mg-message"
)

// NewOutbound creates a fresh outbound session for a conversation: a
// random ratchet seed at index zero and a new per-session signing pair.
// The authoring device is only recorded on export.
func NewOutbound(conv domain.ConversationID, policy domain.RotationPolicy) (domain.OutboundGroupSession, error) {
	var seed domain.ChainKey
	if _, err := rand.Read(seed[:]); err != nil {
		return domain.OutboundGroupSession{}, err
	}
	signPriv, signPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.OutboundGroupSession{}, err
	}

	return domain.OutboundGroupSession{
		ID:             domain.GroupSessionID(uuid.NewString()),
		ConversationID: conv,
		Ratchet:        seed,
		MessageIndex:   0,
		SigningPriv:    signPriv,
		SigningPub:     signPub,
		CreatedUTC:     time.Now().Unix(),
		Policy:         policy,
	}, nil
}

// ShouldRotate reports whether the session has hit its age or message
// count limit.
func ShouldRotate(st domain.OutboundGroupSession, now time.Time) bool {
	if st.Policy.MaxMessages > 0 && st.MessageIndex >= st.Policy.MaxMessages {
		return true
	}
	if st.Policy.MaxAge > 0 && now.Sub(time.Unix(st.CreatedUTC, 0)) >= st.Policy.MaxAge {
		return true
	}
	return false
}

// Encrypt seals plaintext at the session's current index, signs the
// result with the session key, and advances the ratchet one step.
// Knowledge of the post-advance state never reveals this message's key.
func Encrypt(st *domain.OutboundGroupSession, plaintext []byte) (domain.GroupMessage, error) {
	idx := st.MessageIndex
	mk := messageKey(st.Ratchet)

	ct, err := crypto.Seal(mk, crypto.CounterNonce(idx), plaintext, messageAD(st.ID, st.ConversationID, idx))
	crypto.Wipe(mk)
	if err != nil {
		return domain.GroupMessage{}, err
	}

	msg := domain.GroupMessage{
		ConversationID: st.ConversationID,
		SessionID:      st.ID,
		MessageIndex:   idx,
		Cipher:         ct,
		Timestamp:      time.Now().Unix(),
	}
	msg.Signature = crypto.SignEd25519(st.SigningPriv, signedBody(msg))

	st.Ratchet = advance(st.Ratchet)
	st.MessageIndex = idx + 1
	return msg, nil
}

// ExportOutbound snapshots the outbound session at its current index for
// sharing. Earlier indices are unreachable from the live ratchet; use an
// inbound copy for those.
func ExportOutbound(st domain.OutboundGroupSession, sender domain.DeviceID) domain.GroupSessionExport {
	return domain.GroupSessionExport{
		ID:              st.ID,
		ConversationID:  st.ConversationID,
		Sender:          sender,
		FirstKnownIndex: st.MessageIndex,
		Ratchet:         st.Ratchet,
		SigningPub:      st.SigningPub,
	}
}

// Inbound builds an inbound session from an export.
func Inbound(exp domain.GroupSessionExport) domain.InboundGroupSession {
	return domain.InboundGroupSession{
		ID:              exp.ID,
		ConversationID:  exp.ConversationID,
		Sender:          exp.Sender,
		FirstKnownIndex: exp.FirstKnownIndex,
		Ratchet:         exp.Ratchet,
		SigningPub:      exp.SigningPub,
	}
}

// ExportInbound re-exports an inbound session at a later index, the
// forward-only view handed to late joiners. Asking for an index before
// FirstKnownIndex fails with domain.ErrIndexTooOld.
func ExportInbound(st domain.InboundGroupSession, at uint32) (domain.GroupSessionExport, error) {
	if at < st.FirstKnownIndex {
		return domain.GroupSessionExport{}, domain.ErrIndexTooOld
	}
	r := st.Ratchet
	for i := st.FirstKnownIndex; i < at; i++ {
		r = advance(r)
	}
	return domain.GroupSessionExport{
		ID:              st.ID,
		ConversationID:  st.ConversationID,
		Sender:          st.Sender,
		FirstKnownIndex: at,
		Ratchet:         r,
		SigningPub:      st.SigningPub,
	}, nil
}

// Decrypt opens a group message against an inbound session. The inbound
// state is never mutated; each call seeks forward from FirstKnownIndex.
//
// Errors: domain.ErrIndexTooOld for messages predating the snapshot,
// domain.ErrAuthTagMismatch for a bad signature or AEAD tag.
func Decrypt(st domain.InboundGroupSession, msg domain.GroupMessage) ([]byte, error) {
	if msg.SessionID != st.ID {
		return nil, domain.ErrSessionNotFound
	}
	if msg.MessageIndex < st.FirstKnownIndex {
		return nil, domain.ErrIndexTooOld
	}
	if !crypto.VerifyEd25519(st.SigningPub, signedBody(msg), msg.Signature) {
		return nil, domain.ErrAuthTagMismatch
	}

	r := st.Ratchet
	for i := st.FirstKnownIndex; i < msg.MessageIndex; i++ {
		r = advance(r)
	}
	mk := messageKey(r)
	pt, err := crypto.Open(mk, crypto.CounterNonce(msg.MessageIndex), msg.Cipher, messageAD(st.ID, st.ConversationID, msg.MessageIndex))
	crypto.Wipe(mk)
	return pt, err
}

// advance is the one-way step: HMAC-SHA256 keyed by the current ratchet
// value. Inverting it would require breaking the hash.
func advance(r domain.ChainKey) domain.ChainKey {
	var next domain.ChainKey
	copy(next[:], crypto.HMACSHA256(r[:], []byte(advanceLabel)))
	return next
}

// messageKey derives the AEAD key for the current ratchet position.
func messageKey(r domain.ChainKey) []byte {
	return crypto.HKDF(r[:], nil, messageLabel, crypto.AEADKeySize)
}

func messageAD(id domain.GroupSessionID, conv domain.ConversationID, idx uint32) []byte {
	out := make([]byte, 0, len(id)+len(conv)+4)
	out = append(out, id...)
	out = append(out, conv...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], idx)
	return append(out, b[:]...)
}

func signedBody(msg domain.GroupMessage) []byte {
	out := make([]byte, 0, len(msg.ConversationID)+len(msg.SessionID)+4+len(msg.Cipher))
	out = append(out, msg.ConversationID...)
	out = append(out, msg.SessionID...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], msg.MessageIndex)
	out = append(out, b[:]...)
	return append(out, msg.Cipher...)
}
