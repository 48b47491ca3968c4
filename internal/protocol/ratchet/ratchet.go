package ratchet

import (
	"encoding/binary"

	"github.com/loomchat/loom/internal/crypto"
	"github.com/loomchat/loom/internal/domain"
)

const (
	rootLabel  = "loom-dr-root"
	chainLabel = "loom-dr-chain"

	// maxSkip bounds how far ahead of the receive counter a single
	// message may jump. Larger gaps mean the session is desynced.
	maxSkip = 512

	// maxCachedKeys bounds the skipped-key cache across the session's
	// lifetime.
	maxCachedKeys = 1000
)

// InitAsInitiator seeds the sending chain from the X3DH root using a
// fresh ratchet key against the responder's identity key.
func InitAsInitiator(root []byte, peerIdentity domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}

	dh, err := crypto.DH(priv, peerIdentity)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRK, sendCK := kdfRoot(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.RatchetState{
		RootKey:   newRK,
		DHPriv:    priv,
		DHPub:     pub,
		PeerDHPub: peerIdentity, // placeholder until first remote ratchet pub arrives
		SendCK:    sendCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// InitAsResponder seeds the receiving chain from the X3DH root using our
// identity key and the initiator's first ratchet pub.
func InitAsResponder(root []byte, ourIdentityPriv domain.X25519Private, senderRatchetPub domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}

	dh, err := crypto.DH(ourIdentityPriv, senderRatchetPub)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRK, recvCK := kdfRoot(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.RatchetState{
		RootKey:   newRK,
		DHPriv:    priv,
		DHPub:     pub,
		PeerDHPub: senderRatchetPub,
		RecvCK:    recvCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// Encrypt advances the sending chain one step, derives a message key and
// seals plaintext. The responder's first send performs a DH ratchet step
// to open its sending chain.
func Encrypt(st *domain.RatchetState, ad, plaintext []byte) (domain.RatchetHeader, []byte, error) {
	if len(st.SendCK) == 0 {
		if err := dhStepSend(st); err != nil {
			return domain.RatchetHeader{}, nil, err
		}
	}

	mk := stepChain(&st.SendCK)
	h := domain.RatchetHeader{DHPub: st.DHPub.Slice(), PN: st.PN, N: st.Ns}

	ct, err := crypto.Seal(mk, crypto.CounterNonce(h.N), plaintext, withHeader(ad, h))
	crypto.Wipe(mk)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	st.Ns++
	return h, ct, nil
}

// Decrypt opens a message, handling skipped keys and stepping the DH
// ratchet when the header carries a new remote ratchet pub.
//
// Errors: domain.ErrAuthTagMismatch on tampering or desync,
// domain.ErrSkipLimitExceeded when the gap to the receive counter is too
// large, domain.ErrIndexTooOld for an index whose key was already
// consumed (duplicate delivery).
func Decrypt(st *domain.RatchetState, ad []byte, header domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	if len(header.DHPub) != 32 {
		return nil, domain.ErrFormat
	}

	// A key cached for this header means the message was skipped
	// earlier (possibly on a chain already ratcheted away); consume it
	// without touching the chain position.
	if pt, ok, err := openSkipped(st, header, ad, ciphertext); ok || err != nil {
		return pt, err
	}

	if equal32(st.PeerDHPub[:], header.DHPub) {
		if header.N < st.Nr {
			// Key already consumed: duplicate delivery.
			return nil, domain.ErrIndexTooOld
		}
		if err := skipTo(st, header.N); err != nil {
			return nil, err
		}
	} else {
		// New remote ratchet pub: close out the old receiving chain,
		// then advance both chains.
		if err := skipTo(st, header.PN); err != nil {
			return nil, err
		}
		if err := dhStepRecv(st, header); err != nil {
			return nil, err
		}
		if err := skipTo(st, header.N); err != nil {
			return nil, err
		}
	}

	mk := stepChain(&st.RecvCK)
	pt, err := crypto.Open(mk, crypto.CounterNonce(header.N), ciphertext, withHeader(ad, header))
	crypto.Wipe(mk)
	if err != nil {
		return nil, err
	}
	st.Nr++
	return pt, nil
}

// --- DH ratchet steps ---

// dhStepSend opens a fresh sending chain against the peer's current
// ratchet pub. Used on the responder's first send.
func dhStepSend(st *domain.RatchetState) error {
	st.PN = st.Ns
	st.Ns = 0

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh, err := crypto.DH(priv, st.PeerDHPub)
	if err != nil {
		return err
	}
	newRK, sendCK := kdfRoot(st.RootKey, dh[:])
	crypto.Wipe(dh[:])

	st.RootKey = newRK
	st.DHPriv, st.DHPub = priv, pub
	st.SendCK = sendCK
	return nil
}

// dhStepRecv installs the peer's new ratchet pub: first the receiving
// chain from our current key, then a fresh sending chain from a new one.
func dhStepRecv(st *domain.RatchetState, header domain.RatchetHeader) error {
	var newPeer domain.X25519Public
	copy(newPeer[:], header.DHPub)

	dh, err := crypto.DH(st.DHPriv, newPeer)
	if err != nil {
		return err
	}
	rk2, recvCK := kdfRoot(st.RootKey, dh[:])
	crypto.Wipe(dh[:])

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh2, err := crypto.DH(priv, newPeer)
	if err != nil {
		return err
	}
	rk3, sendCK := kdfRoot(rk2, dh2[:])
	crypto.Wipe(dh2[:])

	st.PN = st.Ns
	st.Ns, st.Nr = 0, 0
	st.RootKey = rk3
	st.DHPriv, st.DHPub = priv, pub
	st.PeerDHPub = newPeer
	st.SendCK, st.RecvCK = sendCK, recvCK
	return nil
}

// --- skipped-key handling ---

// openSkipped consumes a cached message key for this index if present.
func openSkipped(st *domain.RatchetState, header domain.RatchetHeader, ad, ciphertext []byte) ([]byte, bool, error) {
	var peer domain.X25519Public
	copy(peer[:], header.DHPub)
	id := skippedKeyID(peer, header.N)
	mk, ok := st.Skipped[id]
	if !ok {
		return nil, false, nil
	}
	delete(st.Skipped, id)
	pt, err := crypto.Open(mk, crypto.CounterNonce(header.N), ciphertext, withHeader(ad, header))
	crypto.Wipe(mk)
	if err != nil {
		return nil, true, err
	}
	return pt, true, nil
}

// skipTo derives and caches message keys up to (but excluding) until.
func skipTo(st *domain.RatchetState, until uint32) error {
	if len(st.RecvCK) == 0 {
		if until == 0 {
			return nil
		}
		return domain.ErrSkipLimitExceeded
	}
	if until > st.Nr && until-st.Nr > maxSkip {
		return domain.ErrSkipLimitExceeded
	}
	for st.Nr < until {
		if len(st.Skipped) >= maxCachedKeys {
			return domain.ErrSkipLimitExceeded
		}
		mk := stepChain(&st.RecvCK)
		st.Skipped[skippedKeyID(st.PeerDHPub, st.Nr)] = mk
		st.Nr++
	}
	return nil
}

func skippedKeyID(peer domain.X25519Public, n uint32) string {
	b := make([]byte, 32+4)
	copy(b, peer[:])
	binary.BigEndian.PutUint32(b[32:], n)
	return string(b)
}

// --- KDFs ---

// kdfRoot mixes a DH output into the root key, yielding the next root
// key and a fresh chain key.
func kdfRoot(rk, dh []byte) (newRK, ck []byte) {
	okm := crypto.HKDF(dh, rk, rootLabel, 64)
	return okm[:32], okm[32:]
}

// stepChain replaces *ck with its successor and returns the message key
// for the current position.
func stepChain(ck *[]byte) []byte {
	okm := crypto.HKDF(*ck, nil, chainLabel, 64)
	*ck = okm[:32]
	return okm[32:]
}

func withHeader(ad []byte, h domain.RatchetHeader) []byte {
	out := make([]byte, 0, len(ad)+len(h.DHPub)+8)
	out = append(out, ad...)
	out = append(out, h.DHPub...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h.PN)
	out = append(out, b[:]...)
	binary.BigEndian.PutUint32(b[:], h.N)
	out = append(out, b[:]...)
	return out
}

func equal32(a, b []byte) bool {
	if len(a) != 32 || len(b) != 32 {
		return false
	}
	var v byte
	for i := 0; i < 32; i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
