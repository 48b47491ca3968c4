package ratchet

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/loomchat/loom/internal/crypto"
	"github.com/loomchat/loom/internal/domain"
)

// newPair seeds two ratchet states sharing a root key, as x3dh would.
func newPair(t *testing.T) (a, b domain.RatchetState) {
	t.Helper()

	root := make([]byte, 32)
	if _, err := rand.Read(root); err != nil {
		t.Fatalf("rand: %v", err)
	}
	idPriv, idPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	a, err = InitAsInitiator(root, idPub)
	if err != nil {
		t.Fatalf("init initiator: %v", err)
	}
	b, err = InitAsResponder(root, idPriv, a.DHPub)
	if err != nil {
		t.Fatalf("init responder: %v", err)
	}
	return a, b
}

func TestRoundTrip(t *testing.T) {
	a, b := newPair(t)

	msg := []byte("hello there")
	h, ct, err := Encrypt(&a, nil, msg)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := Decrypt(&b, nil, h, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestPingPongAcrossDHSteps(t *testing.T) {
	a, b := newPair(t)

	for i := 0; i < 6; i++ {
		var from, to *domain.RatchetState
		if i%2 == 0 {
			from, to = &a, &b
		} else {
			from, to = &b, &a
		}
		msg := []byte{byte(i), 'p', 'i', 'n', 'g'}
		h, ct, err := Encrypt(from, nil, msg)
		if err != nil {
			t.Fatalf("round %d encrypt: %v", i, err)
		}
		pt, err := Decrypt(to, nil, h, ct)
		if err != nil {
			t.Fatalf("round %d decrypt: %v", i, err)
		}
		if !bytes.Equal(pt, msg) {
			t.Fatalf("round %d plaintext mismatch", i)
		}
	}
}

type sealed struct {
	h  domain.RatchetHeader
	ct []byte
	pt []byte
}

func TestOutOfOrderWithinSkipLimit(t *testing.T) {
	a, b := newPair(t)

	var msgs []sealed
	for i := 0; i < 5; i++ {
		pt := []byte{'m', byte('1' + i)}
		h, ct, err := Encrypt(&a, nil, pt)
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		msgs = append(msgs, sealed{h: h, ct: ct, pt: pt})
	}

	// m3 before m1, m2; then the rest in any order.
	order := []int{2, 0, 1, 4, 3}
	for _, i := range order {
		pt, err := Decrypt(&b, nil, msgs[i].h, msgs[i].ct)
		if err != nil {
			t.Fatalf("decrypt m%d: %v", i+1, err)
		}
		if !bytes.Equal(pt, msgs[i].pt) {
			t.Fatalf("m%d plaintext mismatch", i+1)
		}
	}
}

func TestStragglerAcrossDHStep(t *testing.T) {
	a, b := newPair(t)

	h0, ct0, _ := Encrypt(&a, nil, []byte("m0"))
	h1, ct1, _ := Encrypt(&a, nil, []byte("m1"))

	if _, err := Decrypt(&b, nil, h0, ct0); err != nil {
		t.Fatalf("decrypt m0: %v", err)
	}

	// B replies, forcing a DH step on both sides.
	hr, ctr, _ := Encrypt(&b, nil, []byte("reply"))
	if _, err := Decrypt(&a, nil, hr, ctr); err != nil {
		t.Fatalf("decrypt reply: %v", err)
	}

	// A sends on its new chain; B ratchets forward, caching m1's key.
	h2, ct2, _ := Encrypt(&a, nil, []byte("m2"))
	if _, err := Decrypt(&b, nil, h2, ct2); err != nil {
		t.Fatalf("decrypt m2: %v", err)
	}

	// The straggler from the old chain still decrypts.
	pt, err := Decrypt(&b, nil, h1, ct1)
	if err != nil {
		t.Fatalf("decrypt straggler m1: %v", err)
	}
	if !bytes.Equal(pt, []byte("m1")) {
		t.Fatalf("straggler plaintext mismatch: %q", pt)
	}
}

func TestDuplicateDelivery(t *testing.T) {
	a, b := newPair(t)

	h, ct, _ := Encrypt(&a, nil, []byte("once"))
	if _, err := Decrypt(&b, nil, h, ct); err != nil {
		t.Fatalf("first decrypt: %v", err)
	}
	if _, err := Decrypt(&b, nil, h, ct); !errors.Is(err, domain.ErrIndexTooOld) {
		t.Fatalf("duplicate decrypt err = %v, want ErrIndexTooOld", err)
	}
}

func TestTamperedCiphertext(t *testing.T) {
	a, b := newPair(t)

	h, ct, _ := Encrypt(&a, nil, []byte("intact"))
	ct[0] ^= 0xff
	if _, err := Decrypt(&b, nil, h, ct); !errors.Is(err, domain.ErrAuthTagMismatch) {
		t.Fatalf("tampered decrypt err = %v, want ErrAuthTagMismatch", err)
	}
}

func TestSkipLimitExceeded(t *testing.T) {
	a, b := newPair(t)

	// Burn one message so the receiving chain exists on B.
	h, ct, _ := Encrypt(&a, nil, []byte("m0"))
	if _, err := Decrypt(&b, nil, h, ct); err != nil {
		t.Fatalf("decrypt m0: %v", err)
	}

	// Far-future index on the same chain.
	var last domain.RatchetHeader
	var lastCT []byte
	for i := 0; i < maxSkip+2; i++ {
		last, lastCT, _ = Encrypt(&a, nil, []byte("x"))
	}
	if _, err := Decrypt(&b, nil, last, lastCT); !errors.Is(err, domain.ErrSkipLimitExceeded) {
		t.Fatalf("gap decrypt err = %v, want ErrSkipLimitExceeded", err)
	}
}

func TestAssociatedDataBound(t *testing.T) {
	a, b := newPair(t)

	h, ct, err := Encrypt(&a, []byte("envelope-ad"), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(&b, []byte("different-ad"), h, ct); !errors.Is(err, domain.ErrAuthTagMismatch) {
		t.Fatalf("wrong-ad decrypt err = %v, want ErrAuthTagMismatch", err)
	}
}
