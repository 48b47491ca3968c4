package groupratchet

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/loomchat/loom/internal/domain"
)

func newSession(t *testing.T) domain.OutboundGroupSession {
	t.Helper()
	st, err := NewOutbound("conv-1", domain.DefaultRotationPolicy())
	if err != nil {
		t.Fatalf("new outbound: %v", err)
	}
	return st
}

func TestRoundTripFromIndexZero(t *testing.T) {
	out := newSession(t)
	in := Inbound(ExportOutbound(out, "device-a"))

	for i := 0; i < 5; i++ {
		pt := []byte{'g', byte('0' + i)}
		msg, err := Encrypt(&out, pt)
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		if msg.MessageIndex != uint32(i) {
			t.Fatalf("message index = %d, want %d", msg.MessageIndex, i)
		}
		got, err := Decrypt(in, msg)
		if err != nil {
			t.Fatalf("decrypt %d: %v", i, err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("plaintext mismatch at %d", i)
		}
	}
}

func TestOutOfOrderDecrypt(t *testing.T) {
	out := newSession(t)
	in := Inbound(ExportOutbound(out, "device-a"))

	var msgs []domain.GroupMessage
	for i := 0; i < 4; i++ {
		msg, err := Encrypt(&out, []byte{byte(i)})
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		msgs = append(msgs, msg)
	}

	for _, i := range []int{3, 0, 2, 1} {
		got, err := Decrypt(in, msgs[i])
		if err != nil {
			t.Fatalf("decrypt %d: %v", i, err)
		}
		if !bytes.Equal(got, []byte{byte(i)}) {
			t.Fatalf("plaintext mismatch at %d", i)
		}
	}
}

func TestLateJoinerCannotReadHistory(t *testing.T) {
	out := newSession(t)
	full := Inbound(ExportOutbound(out, "device-a"))

	var msgs []domain.GroupMessage
	for i := 0; i < 13; i++ {
		msg, err := Encrypt(&out, []byte{byte(i)})
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		msgs = append(msgs, msg)
	}

	// Late joiner is issued a snapshot at index 10.
	exp, err := ExportInbound(full, 10)
	if err != nil {
		t.Fatalf("export at 10: %v", err)
	}
	late := Inbound(exp)

	for i := 0; i < 10; i++ {
		if _, err := Decrypt(late, msgs[i]); !errors.Is(err, domain.ErrIndexTooOld) {
			t.Fatalf("history decrypt %d err = %v, want ErrIndexTooOld", i, err)
		}
	}
	for i := 10; i < 13; i++ {
		got, err := Decrypt(late, msgs[i])
		if err != nil {
			t.Fatalf("decrypt %d: %v", i, err)
		}
		if !bytes.Equal(got, []byte{byte(i)}) {
			t.Fatalf("plaintext mismatch at %d", i)
		}
	}
}

func TestExportInboundBeforeSnapshot(t *testing.T) {
	out := newSession(t)
	full := Inbound(ExportOutbound(out, "device-a"))
	for i := 0; i < 3; i++ {
		if _, err := Encrypt(&out, []byte("x")); err != nil {
			t.Fatalf("encrypt: %v", err)
		}
	}
	exp, err := ExportInbound(full, 2)
	if err != nil {
		t.Fatalf("export at 2: %v", err)
	}
	if _, err := ExportInbound(Inbound(exp), 1); !errors.Is(err, domain.ErrIndexTooOld) {
		t.Fatalf("backward export err = %v, want ErrIndexTooOld", err)
	}
}

func TestRotationIsolation(t *testing.T) {
	out := newSession(t)
	preRotation := Inbound(ExportOutbound(out, "device-a"))

	rotated, err := NewOutbound(out.ConversationID, out.Policy)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	msg, err := Encrypt(&rotated, []byte("post-rotation"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Pre-rotation state must not decrypt post-rotation traffic.
	if _, err := Decrypt(preRotation, msg); err == nil {
		t.Fatal("pre-rotation session decrypted post-rotation message")
	}
}

func TestShouldRotate(t *testing.T) {
	out := newSession(t)
	out.Policy = domain.RotationPolicy{MaxAge: time.Hour, MaxMessages: 2}

	now := time.Unix(out.CreatedUTC, 0)
	if ShouldRotate(out, now) {
		t.Fatal("fresh session should not rotate")
	}

	out.MessageIndex = 2
	if !ShouldRotate(out, now) {
		t.Fatal("session at message limit should rotate")
	}

	out.MessageIndex = 0
	if !ShouldRotate(out, now.Add(2*time.Hour)) {
		t.Fatal("session past max age should rotate")
	}
}

func TestTamperedSignature(t *testing.T) {
	out := newSession(t)
	in := Inbound(ExportOutbound(out, "device-a"))

	msg, err := Encrypt(&out, []byte("signed"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg.Signature[0] ^= 0xff
	if _, err := Decrypt(in, msg); !errors.Is(err, domain.ErrAuthTagMismatch) {
		t.Fatalf("tampered signature err = %v, want ErrAuthTagMismatch", err)
	}
}

func TestTamperedCiphertext(t *testing.T) {
	out := newSession(t)
	in := Inbound(ExportOutbound(out, "device-a"))

	msg, err := Encrypt(&out, []byte("sealed"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg.Cipher[0] ^= 0xff
	if _, err := Decrypt(in, msg); !errors.Is(err, domain.ErrAuthTagMismatch) {
		t.Fatalf("tampered cipher err = %v, want ErrAuthTagMismatch", err)
	}
}

func TestWrongSessionID(t *testing.T) {
	out := newSession(t)
	other := newSession(t)
	in := Inbound(ExportOutbound(other, "device-b"))

	msg, err := Encrypt(&out, []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(in, msg); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("wrong session err = %v, want ErrSessionNotFound", err)
	}
}
