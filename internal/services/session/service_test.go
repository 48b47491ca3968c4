package session

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/directory"
	"github.com/loomchat/loom/internal/domain"
	"github.com/loomchat/loom/internal/services/identity"
	"github.com/loomchat/loom/internal/store"
)

type device struct {
	id  domain.DeviceIdentity
	svc *Service
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newDevice provisions an identity with published prekeys and a session
// engine sharing the given directory.
func newDevice(t *testing.T, dir *directory.Memory, user domain.UserID) *device {
	t.Helper()
	st := store.NewStores(t.TempDir())
	log := quietLogger()

	idSvc := identity.New(st.Identity, st.Prekeys, st, dir, log)
	id, _, err := idSvc.GenerateIdentity(context.Background(), "p", user, 5)
	require.NoError(t, err)

	return &device{
		id:  id,
		svc: New(st.Identity, st.Prekeys, st.Sessions, dir, log),
	}
}

// newDeviceLogged is newDevice with a capturing log hook.
func newDeviceLogged(t *testing.T, dir *directory.Memory, user domain.UserID) (*device, *logtest.Hook) {
	t.Helper()
	st := store.NewStores(t.TempDir())
	log, hook := logtest.NewNullLogger()

	idSvc := identity.New(st.Identity, st.Prekeys, st, dir, log)
	id, _, err := idSvc.GenerateIdentity(context.Background(), "p", user, 5)
	require.NoError(t, err)

	return &device{
		id:  id,
		svc: New(st.Identity, st.Prekeys, st.Sessions, dir, log),
	}, hook
}

func establish(t *testing.T, dir *directory.Memory) (alice, bob *device) {
	t.Helper()
	alice = newDevice(t, dir, "alice")
	bob = newDevice(t, dir, "bob")
	_, err := alice.svc.EstablishOutbound(context.Background(), "p", "bob", bob.id.DeviceID)
	require.NoError(t, err)
	return alice, bob
}

func TestFirstMessageRoundTrip(t *testing.T) {
	alice, bob := establish(t, directory.NewMemory())

	env, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("hello bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessagePrekey, env.Type)
	require.NotNil(t, env.Prekey)

	pt, err := bob.svc.Decrypt("p", env)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello bob"), pt)

	// Bob's reply flows back over the established session.
	reply, err := bob.svc.Encrypt("p", alice.id.IdentityPub, []byte("hi alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageNormal, reply.Type)

	pt, err = alice.svc.Decrypt("p", reply)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi alice"), pt)

	// Alice has now heard back; her framing switches to normal.
	env2, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageNormal, env2.Type)
	assert.Nil(t, env2.Prekey)
}

func TestReorderedDeliveryWithinSkipLimit(t *testing.T) {
	alice, bob := establish(t, directory.NewMemory())

	plains := [][]byte{
		[]byte("m1"), []byte("m2"), []byte("m3"), []byte("m4"), []byte("m5"),
	}
	envs := make([]domain.Envelope, len(plains))
	for i, p := range plains {
		env, err := alice.svc.Encrypt("p", bob.id.IdentityPub, p)
		require.NoError(t, err)
		envs[i] = env
	}

	// m3 lands before m1 and m2; the rest arrive scrambled too.
	for _, i := range []int{2, 0, 1, 4, 3} {
		pt, err := bob.svc.Decrypt("p", envs[i])
		require.NoError(t, err, "message %d", i)
		assert.Equal(t, plains[i], pt)
	}
}

func TestReplayedPrekeyEnvelopeDoesNotRebuildSession(t *testing.T) {
	alice, bob := establish(t, directory.NewMemory())

	env1, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("one"))
	require.NoError(t, err)
	env2, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("two"))
	require.NoError(t, err)
	require.Equal(t, domain.MessagePrekey, env2.Type)

	_, err = bob.svc.Decrypt("p", env1)
	require.NoError(t, err)

	// Second prekey envelope from the same handshake: the one-time
	// prekey is already consumed, so this must reuse the session, not
	// re-establish it.
	pt, err := bob.svc.Decrypt("p", env2)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), pt)
}

func TestNewPrekeyMessageSupersedesOldSession(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob := establish(t, dir)

	env, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("old session"))
	require.NoError(t, err)
	_, err = bob.svc.Decrypt("p", env)
	require.NoError(t, err)

	// Alice loses her session and starts over with a fresh handshake.
	require.NoError(t, alice.svc.DestroySession(bob.id.IdentityPub))
	_, err = alice.svc.EstablishOutbound(context.Background(), "p", "bob", bob.id.DeviceID)
	require.NoError(t, err)

	env2, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("new session"))
	require.NoError(t, err)
	pt, err := bob.svc.Decrypt("p", env2)
	require.NoError(t, err)
	assert.Equal(t, []byte("new session"), pt)

	sess, ok, err := bob.svc.Session(alice.id.IdentityPub)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env2.Prekey.EphemeralKey, sess.Prekey.EphemeralKey)
}

func TestDecryptUnknownSenderFails(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob := establish(t, dir)

	env, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("x"))
	require.NoError(t, err)

	// Strip the handshake material and claim an established session.
	env.Type = domain.MessageNormal
	env.Prekey = nil
	_, err = bob.svc.Decrypt("p", env)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestTamperedEnvelopeFails(t *testing.T) {
	alice, bob := establish(t, directory.NewMemory())

	env, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("payload"))
	require.NoError(t, err)
	env.Cipher[len(env.Cipher)/2] ^= 0x01

	_, err = bob.svc.Decrypt("p", env)
	assert.ErrorIs(t, err, domain.ErrAuthTagMismatch)
}

func TestFailedDecryptLeavesStateUsable(t *testing.T) {
	alice, bob := establish(t, directory.NewMemory())

	good1, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("first"))
	require.NoError(t, err)
	good2, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("second"))
	require.NoError(t, err)

	_, err = bob.svc.Decrypt("p", good1)
	require.NoError(t, err)

	bad := good2
	bad.Cipher = append([]byte(nil), good2.Cipher...)
	bad.Cipher[0] ^= 0xff
	_, err = bob.svc.Decrypt("p", bad)
	require.ErrorIs(t, err, domain.ErrAuthTagMismatch)

	// The stored ratchet state was not advanced by the failure.
	pt, err := bob.svc.Decrypt("p", good2)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), pt)
}

func TestEncryptWithoutSessionFails(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")
	bob := newDevice(t, dir, "bob")

	_, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMalformedEnvelopeFails(t *testing.T) {
	alice, bob := establish(t, directory.NewMemory())

	env, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("x"))
	require.NoError(t, err)

	missing := env
	missing.Prekey = nil
	_, err = bob.svc.Decrypt("p", missing)
	assert.ErrorIs(t, err, domain.ErrFormat)

	badType := env
	badType.Type = "weird"
	_, err = bob.svc.Decrypt("p", badType)
	assert.ErrorIs(t, err, domain.ErrFormat)
}

func TestSupersededSessionTransitionReported(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")
	bob, hook := newDeviceLogged(t, dir, "bob")

	_, err := alice.svc.EstablishOutbound(context.Background(), "p", "bob", bob.id.DeviceID)
	require.NoError(t, err)
	env, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("one"))
	require.NoError(t, err)
	_, err = bob.svc.Decrypt("p", env)
	require.NoError(t, err)

	// A fresh handshake from the same peer retires the old session.
	require.NoError(t, alice.svc.DestroySession(bob.id.IdentityPub))
	_, err = alice.svc.EstablishOutbound(context.Background(), "p", "bob", bob.id.DeviceID)
	require.NoError(t, err)
	env2, err := alice.svc.Encrypt("p", bob.id.IdentityPub, []byte("two"))
	require.NoError(t, err)

	hook.Reset()
	_, err = bob.svc.Decrypt("p", env2)
	require.NoError(t, err)

	superseded := false
	for _, entry := range hook.AllEntries() {
		if entry.Data["state"] == domain.SessionSuperseded {
			superseded = true
		}
	}
	assert.True(t, superseded, "old session never reported superseded")
}
