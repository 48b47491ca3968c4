package group

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/directory"
	"github.com/loomchat/loom/internal/domain"
	"github.com/loomchat/loom/internal/services/identity"
	"github.com/loomchat/loom/internal/services/session"
	"github.com/loomchat/loom/internal/store"
)

type device struct {
	id   domain.DeviceIdentity
	pair *session.Service
	svc  *Service
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newDevice(t *testing.T, dir *directory.Memory, user domain.UserID) *device {
	t.Helper()
	st := store.NewStores(t.TempDir())
	log := quietLogger()

	idSvc := identity.New(st.Identity, st.Prekeys, st, dir, log)
	id, _, err := idSvc.GenerateIdentity(context.Background(), "p", user, 5)
	require.NoError(t, err)

	pair := session.New(st.Identity, st.Prekeys, st.Sessions, dir, log)
	return &device{
		id:   id,
		pair: pair,
		svc:  New(st.Identity, st.Groups, pair, log),
	}
}

// join wires a pairwise session from sender to member and hands over the
// group key exported at index.
func join(t *testing.T, sender, member *device, conv domain.ConversationID, at uint32) {
	t.Helper()
	_, err := sender.pair.EstablishOutbound(context.Background(), "p", member.id.UserID, member.id.DeviceID)
	require.NoError(t, err)

	envs, err := sender.svc.ShareSessionKey("p", conv, at, []domain.X25519Public{member.id.IdentityPub})
	require.NoError(t, err)
	require.Len(t, envs, 1)

	_, err = member.svc.ImportSharedKey("p", envs[0])
	require.NoError(t, err)
}

func TestGroupRoundTripThroughKeyShare(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")
	bob := newDevice(t, dir, "bob")
	conv := domain.ConversationID("conv-1")

	_, err := alice.svc.CreateOutboundSession("p", conv, domain.DefaultRotationPolicy())
	require.NoError(t, err)
	join(t, alice, bob, conv, 0)

	msg, err := alice.svc.EncryptGroup("p", conv, []byte("hello group"))
	require.NoError(t, err)
	assert.Equal(t, alice.id.DeviceID, msg.Sender)

	pt, err := bob.svc.DecryptGroup(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello group"), pt)

	// The author's own inbound copy decrypts its history too.
	pt, err = alice.svc.DecryptGroup(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello group"), pt)
}

func TestLateJoinerCannotReadHistory(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")
	bob := newDevice(t, dir, "bob")
	claire := newDevice(t, dir, "claire")
	conv := domain.ConversationID("conv-1")

	_, err := alice.svc.CreateOutboundSession("p", conv, domain.DefaultRotationPolicy())
	require.NoError(t, err)
	join(t, alice, bob, conv, 0)

	history := make([]domain.GroupMessage, 10)
	for i := range history {
		history[i], err = alice.svc.EncryptGroup("p", conv, []byte(fmt.Sprintf("old %d", i)))
		require.NoError(t, err)
	}

	// Claire joins after ten messages and gets the key at index 10.
	join(t, alice, claire, conv, 10)

	for _, old := range history {
		_, err := claire.svc.DecryptGroup(old)
		assert.ErrorIs(t, err, domain.ErrIndexTooOld)
	}

	for i := 0; i < 3; i++ {
		msg, err := alice.svc.EncryptGroup("p", conv, []byte(fmt.Sprintf("new %d", i)))
		require.NoError(t, err)

		pt, err := claire.svc.DecryptGroup(msg)
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("new %d", i)), pt)

		// Bob, in from the start, reads everything.
		pt, err = bob.svc.DecryptGroup(msg)
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("new %d", i)), pt)
	}
}

func TestRotationIsolatesOldState(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")
	bob := newDevice(t, dir, "bob")
	conv := domain.ConversationID("conv-1")

	policy := domain.RotationPolicy{MaxMessages: 2}
	before, err := alice.svc.CreateOutboundSession("p", conv, policy)
	require.NoError(t, err)
	join(t, alice, bob, conv, 0)

	_, err = alice.svc.EncryptGroup("p", conv, []byte("one"))
	require.NoError(t, err)
	_, err = alice.svc.EncryptGroup("p", conv, []byte("two"))
	require.NoError(t, err)

	// Third message trips the policy and mints a new session.
	third, err := alice.svc.EncryptGroup("p", conv, []byte("three"))
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, third.SessionID)
	assert.Zero(t, third.MessageIndex)

	// Bob only holds the pre-rotation key; the new session is opaque
	// until he is issued its key.
	_, err = bob.svc.DecryptGroup(third)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	join(t, alice, bob, conv, 0)
	pt, err := bob.svc.DecryptGroup(third)
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), pt)
}

func TestOnlyAuthorCanShareSessionKey(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")
	bob := newDevice(t, dir, "bob")
	claire := newDevice(t, dir, "claire")
	conv := domain.ConversationID("conv-1")

	_, err := alice.svc.CreateOutboundSession("p", conv, domain.DefaultRotationPolicy())
	require.NoError(t, err)
	join(t, alice, bob, conv, 0)

	// Bob holds an inbound key but authors no session for the
	// conversation, so he has nothing to share.
	_, err = bob.pair.EstablishOutbound(context.Background(), "p", claire.id.UserID, claire.id.DeviceID)
	require.NoError(t, err)
	_, ok, err := bob.svc.OutboundSession(conv)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = bob.svc.ShareSessionKey("p", conv, 0, []domain.X25519Public{claire.id.IdentityPub})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEncryptWithoutSessionFails(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")

	_, err := alice.svc.EncryptGroup("p", "conv-1", []byte("x"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestImportNeverRegressesCapability(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")
	bob := newDevice(t, dir, "bob")
	conv := domain.ConversationID("conv-1")

	_, err := alice.svc.CreateOutboundSession("p", conv, domain.DefaultRotationPolicy())
	require.NoError(t, err)

	first, err := alice.svc.EncryptGroup("p", conv, []byte("early"))
	require.NoError(t, err)

	join(t, alice, bob, conv, 0)

	// A later re-share of the same session must not shrink what Bob can
	// decrypt, and the import must report the view actually kept.
	envs, err := alice.svc.ShareSessionKey("p", conv, 1, []domain.X25519Public{bob.id.IdentityPub})
	require.NoError(t, err)
	kept, err := bob.svc.ImportSharedKey("p", envs[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), kept.FirstKnownIndex)

	pt, err := bob.svc.DecryptGroup(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("early"), pt)
}
