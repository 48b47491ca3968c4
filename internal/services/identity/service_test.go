package identity

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/domain"
	"github.com/loomchat/loom/internal/store"
)

// fakeDirectory records published bundles and serves claims from the
// most recent one, consuming one-time prekeys as a real directory would.
type fakeDirectory struct {
	bundle    *domain.PrekeyBundle
	claimed   map[domain.OneTimePrekeyID]bool
	published int
}

func (d *fakeDirectory) PublishBundle(_ context.Context, b domain.PrekeyBundle) error {
	if d.claimed == nil {
		d.claimed = make(map[domain.OneTimePrekeyID]bool)
	}
	// A claimed one-time prekey never comes back, whatever the device
	// republishes.
	kept := b.OneTimePrekeys[:0]
	for _, opk := range b.OneTimePrekeys {
		if !d.claimed[opk.ID] {
			kept = append(kept, opk)
		}
	}
	b.OneTimePrekeys = kept
	d.bundle = &b
	d.published++
	return nil
}

func (d *fakeDirectory) ClaimBundle(_ context.Context, _ domain.UserID, _ domain.DeviceID) (domain.PrekeyBundle, error) {
	if d.bundle == nil {
		return domain.PrekeyBundle{}, domain.ErrPrekeyNotFound
	}
	out := *d.bundle
	if len(d.bundle.OneTimePrekeys) > 0 {
		out.OneTimePrekeys = d.bundle.OneTimePrekeys[:1]
		d.claimed[out.OneTimePrekeys[0].ID] = true
		d.bundle.OneTimePrekeys = d.bundle.OneTimePrekeys[1:]
	}
	return out, nil
}

func (d *fakeDirectory) OneTimePrekeyCount(_ context.Context, _ domain.UserID, _ domain.DeviceID) (int, error) {
	if d.bundle == nil {
		return 0, nil
	}
	return len(d.bundle.OneTimePrekeys), nil
}

func (d *fakeDirectory) PutBackup(context.Context, domain.UserID, domain.EncryptedBackup) error {
	return nil
}

func (d *fakeDirectory) GetBackup(context.Context, domain.UserID) (domain.EncryptedBackup, error) {
	return domain.EncryptedBackup{}, domain.ErrNoBackup
}

func (d *fakeDirectory) DeleteBackup(context.Context, domain.UserID) error { return nil }

var _ domain.DirectoryClient = (*fakeDirectory)(nil)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newService(t *testing.T) (*Service, *fakeDirectory, *store.Stores) {
	t.Helper()
	st := store.NewStores(t.TempDir())
	dir := &fakeDirectory{}
	return New(st.Identity, st.Prekeys, st, dir, quietLogger()), dir, st
}

func TestGenerateIdentityPublishesBundle(t *testing.T) {
	svc, dir, _ := newService(t)

	id, fp, err := svc.GenerateIdentity(context.Background(), "passphrase", "alice", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, id.DeviceID)
	assert.NotEmpty(t, fp)

	require.NotNil(t, dir.bundle)
	assert.Equal(t, id.IdentityPub, dir.bundle.IdentityKey)
	assert.Len(t, dir.bundle.OneTimePrekeys, 5)
	assert.NotEmpty(t, dir.bundle.SignedPrekeySignature)
}

func TestGenerateIdentityTwiceFails(t *testing.T) {
	svc, _, _ := newService(t)

	_, _, err := svc.GenerateIdentity(context.Background(), "p", "alice", 3)
	require.NoError(t, err)

	_, _, err = svc.GenerateIdentity(context.Background(), "p", "alice", 3)
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

func TestReplenishRespectsLowWaterMark(t *testing.T) {
	svc, dir, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.GenerateIdentity(ctx, "p", "alice", 20)
	require.NoError(t, err)

	// Pool is full; nothing to do.
	n, err := svc.ReplenishOneTimePrekeys(ctx, "p", 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Drain the directory below the low-water mark.
	for i := 0; i < 15; i++ {
		_, err := dir.ClaimBundle(ctx, "alice", "dev")
		require.NoError(t, err)
	}

	n, err = svc.ReplenishOneTimePrekeys(ctx, "p", 0)
	require.NoError(t, err)
	assert.Equal(t, 15, n)
}

func TestRotateSignedPrekeyChangesCurrent(t *testing.T) {
	svc, dir, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.GenerateIdentity(ctx, "p", "alice", 3)
	require.NoError(t, err)
	before := dir.bundle.SignedPrekeyID

	rotated, err := svc.RotateSignedPrekey(ctx, "p")
	require.NoError(t, err)
	assert.NotEqual(t, before, rotated)
	assert.Equal(t, rotated, dir.bundle.SignedPrekeyID)
}

func TestDestroyIdentityAllowsRegenerate(t *testing.T) {
	svc, dir, st := newService(t)
	ctx := context.Background()

	_, _, err := svc.GenerateIdentity(ctx, "p", "alice", 3)
	require.NoError(t, err)

	oldOPKs := map[domain.OneTimePrekeyID]bool{}
	for _, opk := range dir.bundle.OneTimePrekeys {
		oldOPKs[opk.ID] = true
	}

	// Seed every other store so the wipe has something to miss.
	require.NoError(t, st.Sessions.SaveSession(domain.PairwiseSession{
		Peer:  domain.RemoteDevice{UserID: "bob", DeviceID: "dev-b", IdentityKey: domain.X25519Public{1}},
		State: domain.SessionActive,
	}))
	require.NoError(t, st.Groups.SaveOutbound(domain.OutboundGroupSession{
		ID: "gs-1", ConversationID: "conv-1",
	}))
	require.NoError(t, st.Groups.SaveInbound(domain.InboundGroupSession{
		ID: "gs-2", ConversationID: "conv-1", Sender: "dev-b",
	}))
	require.NoError(t, st.Verify.MarkVerified(domain.VerifiedDevice{
		UserID: "bob", DeviceID: "dev-b", Fingerprint: "fp",
	}))

	require.NoError(t, svc.DestroyIdentity())

	opks, err := st.Prekeys.ListOneTimePrekeyPublics()
	require.NoError(t, err)
	assert.Empty(t, opks)
	spks, err := st.Prekeys.ListSignedPrekeys()
	require.NoError(t, err)
	assert.Empty(t, spks)
	sessions, err := st.Sessions.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
	outbound, err := st.Groups.ListOutbound()
	require.NoError(t, err)
	assert.Empty(t, outbound)
	inbound, err := st.Groups.ListInbound()
	require.NoError(t, err)
	assert.Empty(t, inbound)
	verified, err := st.Verify.ListVerified()
	require.NoError(t, err)
	assert.Empty(t, verified)

	_, _, err = svc.GenerateIdentity(ctx, "p", "alice", 3)
	require.NoError(t, err)

	// The regenerated identity must publish only keys it owns.
	for _, opk := range dir.bundle.OneTimePrekeys {
		assert.False(t, oldOPKs[opk.ID], "one-time prekey %s survived the wipe", opk.ID)
	}
}
