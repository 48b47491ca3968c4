package backup

import (
	"context"
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

const strongPassword = "mellow-cactus-orbit-94-violin"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type device struct {
	id   domain.DeviceIdentity
	st   *store.Stores
	pair *session.Service
	bkp  *Service
}

func newDevice(t *testing.T, dir *directory.Memory, user domain.UserID) *device {
	t.Helper()
	st := store.NewStores(t.TempDir())
	log := quietLogger()

	idSvc := identity.New(st.Identity, st.Prekeys, st, dir, log)
	id, _, err := idSvc.GenerateIdentity(context.Background(), "p", user, 5)
	require.NoError(t, err)

	return &device{
		id:   id,
		st:   st,
		pair: session.New(st.Identity, st.Prekeys, st.Sessions, dir, log),
		bkp:  New(st.Identity, st, dir, log),
	}
}

func TestPasswordStrength(t *testing.T) {
	assert.Less(t, PasswordStrength("password"), 3)
	assert.Less(t, PasswordStrength("12345678"), 3)
	assert.GreaterOrEqual(t, PasswordStrength(strongPassword), 3)
}

func TestCreateBackupRejectsWeakPassword(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")

	_, err := alice.bkp.CreateBackup(context.Background(), "p", "password")
	assert.ErrorIs(t, err, domain.ErrWeakPassword)
}

func TestRestoreWithoutBackupFails(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")

	err := alice.bkp.RestoreBackup(context.Background(), "p", "alice", strongPassword)
	assert.ErrorIs(t, err, domain.ErrNoBackup)
}

func TestRestoreWithWrongPasswordFails(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")

	_, err := alice.bkp.CreateBackup(context.Background(), "p", strongPassword)
	require.NoError(t, err)

	err = alice.bkp.RestoreBackup(context.Background(), "p", "alice", "wrong-but-long-enough-42-password")
	assert.ErrorIs(t, err, domain.ErrDecryptFailure)
}

func TestBackupRestoreCarriesSessionsToNewDevice(t *testing.T) {
	dir := directory.NewMemory()
	ctx := context.Background()
	alice := newDevice(t, dir, "alice")
	bob := newDevice(t, dir, "bob")

	// Alice talks to Bob, then backs everything up.
	_, err := alice.pair.EstablishOutbound(ctx, "p", "bob", bob.id.DeviceID)
	require.NoError(t, err)
	env, err := alice.pair.Encrypt("p", bob.id.IdentityPub, []byte("before backup"))
	require.NoError(t, err)
	_, err = bob.pair.Decrypt("p", env)
	require.NoError(t, err)

	_, err = alice.bkp.CreateBackup(ctx, "p", strongPassword)
	require.NoError(t, err)

	// A blank installation restores the backup.
	st := store.NewStores(t.TempDir())
	log := quietLogger()
	restored := &device{
		st:   st,
		pair: session.New(st.Identity, st.Prekeys, st.Sessions, dir, log),
		bkp:  New(st.Identity, st, dir, log),
	}
	require.NoError(t, restored.bkp.RestoreBackup(ctx, "p", "alice", strongPassword))

	id, err := st.Identity.LoadIdentity("p")
	require.NoError(t, err)
	assert.Equal(t, alice.id.IdentityPub, id.IdentityPub)
	assert.Equal(t, alice.id.DeviceID, id.DeviceID)

	// The restored session continues the conversation where the old
	// device left off.
	env2, err := restored.pair.Encrypt("p", bob.id.IdentityPub, []byte("after restore"))
	require.NoError(t, err)
	pt, err := bob.pair.Decrypt("p", env2)
	require.NoError(t, err)
	assert.Equal(t, []byte("after restore"), pt)
}

func TestNewBackupSupersedesOld(t *testing.T) {
	dir := directory.NewMemory()
	ctx := context.Background()
	alice := newDevice(t, dir, "alice")

	first, err := alice.bkp.CreateBackup(ctx, "p", strongPassword)
	require.NoError(t, err)
	second, err := alice.bkp.CreateBackup(ctx, "p", strongPassword)
	require.NoError(t, err)
	assert.NotEqual(t, first.Salt, second.Salt)

	stored, err := dir.GetBackup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, second.Salt, stored.Salt)
}

func TestCancelledContextAbortsBeforeUpload(t *testing.T) {
	dir := directory.NewMemory()
	alice := newDevice(t, dir, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := alice.bkp.CreateBackup(ctx, "p", strongPassword)
	require.Error(t, err)

	_, err = dir.GetBackup(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrNoBackup)
}
