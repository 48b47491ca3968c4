package domain

import "context"

// IdentityStore persists the device identity, encrypted at rest.
type IdentityStore interface {
	SaveIdentity(passphrase string, id DeviceIdentity) error
	LoadIdentity(passphrase string) (DeviceIdentity, error)
	HasIdentity() (bool, error)
	DestroyIdentity() error
}

// PrekeyStore manages signed and one-time prekeys on disk. One-time
// prekeys are consume-once: a successful Consume removes the pair.
type PrekeyStore interface {
	SaveSignedPrekey(pair SignedPrekeyPair) error
	LoadSignedPrekey(id SignedPrekeyID) (SignedPrekeyPair, bool, error)
	ListSignedPrekeys() ([]SignedPrekeyPair, error)
	DeleteSignedPrekey(id SignedPrekeyID) error
	SetCurrentSignedPrekeyID(id SignedPrekeyID) error
	CurrentSignedPrekeyID() (SignedPrekeyID, bool, error)

	SaveOneTimePrekeys(pairs []OneTimePrekeyPair) error
	ConsumeOneTimePrekey(id OneTimePrekeyID) (OneTimePrekeyPair, bool, error)
	ListOneTimePrekeyPublics() ([]OneTimePrekeyPublic, error)
}

// SessionStore persists pairwise sessions keyed by the remote identity
// key.
type SessionStore interface {
	SaveSession(sess PairwiseSession) error
	LoadSession(remoteIdentity X25519Public) (PairwiseSession, bool, error)
	ListSessions() ([]PairwiseSession, error)
	DeleteSession(remoteIdentity X25519Public) error
}

// GroupStore persists outbound sessions keyed by conversation and
// inbound sessions keyed by (conversation, session id).
type GroupStore interface {
	SaveOutbound(sess OutboundGroupSession) error
	LoadOutbound(conv ConversationID) (OutboundGroupSession, bool, error)
	DeleteOutbound(conv ConversationID) error
	ListOutbound() ([]OutboundGroupSession, error)

	SaveInbound(sess InboundGroupSession) error
	LoadInbound(conv ConversationID, id GroupSessionID) (InboundGroupSession, bool, error)
	ListInbound() ([]InboundGroupSession, error)
}

// VerifyStore records out-of-band device verifications.
type VerifyStore interface {
	MarkVerified(dev VerifiedDevice) error
	VerifiedDevices(user UserID) ([]VerifiedDevice, error)
	IsVerified(user UserID, device DeviceID) (bool, error)
	ListVerified() ([]VerifiedDevice, error)
}

// LocalStateStore destroys every locally persisted record in one call.
// Explicit device wipe path only.
type LocalStateStore interface {
	DestroyAll() error
}

// DirectoryClient talks to the external key directory and backup store.
// Network retries with backoff are the directory's concern, not the
// core's.
type DirectoryClient interface {
	PublishBundle(ctx context.Context, bundle PrekeyBundle) error
	ClaimBundle(ctx context.Context, user UserID, device DeviceID) (PrekeyBundle, error)
	OneTimePrekeyCount(ctx context.Context, user UserID, device DeviceID) (int, error)

	PutBackup(ctx context.Context, user UserID, backup EncryptedBackup) error
	GetBackup(ctx context.Context, user UserID) (EncryptedBackup, error)
	DeleteBackup(ctx context.Context, user UserID) error
}
