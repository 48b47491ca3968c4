package domain

// SignedPrekeyID uniquely identifies a signed prekey.
type SignedPrekeyID string

// String returns the string form of the identifier.
func (id SignedPrekeyID) String() string { return string(id) }

// OneTimePrekeyID uniquely identifies a one-time prekey.
type OneTimePrekeyID string

// String returns the string form of the identifier.
func (id OneTimePrekeyID) String() string { return string(id) }

// SignedPrekeyPair is the full signed prekey stored locally. The
// signature covers the public key and is produced by the device signing
// key. Rotated-out pairs are retained for a grace period so messages in
// flight still decrypt.
type SignedPrekeyPair struct {
	ID         SignedPrekeyID `json:"id"`
	Priv       X25519Private  `json:"priv"`
	Pub        X25519Public   `json:"pub"`
	Signature  []byte         `json:"signature"`
	CreatedUTC int64          `json:"created_utc"`
}

// OneTimePrekeyPair is the full one-time prekey stored locally. Consumed
// at most once when a remote party establishes an inbound session.
type OneTimePrekeyPair struct {
	ID   OneTimePrekeyID `json:"id"`
	Priv X25519Private   `json:"priv"`
	Pub  X25519Public    `json:"pub"`
}

// OneTimePrekeyPublic is the public half of a one-time prekey, published
// in bundles.
type OneTimePrekeyPublic struct {
	ID  OneTimePrekeyID `json:"id"`
	Pub X25519Public    `json:"pub"`
}

// PrekeyBundle is the set of public keys a device publishes to the key
// directory. A claim returns the same shape with at most one one-time
// prekey, removed server-side so no second initiator can receive it.
type PrekeyBundle struct {
	UserID               UserID                `json:"user_id"`
	DeviceID             DeviceID              `json:"device_id"`
	IdentityKey          X25519Public          `json:"identity_key"`
	SigningKey           Ed25519Public         `json:"signing_key"`
	SignedPrekeyID       SignedPrekeyID        `json:"signed_prekey_id"`
	SignedPrekey         X25519Public          `json:"signed_prekey"`
	SignedPrekeySignature []byte               `json:"signed_prekey_signature"`
	OneTimePrekeys       []OneTimePrekeyPublic `json:"one_time_prekeys,omitempty"`
}

// PrekeyMessage carries the X3DH handshake parameters inside the first
// envelopes of a pairwise session.
type PrekeyMessage struct {
	InitiatorIdentityKey X25519Public    `json:"initiator_identity_key"`
	InitiatorSigningKey  Ed25519Public   `json:"initiator_signing_key"`
	EphemeralKey         X25519Public    `json:"ephemeral_key"`
	SignedPrekeyID       SignedPrekeyID  `json:"signed_prekey_id"`
	OneTimePrekeyID      OneTimePrekeyID `json:"one_time_prekey_id,omitempty"`
}
