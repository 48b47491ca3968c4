package domain

// UserID identifies an account in the surrounding application.
type UserID string

// String returns the string form of the user id.
func (u UserID) String() string { return string(u) }

// DeviceID identifies one device installation of a user. Generated
// locally on first E2EE setup and stable for the lifetime of the
// installation.
type DeviceID string

// String returns the string form of the device id.
func (d DeviceID) String() string { return string(d) }

// DeviceIdentity holds the long-term keys of the local device. Exactly
// one exists per installation; it is encrypted at rest and destroyed
// only by explicit user action.
type DeviceIdentity struct {
	UserID   UserID   `json:"user_id"`
	DeviceID DeviceID `json:"device_id"`

	IdentityPriv X25519Private `json:"identity_priv"`
	IdentityPub  X25519Public  `json:"identity_pub"`
	SigningPriv  Ed25519Private `json:"signing_priv"`
	SigningPub   Ed25519Public  `json:"signing_pub"`

	CreatedUTC int64 `json:"created_utc"`
}

// RemoteDevice is the public identity of a peer device as learnt from
// the key directory.
type RemoteDevice struct {
	UserID      UserID       `json:"user_id"`
	DeviceID    DeviceID     `json:"device_id"`
	IdentityKey X25519Public `json:"identity_key"`
	SigningKey  Ed25519Public `json:"signing_key"`
}
