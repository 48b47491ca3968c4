package domain

// VerifiedDevice records an out-of-band fingerprint comparison for a
// remote device. Purely advisory trust metadata; the ratchet engines
// never consult it.
type VerifiedDevice struct {
	UserID      UserID   `json:"user_id"`
	DeviceID    DeviceID `json:"device_id"`
	Fingerprint string   `json:"fingerprint"`
	VerifiedUTC int64    `json:"verified_utc"`
}
