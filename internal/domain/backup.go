package domain

// KDFParams are the Argon2id cost parameters recorded alongside a
// backup so restore can re-derive the key on any device.
type KDFParams struct {
	Time    uint32 `json:"time"`
	MemoryKB uint32 `json:"memory_kb"`
	Threads uint8  `json:"threads"`
}

// DefaultKDFParams is the cost used for new backups. Tunable; old
// backups decrypt with whatever params they recorded.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 4, MemoryKB: 64 * 1024, Threads: 4}
}

// EncryptedBackup is the opaque blob stored server-side. One current
// version per user; a new backup supersedes the old.
type EncryptedBackup struct {
	Version    int       `json:"version"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Cipher     []byte    `json:"cipher"`
	Params     KDFParams `json:"params"`
	CreatedUTC int64     `json:"created_utc"`
}

// Snapshot is the full export of local session state: the plaintext of
// a backup, and the unit of the all-or-nothing restore swap.
type Snapshot struct {
	Identity       *DeviceIdentity              `json:"identity,omitempty"`
	SignedPrekeys  []SignedPrekeyPair           `json:"signed_prekeys,omitempty"`
	CurrentSignedPrekey SignedPrekeyID          `json:"current_signed_prekey,omitempty"`
	OneTimePrekeys []OneTimePrekeyPair          `json:"one_time_prekeys,omitempty"`
	Sessions       []PairwiseSession            `json:"sessions,omitempty"`
	OutboundGroups []OutboundGroupSession       `json:"outbound_groups,omitempty"`
	InboundGroups  []InboundGroupSession        `json:"inbound_groups,omitempty"`
	Verified       []VerifiedDevice             `json:"verified,omitempty"`
}
