package domain

// ConversationID identifies a group conversation in the surrounding
// application.
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// SessionState tracks the lifecycle of a pairwise session.
type SessionState string

const (
	// SessionEstablishing means a prekey message has been sent or
	// received but no normal message has flowed yet.
	SessionEstablishing SessionState = "establishing"
	// SessionActive means both directions have exchanged messages.
	SessionActive SessionState = "active"
	// SessionSuperseded means a newer prekey message replaced this
	// session for the same peer.
	SessionSuperseded SessionState = "superseded"
	// SessionDestroyed is terminal, set on explicit local wipe.
	SessionDestroyed SessionState = "destroyed"
)

// MessageType distinguishes session-establishing envelopes from normal
// ones so the receiver knows whether to run the responder handshake.
type MessageType string

const (
	// MessagePrekey marks an envelope carrying X3DH parameters.
	MessagePrekey MessageType = "prekey"
	// MessageNormal marks an envelope for an established session.
	MessageNormal MessageType = "normal"
)

// RatchetHeader is sent alongside every pairwise ciphertext.
type RatchetHeader struct {
	DHPub []byte `json:"dh_pub"`
	PN    uint32 `json:"pn"`
	N     uint32 `json:"n"`
}

// RatchetState contains all fields the double ratchet tracks between
// messages. It is mutated by exactly one logical thread of control at a
// time; out-of-order application of steps corrupts the chain.
type RatchetState struct {
	RootKey   []byte            `json:"root_key"`
	DHPriv    X25519Private     `json:"dh_priv"`
	DHPub     X25519Public      `json:"dh_pub"`
	PeerDHPub X25519Public      `json:"peer_dh_pub"`
	SendCK    []byte            `json:"send_ck,omitempty"`
	RecvCK    []byte            `json:"recv_ck,omitempty"`
	Ns        uint32            `json:"ns"`
	Nr        uint32            `json:"nr"`
	PN        uint32            `json:"pn"`
	Skipped   map[string][]byte `json:"skipped"`
}

// PairwiseSession is one double-ratchet session with a remote device,
// keyed by the remote identity key. At most one non-superseded session
// exists per peer pair.
type PairwiseSession struct {
	Peer  RemoteDevice `json:"peer"`
	State SessionState `json:"state"`

	// HasReceivedMessage switches outbound framing from prekey to
	// normal once the peer has demonstrably completed the handshake.
	HasReceivedMessage bool `json:"has_received_message"`

	// Prekey is the handshake material replayed in outbound envelopes
	// until the first inbound message arrives.
	Prekey *PrekeyMessage `json:"prekey,omitempty"`

	Ratchet    RatchetState `json:"ratchet"`
	CreatedUTC int64        `json:"created_utc"`
}

// Envelope is the pairwise wire format handed to the external transport.
// The core relies on header counters, not transport ordering.
type Envelope struct {
	From      DeviceID       `json:"from"`
	FromUser  UserID         `json:"from_user"`
	To        DeviceID       `json:"to"`
	ToUser    UserID         `json:"to_user"`
	Type      MessageType    `json:"type"`
	Header    RatchetHeader  `json:"header"`
	Cipher    []byte         `json:"cipher"`
	Prekey    *PrekeyMessage `json:"prekey,omitempty"`
	Timestamp int64          `json:"timestamp"`
}
