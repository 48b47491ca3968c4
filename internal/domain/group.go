package domain

import "time"

// GroupSessionID identifies one outbound sender-key session. A new id is
// minted on every rotation.
type GroupSessionID string

// String returns the string form of the session identifier.
func (id GroupSessionID) String() string { return string(id) }

// RotationPolicy bounds the lifetime of an outbound group session.
// Whichever limit is hit first forces a new session; late joiners after
// a rotation must be issued the new session key.
type RotationPolicy struct {
	MaxAge      time.Duration `json:"max_age"`
	MaxMessages uint32        `json:"max_messages"`
}

// DefaultRotationPolicy mirrors common Megolm deployment settings.
func DefaultRotationPolicy() RotationPolicy {
	return RotationPolicy{MaxAge: 7 * 24 * time.Hour, MaxMessages: 100}
}

// OutboundGroupSession is the sender side of a conversation's sender-key
// ratchet. Exactly one per conversation per authoring device.
type OutboundGroupSession struct {
	ID             GroupSessionID `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`

	Ratchet      ChainKey `json:"ratchet"`
	MessageIndex uint32   `json:"message_index"`

	// The per-session Ed25519 pair authenticates each group message
	// without tying it to the long-term device identity.
	SigningPriv Ed25519Private `json:"signing_priv"`
	SigningPub  Ed25519Public  `json:"signing_pub"`

	CreatedUTC int64          `json:"created_utc"`
	Policy     RotationPolicy `json:"policy"`
}

// InboundGroupSession is the receiver side, created from an exported
// key. It can decrypt any message index at or after FirstKnownIndex and
// nothing earlier, which is how history stays closed to late joiners.
type InboundGroupSession struct {
	ID             GroupSessionID `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	Sender         DeviceID       `json:"sender"`

	FirstKnownIndex uint32   `json:"first_known_index"`
	Ratchet         ChainKey `json:"ratchet"`
	SigningPub      Ed25519Public `json:"signing_pub"`
}

// GroupSessionExport is the forward-only snapshot shared with
// conversation members, always wrapped per-recipient by the pairwise
// engine before leaving the device.
type GroupSessionExport struct {
	ID              GroupSessionID `json:"id"`
	ConversationID  ConversationID `json:"conversation_id"`
	Sender          DeviceID       `json:"sender"`
	FirstKnownIndex uint32         `json:"first_known_index"`
	Ratchet         ChainKey       `json:"ratchet"`
	SigningPub      Ed25519Public  `json:"signing_pub"`
}

// GroupMessage is the group wire format handed to the external
// transport.
type GroupMessage struct {
	ConversationID ConversationID `json:"conversation_id"`
	SessionID      GroupSessionID `json:"session_id"`
	Sender         DeviceID       `json:"sender"`
	MessageIndex   uint32         `json:"message_index"`
	Cipher         []byte         `json:"cipher"`
	Signature      []byte         `json:"signature"`
	Timestamp      int64          `json:"timestamp"`
}
