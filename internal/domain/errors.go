package domain

import "errors"

// Sentinel errors forming the module's error taxonomy. Callers match them
// with errors.Is; layers above may wrap them with additional context but
// never replace them with weaker conditions.
var (
	// ErrFormat indicates a malformed envelope or wire record.
	ErrFormat = errors.New("malformed envelope")

	// ErrAuthTagMismatch indicates an AEAD open failure: tampering,
	// corruption, or ratchet desync. Never retried as-is and never
	// downgraded to a warning.
	ErrAuthTagMismatch = errors.New("authentication tag mismatch")

	// ErrPrekeyNotFound indicates the referenced one-time prekey is
	// unknown or already consumed. Replayed prekey messages fail this
	// way on purpose.
	ErrPrekeyNotFound = errors.New("one-time prekey not found or already consumed")

	// ErrSessionNotFound indicates no session exists for the peer or
	// group sender; the caller should trigger re-establishment.
	ErrSessionNotFound = errors.New("session not found")

	// ErrIndexTooOld indicates a group message predates the inbound
	// session's first known index. Surfaced as "message unavailable".
	ErrIndexTooOld = errors.New("message index predates first known index")

	// ErrSkipLimitExceeded indicates too many missing messages in a
	// receiving chain; the session is treated as desynced.
	ErrSkipLimitExceeded = errors.New("skipped message limit exceeded")

	// ErrDecryptFailure is returned by backup restore for a wrong
	// password or a corrupted blob. The two are indistinguishable by
	// design.
	ErrDecryptFailure = errors.New("backup decryption failed")

	// ErrNoBackup indicates no backup blob exists for the user.
	ErrNoBackup = errors.New("no backup found")

	// ErrAlreadyInitialized indicates a device identity already exists
	// locally; it must be destroyed explicitly before regenerating.
	ErrAlreadyInitialized = errors.New("device identity already initialized")

	// ErrNoIdentity indicates no device identity exists locally.
	ErrNoIdentity = errors.New("no device identity")

	// ErrInvalidSignature indicates a signed prekey signature that does
	// not verify against the claimed signing key.
	ErrInvalidSignature = errors.New("signed prekey signature invalid")

	// ErrWeakPassword indicates a backup password below the minimum
	// strength score.
	ErrWeakPassword = errors.New("backup password too weak")
)
