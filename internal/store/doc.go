// Package store persists the E2EE core's local state as per-concern
// JSON files under one directory.
//
// The device identity is encrypted at rest with a key derived from the
// user's passphrase (scrypt + ChaCha20-Poly1305); everything else holds
// only material that is useless without it. All writes go through a
// temp-file-then-rename so a crash never leaves a half-written file.
// Each store serializes its own access with a mutex; cross-session
// ordering is the engines' concern (see internal/util/keymutex).
package store
