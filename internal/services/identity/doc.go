// Package identity manages the local device identity: the long-term
// X25519 and Ed25519 key pairs, the current signed prekey, and the pool
// of one-time prekeys published to the key directory.
package identity
