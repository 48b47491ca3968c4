// Package session is the pairwise double-ratchet engine. It establishes
// sessions through the key directory, encrypts outbound envelopes and
// decrypts inbound ones, and keeps exactly one live session per remote
// device. All state mutation for a given peer is serialized behind a
// per-peer lock.
package session
