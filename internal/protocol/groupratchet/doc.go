// Package groupratchet implements the one-directional sender-key
// ratchet used for group conversations.
//
// Each authoring device keeps one outbound session per conversation: a
// hash-chain ratchet advanced once per message, a monotonic message
// index, and a per-session Ed25519 pair that signs every ciphertext.
// Receivers hold an inbound snapshot pinned at the index it was exported
// at; they can seek forward to any later index but never backward, which
// is why late joiners cannot read history.
//
// Trading the per-message DH cost of the double ratchet for a single
// symmetric chain is what makes large conversations affordable; the
// exported snapshots are always wrapped per-recipient by the pairwise
// engine before distribution.
package groupratchet
