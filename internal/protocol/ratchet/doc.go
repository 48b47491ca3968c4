// Package ratchet implements the forward-secret double ratchet used for
// pairwise sessions: a DH ratchet that heals after compromise combined
// with symmetric sending/receiving chains that step once per message.
//
// Out-of-order delivery is handled by deriving and caching skipped
// message keys up to a hard bound; beyond it the session is considered
// desynced and the caller must re-establish.
//
// State is mutated in place. Callers serialize all calls touching one
// session; see internal/util/keymutex.
package ratchet
