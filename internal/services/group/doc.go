// Package group is the sender-key engine for conversation encryption.
// Each authoring device keeps one outbound ratchet per conversation and
// one inbound ratchet per (conversation, sender session) it has been
// given the key for. Session keys travel to members wrapped by the
// pairwise engine, never in plaintext.
package group
