// Package domain defines the core types, store interfaces, and error
// taxonomy shared by every layer of the Loom E2EE messaging core.
//
// Contents
//
//   - Fixed-size key types (X25519Public, Ed25519Private, ...) to avoid
//     accidental reallocation of secrets
//   - Device identity, prekey, pairwise-session and group-session records
//   - Wire types exchanged with the key directory and the transport
//     (PrekeyBundle, Envelope, GroupMessage, EncryptedBackup)
//   - Store and client interfaces implemented by internal/store and
//     internal/directory
//   - Sentinel errors matched with errors.Is throughout the module
//
// The package has no dependencies on the rest of the module so that any
// layer may import it.
package domain
