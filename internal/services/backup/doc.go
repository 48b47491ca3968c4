// Package backup serializes the full local E2EE state, encrypts it
// under a password-derived key, and stores it through the key
// directory. Restore replaces local state wholesale; a wrong password
// and a corrupted blob are deliberately indistinguishable.
package backup
