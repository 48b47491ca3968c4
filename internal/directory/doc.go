// Package directory implements the client side of the key directory:
// publishing and claiming prekey bundles and storing encrypted backups.
// The HTTP client talks JSON to a loomkeyd server; Memory is an
// in-process implementation with the same claim semantics.
//
// Every request takes a context for cancellation and deadlines. Retry
// with backoff is the caller's transport policy, not implemented here.
package directory
