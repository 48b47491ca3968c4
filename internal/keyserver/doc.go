// Package keyserver is the server side of the key directory: it stores
// published prekey bundles, hands out claims that consume one-time
// prekeys atomically, and keeps one current encrypted backup per user.
// Postgres is the durable backend; an in-memory store backs tests and
// single-node development.
package keyserver
