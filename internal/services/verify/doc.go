// Package verify tracks which remote devices were verified out-of-band
// by fingerprint comparison. The records are advisory trust metadata;
// the ratchet engines never consult them.
package verify
