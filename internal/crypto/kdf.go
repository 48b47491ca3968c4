package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF expands ikm into outLen bytes using HKDF-SHA256 with the given
// salt and label.
func HKDF(ikm, salt []byte, label string, outLen int) []byte {
	r := hkdf.New(sha256.New, ikm, salt, []byte(label))
	out := make([]byte, outLen)
	_, _ = io.ReadFull(r, out)
	return out
}

// HMACSHA256 returns HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
