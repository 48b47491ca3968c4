package crypto

import (
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/loomchat/loom/internal/domain"
)

const (
	// AEADKeySize is the ChaCha20-Poly1305 key length.
	AEADKeySize = chacha20poly1305.KeySize
	// NonceSize is the ChaCha20-Poly1305 nonce length.
	NonceSize = chacha20poly1305.NonceSize
)

// Seal encrypts plaintext under key with the given nonce and associated
// data.
func Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:AEADKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// Open decrypts ciphertext under key. A failed tag check surfaces as
// domain.ErrAuthTagMismatch; callers must treat it as fatal for the
// message.
func Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:AEADKeySize])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, domain.ErrAuthTagMismatch
	}
	return pt, nil
}

// RandomNonce returns a fresh random nonce.
func RandomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// RandomBytes fills b from the system CSPRNG.
func RandomBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// CounterNonce builds a nonce from a message counter. Safe only when the
// key is used for a single counter sequence, as in the ratchet chains.
func CounterNonce(n uint32) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint32(nonce[NonceSize-4:], n)
	return nonce
}
