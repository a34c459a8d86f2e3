// Package secure implements at-rest key handling: the symmetric cipher
// choice for the database file, a scoped zeroing buffer for the key
// once it's fetched from the secret store, and the SecretStore
// collaborator interface itself.
package secure

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher selects the symmetric AEAD used to seal the database file at
// rest. There's no behavioral difference between the two, so either is
// a valid default; ChaCha20 is ours.
type Cipher string

const (
	ChaCha20  Cipher = "chacha20"
	AES256GCM Cipher = "aes-256-gcm"
)

// DefaultCipher is used when a caller configures encryption without
// naming a cipher.
const DefaultCipher = ChaCha20

const KeySize = 32

// NewAEAD constructs the AEAD for cipher using a 32-byte key.
func NewAEAD(c Cipher, key []byte) (stdcipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secure: key must be %d bytes, got %d", KeySize, len(key))
	}
	switch c {
	case ChaCha20, "":
		return chacha20poly1305.New(key)
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("secure: create AES cipher: %w", err)
		}
		return stdcipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("secure: unknown cipher %q", c)
	}
}
