package secure

import (
	"crypto/rand"
	"fmt"
	"os"
)

// SealFile encrypts the plaintext file at plainPath and writes it to
// sealedPath as nonce||ciphertext, then removes the plaintext copy.
// modernc.org/sqlite has no page-level encryption of its own, so the
// database is instead sealed whole between opens: plaintext only
// exists on disk while a process holds the database open.
func SealFile(c Cipher, key []byte, plainPath, sealedPath string) error {
	aead, err := NewAEAD(c, key)
	if err != nil {
		return err
	}

	plaintext, err := os.ReadFile(plainPath)
	if err != nil {
		return fmt.Errorf("secure: read plaintext file: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secure: generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	if err := os.WriteFile(sealedPath, sealed, 0o600); err != nil {
		return fmt.Errorf("secure: write sealed file: %w", err)
	}
	return os.Remove(plainPath)
}

// OpenFile decrypts the sealed file at sealedPath into plainPath. The
// sealed file is left in place; the caller reseals over it on close.
func OpenFile(c Cipher, key []byte, sealedPath, plainPath string) error {
	aead, err := NewAEAD(c, key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(sealedPath)
	if err != nil {
		return fmt.Errorf("secure: read sealed file: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return fmt.Errorf("secure: sealed file too short")
	}
	nonce, ct := data[:aead.NonceSize()], data[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return fmt.Errorf("secure: decrypt sealed file: wrong key or corrupt file: %w", err)
	}
	return os.WriteFile(plainPath, plaintext, 0o600)
}
