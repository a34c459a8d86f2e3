package secure

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Manager ties a Cipher choice to a SecretStore, producing scoped
// KeyBuffers for the caller to use and zero. It never retains a key
// beyond each individual fetch/rotate call.
type Manager struct {
	cipher Cipher
	store  SecretStore
}

// NewManager builds a Manager. An empty cipher defaults to DefaultCipher.
func NewManager(c Cipher, store SecretStore) *Manager {
	if c == "" {
		c = DefaultCipher
	}
	return &Manager{cipher: c, store: store}
}

func (m *Manager) Cipher() Cipher { return m.cipher }

// EnsureKey fetches keyName from the secret store, generating and
// persisting a fresh random key on first use. The returned generated
// flag distinguishes a freshly minted key from one that already existed,
// so a caller can log a key-rotate-worthy event distinctly from a
// plain key-access.
func (m *Manager) EnsureKey(ctx context.Context, keyName string) (buf *KeyBuffer, generated bool, err error) {
	raw, ok, err := m.store.Get(ctx, keyName)
	if err != nil {
		return nil, false, fmt.Errorf("secure: fetch key %q: %w", keyName, err)
	}
	if ok {
		key, err := decodeKey(raw)
		if err != nil {
			return nil, false, err
		}
		return NewKeyBuffer(key), false, nil
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("secure: generate key: %w", err)
	}
	if err := m.store.Set(ctx, keyName, encodeKey(key)); err != nil {
		return nil, false, fmt.Errorf("secure: persist key %q: %w", keyName, err)
	}
	return NewKeyBuffer(key), true, nil
}

// RotateKey generates a fresh key, persists it under keyName, and
// returns both the old and new buffers so the caller can reseal
// existing ciphertext under the new key before discarding the old one.
func (m *Manager) RotateKey(ctx context.Context, keyName string) (oldKey, newKey *KeyBuffer, err error) {
	oldKey, _, err = m.EnsureKey(ctx, keyName)
	if err != nil {
		return nil, nil, err
	}

	fresh := make([]byte, KeySize)
	if _, err := rand.Read(fresh); err != nil {
		oldKey.Close()
		return nil, nil, fmt.Errorf("secure: generate rotated key: %w", err)
	}
	if err := m.store.Set(ctx, keyName, encodeKey(fresh)); err != nil {
		oldKey.Close()
		return nil, nil, fmt.Errorf("secure: persist rotated key %q: %w", keyName, err)
	}
	return oldKey, NewKeyBuffer(fresh), nil
}

func encodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secure: decode stored key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("secure: stored key has wrong length %d", len(key))
	}
	return key, nil
}
