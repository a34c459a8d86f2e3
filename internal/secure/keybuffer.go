package secure

// KeyBuffer holds a symmetric key for the lifetime of one database open
// and zeroes it on Close, so a fetched key never outlives the operation
// that needed it in process memory. Callers are expected to defer
// Close immediately after a successful fetch from a SecretStore.
type KeyBuffer struct {
	b []byte
}

// NewKeyBuffer copies raw into a new buffer the caller owns. raw is not
// modified or retained.
func NewKeyBuffer(raw []byte) *KeyBuffer {
	b := make([]byte, len(raw))
	copy(b, raw)
	return &KeyBuffer{b: b}
}

// Bytes returns the key. The slice aliases the buffer's storage; callers
// must not retain it past Close.
func (k *KeyBuffer) Bytes() []byte {
	return k.b
}

// Close zeroes the buffer in place. Safe to call more than once.
func (k *KeyBuffer) Close() {
	for i := range k.b {
		k.b[i] = 0
	}
}
