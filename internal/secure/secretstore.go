package secure

import "context"

// SecretStore is an external collaborator consumed, not implemented,
// by the engine: get(key_name) -> Option<String>, set(key_name, value).
// It is used only to fetch and, on rotation, store the database
// encryption key — never chunk content or anything else the engine
// holds.
type SecretStore interface {
	// Get returns the stored value and true, or "", false if key_name
	// has never been set.
	Get(ctx context.Context, keyName string) (string, bool, error)
	Set(ctx context.Context, keyName, value string) error
}

// EnvSecretStore is a minimal SecretStore over process environment
// variables, useful for local development and tests where a full
// OS keychain integration isn't available.
// Set is a no-op: a process cannot durably persist into its own
// environment for a future process to read.
type EnvSecretStore struct {
	lookup func(string) (string, bool)
}

// NewEnvSecretStore builds an EnvSecretStore backed by os.LookupEnv.
func NewEnvSecretStore(lookup func(string) (string, bool)) *EnvSecretStore {
	return &EnvSecretStore{lookup: lookup}
}

func (e *EnvSecretStore) Get(_ context.Context, keyName string) (string, bool, error) {
	v, ok := e.lookup(keyName)
	return v, ok, nil
}

func (e *EnvSecretStore) Set(_ context.Context, _, _ string) error {
	return nil
}

// MemorySecretStore is an in-process SecretStore, for tests and for
// hosts that manage key rotation themselves without an OS keychain.
type MemorySecretStore struct {
	values map[string]string
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{values: make(map[string]string)}
}

func (m *MemorySecretStore) Get(_ context.Context, keyName string) (string, bool, error) {
	v, ok := m.values[keyName]
	return v, ok, nil
}

func (m *MemorySecretStore) Set(_ context.Context, keyName, value string) error {
	m.values[keyName] = value
	return nil
}
