package authclient

import (
	"context"
	"errors"
	"sync"
)

// Credentials is the client-held token pair.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// ErrNoCredentials is returned when the store holds no credentials, typically
// after a failed refresh cleared them. The caller must re-authenticate.
var ErrNoCredentials = errors.New("authclient: no credentials")

// CredentialStore persists the client's current token pair. Implementations
// must be safe for concurrent use; the coordinator reads and writes it from
// multiple goroutines.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
	Store(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process [CredentialStore] for single-binary clients
// and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	creds Credentials
	set   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Credentials{}, ErrNoCredentials
	}
	return m.creds, nil
}

func (m *MemoryStore) Store(_ context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	m.set = true
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	m.set = false
	return nil
}
