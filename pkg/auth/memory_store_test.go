package auth

import (
	"sort"
	"sync"
)

// memoryStore is an in-memory CredentialStore with an injectable Store failure
type memoryStore struct {
	mu         sync.Mutex
	accounts   map[string]Account
	storeError error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{accounts: make(map[string]Account)}
}

func managerWith(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

func (m *memoryStore) Store(account *Account) error {
	if m.storeError != nil {
		return m.storeError
	}
	if account == nil || account.Email == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Email] = *account
	return nil
}

func (m *memoryStore) Retrieve(email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[email]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

func (m *memoryStore) List() ([]*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		account := account
		out = append(out, &account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memoryStore) Delete(email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[email]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, email)
	return nil
}

func (m *memoryStore) Exists(email string) bool {
	_, err := m.Retrieve(email)
	return err == nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}
