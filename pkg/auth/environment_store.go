package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvEmail    = "FEEDARCHIVER_EMAIL"
	EnvPassword = "FEEDARCHIVER_PASSWORD"
)

// EnvironmentStore is a read-only CredentialStore over environment variables
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment account. A non-empty email must match it.
func (e *EnvironmentStore) Retrieve(email string) (*Account, error) {
	envEmail := normalizeEmail(os.Getenv(EnvEmail))
	password := os.Getenv(EnvPassword)

	if envEmail == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}
	if email != "" && normalizeEmail(email) != envEmail {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Email:        envEmail,
		Password:     password,
		LastModified: time.Now(),
	}, nil
}

// List returns the environment account when one is set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(email string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist for email
func (e *EnvironmentStore) Exists(email string) bool {
	_, err := e.Retrieve(email)
	return err == nil
}
