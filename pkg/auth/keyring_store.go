package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "feedarchiver"
	keyringPrefix  = "account_"
	// keyringIndex holds the list of stored emails; the keychain APIs
	// cannot enumerate entries.
	keyringIndex = "_index"
)

// KeyringStore implements CredentialStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keyring store after checking the keychain is usable
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves credentials to the system keychain
func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Email == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	if err := keyring.Set(keyringService, keyringPrefix+account.Email, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return k.updateIndex(func(emails map[string]bool) { emails[account.Email] = true })
}

// Retrieve gets credentials from the system keychain
func (k *KeyringStore) Retrieve(email string) (*Account, error) {
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, keyringPrefix+email)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return &account, nil
}

// List returns the accounts named in the index
func (k *KeyringStore) List() ([]*Account, error) {
	emails, err := k.readIndex()
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(emails))
	for email := range emails {
		account, err := k.Retrieve(email)
		if err != nil {
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Email < accounts[j].Email })
	return accounts, nil
}

// Delete removes credentials from the system keychain
func (k *KeyringStore) Delete(email string) error {
	if email == "" {
		return ErrInvalidCredentials
	}

	if err := keyring.Delete(keyringService, keyringPrefix+email); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	return k.updateIndex(func(emails map[string]bool) { delete(emails, email) })
}

// Exists checks if credentials exist in the keychain
func (k *KeyringStore) Exists(email string) bool {
	if email == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+email)
	return err == nil
}

func (k *KeyringStore) readIndex() (map[string]bool, error) {
	emails := make(map[string]bool)
	data, err := keyring.Get(keyringService, keyringIndex)
	if errors.Is(err, keyring.ErrNotFound) {
		return emails, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}

	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	for _, email := range list {
		emails[email] = true
	}
	return emails, nil
}

func (k *KeyringStore) updateIndex(change func(map[string]bool)) error {
	emails, err := k.readIndex()
	if err != nil {
		return err
	}
	change(emails)

	if len(emails) == 0 {
		if err := keyring.Delete(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to clear keyring index: %w", err)
		}
		return nil
	}

	list := make([]string, 0, len(emails))
	for email := range emails {
		list = append(list, email)
	}
	sort.Strings(list)

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring index: %w", err)
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring index: %w", err)
	}
	return nil
}
