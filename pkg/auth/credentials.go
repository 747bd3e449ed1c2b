package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Account holds the login of one feed account
type Account struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// Site is the host the account signs in to; empty matches any site
	Site         string    `json:"site,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// SiteOf returns the host of a sign-in URL, the value kept in Account.Site
func SiteOf(loginURL string) string {
	u, err := url.Parse(loginURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SignsInTo reports whether the account may be used on the site of loginURL
func (a *Account) SignsInTo(loginURL string) bool {
	return a.Site == "" || strings.EqualFold(a.Site, SiteOf(loginURL))
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(email string) (*Account, error)
	List() ([]*Account, error)
	Delete(email string) error
	Exists(email string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager over the system keychain when available,
// an encrypted file, and the environment, in that order.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves credentials in the first store that accepts them
func (m *Manager) Store(account *Account) error {
	if err := validate(account); err != nil {
		return err
	}

	account.Email = normalizeEmail(account.Email)
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(email string) (*Account, error) {
	email = normalizeEmail(email)
	for _, store := range m.stores {
		if account, err := store.Retrieve(email); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, email)
}

// RetrieveDefault prefers credentials from the environment, then the only
// or alphabetically first stored account.
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if account, err := env.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}

	return nil, ErrCredentialsNotFound
}

// List returns every stored account once, sorted by email. When several
// stores know the same account the most recently modified copy wins.
func (m *Manager) List() ([]*Account, error) {
	byEmail := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if existing, ok := byEmail[account.Email]; !ok || account.LastModified.After(existing.LastModified) {
				byEmail[account.Email] = account
			}
		}
	}

	result := make([]*Account, 0, len(byEmail))
	for _, account := range byEmail {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(email string) error {
	email = normalizeEmail(email)
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(email); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrCredentialsNotFound, email)
}

func validate(account *Account) error {
	if account == nil {
		return ErrInvalidCredentials
	}
	if !strings.Contains(account.Email, "@") {
		return fmt.Errorf("%w: email address is required", ErrInvalidCredentials)
	}
	if account.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidCredentials)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// getConfigDir returns the per-user configuration directory, creating it
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "feedarchiver")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "feedarchiver")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "feedarchiver")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "feedarchiver")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount returns a copy with the password masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}
	return &Account{
		Email:        account.Email,
		Password:     maskString(account.Password),
		Site:         account.Site,
		LastModified: account.LastModified,
	}
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:2] + "..." + s[len(s)-2:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
