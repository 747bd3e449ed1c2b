package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated passphrase of the encrypted store
const PassphraseEnv = "FEEDARCHIVER_PASSPHRASE"

const (
	vaultVersion    = 2
	vaultSaltSize   = 32
	vaultKeySize    = 32
	vaultIterations = 100_000
	passphraseFile  = ".passphrase"
)

// vaultAAD ties the sealed accounts to this file format
var vaultAAD = []byte(fmt.Sprintf("feedarchiver-vault-v%d", vaultVersion))

// vaultFile is the on-disk form. Byte fields are base64 through encoding/json.
type vaultFile struct {
	Version  int       `json:"version"`
	Salt     []byte    `json:"salt"`
	Sealed   []byte    `json:"sealed"`
	Accounts int       `json:"accounts"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps every account in one AES-GCM sealed file. The key
// is derived with PBKDF2 from FEEDARCHIVER_PASSPHRASE, or from a passphrase
// generated on first use and kept next to the file.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.RWMutex
}

// NewEncryptedFileStore opens the vault at path, creating its directory
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	passphrase, err := loadPassphrase(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Store adds or replaces the account
func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Email == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(accounts map[string]Account) error {
		accounts[account.Email] = *account
		return nil
	})
}

// Retrieve returns the account stored for email
func (e *EncryptedFileStore) Retrieve(email string) (*Account, error) {
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	accounts, err := e.read()
	if err != nil {
		return nil, err
	}
	account, ok := accounts[email]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

// List returns every account in the vault
func (e *EncryptedFileStore) List() ([]*Account, error) {
	accounts, err := e.read()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(accounts))
	for _, account := range accounts {
		account := account
		out = append(out, &account)
	}
	return out, nil
}

// Delete removes the account. The vault file goes with its last account.
func (e *EncryptedFileStore) Delete(email string) error {
	if email == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(accounts map[string]Account) error {
		if _, ok := accounts[email]; !ok {
			return ErrCredentialsNotFound
		}
		delete(accounts, email)
		return nil
	})
}

// Exists reports whether an account is stored for email
func (e *EncryptedFileStore) Exists(email string) bool {
	_, err := e.Retrieve(email)
	return err == nil
}

func (e *EncryptedFileStore) read() (map[string]Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	accounts, _, err := e.open()
	return accounts, err
}

// update opens the vault, applies fn and seals the result with the same salt
func (e *EncryptedFileStore) update(fn func(map[string]Account) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, salt, err := e.open()
	if err != nil {
		return err
	}
	if err := fn(accounts); err != nil {
		return err
	}
	if len(accounts) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return e.seal(accounts, salt)
}

// open decrypts the vault. A missing file is an empty vault with no salt yet.
func (e *EncryptedFileStore) open() (map[string]Account, []byte, error) {
	content, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return make(map[string]Account), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var file vaultFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse vault: %w", err)
	}
	if file.Version != vaultVersion {
		return nil, nil, fmt.Errorf("unsupported vault version %d", file.Version)
	}

	aead, err := e.cipher(file.Salt)
	if err != nil {
		return nil, nil, err
	}
	n := aead.NonceSize()
	if len(file.Sealed) < n {
		return nil, nil, errors.New("vault is truncated")
	}
	plain, err := aead.Open(nil, file.Sealed[:n], file.Sealed[n:], vaultAAD)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt vault: %w", err)
	}

	accounts := make(map[string]Account)
	if err := json.Unmarshal(plain, &accounts); err != nil {
		return nil, nil, fmt.Errorf("failed to parse accounts: %w", err)
	}
	return accounts, file.Salt, nil
}

func (e *EncryptedFileStore) seal(accounts map[string]Account, salt []byte) error {
	if salt == nil {
		salt = make([]byte, vaultSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	plain, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("failed to encode accounts: %w", err)
	}
	aead, err := e.cipher(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	content, err := json.MarshalIndent(vaultFile{
		Version:  vaultVersion,
		Salt:     salt,
		Sealed:   aead.Seal(nonce, nonce, plain, vaultAAD),
		Accounts: len(accounts),
		Modified: time.Now(),
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	return os.Rename(tmp, e.path)
}

func (e *EncryptedFileStore) cipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.passphrase, salt, vaultIterations, vaultKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// loadPassphrase returns FEEDARCHIVER_PASSPHRASE, else the passphrase file in
// dir, generating it on first use.
func loadPassphrase(dir string) ([]byte, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return []byte(pass), nil
	}

	path := filepath.Join(dir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return content, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(path, pass, 0o600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
