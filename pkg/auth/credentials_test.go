package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestCredentialManager(t *testing.T) {
	store := newMemoryStore()
	manager := managerWith(store)

	account := &Account{Email: " Parent@Example.com ", Password: "correct horse battery"}
	require.NoError(t, manager.Store(account))
	assert.False(t, account.LastModified.IsZero())

	retrieved, err := manager.Retrieve("parent@example.com")
	require.NoError(t, err)
	assert.Equal(t, "parent@example.com", retrieved.Email)
	assert.Equal(t, "correct horse battery", retrieved.Password)

	accounts, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	require.NoError(t, manager.Delete("PARENT@example.com"))
	_, err = manager.Retrieve("parent@example.com")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.Zero(t, store.count())
}

func TestManagerStoreValidation(t *testing.T) {
	manager := managerWith(newMemoryStore())

	tests := []struct {
		name    string
		account *Account
	}{
		{"nil account", nil},
		{"missing email", &Account{Password: "secret"}},
		{"not an email", &Account{Email: "parent", Password: "secret"}},
		{"missing password", &Account{Email: "parent@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, manager.Store(tt.account), ErrInvalidCredentials)
		})
	}
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	broken := newMemoryStore()
	broken.storeError = errors.New("keychain locked")
	working := newMemoryStore()
	manager := managerWith(broken, working)

	require.NoError(t, manager.Store(&Account{Email: "a@example.com", Password: "pw"}))
	assert.Zero(t, broken.count())
	assert.Equal(t, 1, working.count())
}

func TestManagerListPrefersNewestCopy(t *testing.T) {
	older := newMemoryStore()
	newer := newMemoryStore()
	now := time.Now()
	require.NoError(t, older.Store(&Account{Email: "b@example.com", Password: "old", LastModified: now.Add(-time.Hour)}))
	require.NoError(t, newer.Store(&Account{Email: "b@example.com", Password: "new", LastModified: now}))
	require.NoError(t, newer.Store(&Account{Email: "a@example.com", Password: "pw", LastModified: now}))

	accounts, err := managerWith(older, newer).List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "a@example.com", accounts[0].Email)
	assert.Equal(t, "new", accounts[1].Password)
}

func TestRetrieveDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv(EnvEmail, "env@example.com")
	t.Setenv(EnvPassword, "env-secret")

	stored := newMemoryStore()
	require.NoError(t, stored.Store(&Account{Email: "a@example.com", Password: "pw"}))
	manager := managerWith(stored, NewEnvironmentStore())

	account, err := manager.RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "env@example.com", account.Email)
}

func TestRetrieveDefaultWithoutCredentials(t *testing.T) {
	t.Setenv(EnvEmail, "")
	t.Setenv(EnvPassword, "")

	manager := managerWith(newMemoryStore(), NewEnvironmentStore())
	_, err := manager.RetrieveDefault()
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test passphrase")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	account := &Account{Email: "a@example.com", Password: "hunter2"}
	require.NoError(t, store.Store(account))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Retrieve("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Password)
	assert.True(t, reopened.Exists("a@example.com"))

	require.NoError(t, reopened.Delete("a@example.com"))
	assert.NoFileExists(t, path)
	_, err = reopened.Retrieve("a@example.com")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	t.Setenv(PassphraseEnv, "first")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Account{Email: "a@example.com", Password: "pw"}))

	t.Setenv(PassphraseEnv, "second")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("a@example.com")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()

	_, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEncryptedFileStoreKeepsSite(t *testing.T) {
	t.Setenv(PassphraseEnv, "test passphrase")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Account{Email: "b@example.com", Password: "pw-b", Site: "parents.codmon.com"}))
	require.NoError(t, store.Store(&Account{Email: "a@example.com", Password: "pw-a"}))

	accounts, err := store.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	got, err := store.Retrieve("b@example.com")
	require.NoError(t, err)
	assert.Equal(t, "parents.codmon.com", got.Site)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "parents.codmon.com")
	assert.Contains(t, string(raw), `"accounts": 2`)
}

func TestEncryptedFileStoreRejectsUnknownVersion(t *testing.T) {
	t.Setenv(PassphraseEnv, "test passphrase")
	path := filepath.Join(t.TempDir(), "credentials.enc")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 1, "salt": "c2FsdA==", "encrypted": "eA=="}`), 0o600))

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = store.Retrieve("a@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vault version")
}

func TestAccountSite(t *testing.T) {
	assert.Equal(t, "parents.codmon.com", SiteOf("https://Parents.Codmon.com:443/menu"))
	assert.Equal(t, "", SiteOf("::not a url"))

	account := &Account{Email: "a@example.com", Site: "parents.codmon.com"}
	assert.True(t, account.SignsInTo("https://parents.codmon.com/menu"))
	assert.False(t, account.SignsInTo("https://staging.codmon.com/menu"))
	assert.True(t, (&Account{Email: "a@example.com"}).SignsInTo("https://anything.example/login"))
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvEmail, "Env@Example.com")
	t.Setenv(EnvPassword, "env-secret")
	store := NewEnvironmentStore()

	account, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "env@example.com", account.Email)

	_, err = store.Retrieve("other@example.com")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.True(t, store.Exists("env@example.com"))
	assert.ErrorIs(t, store.Store(account), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("env@example.com"), ErrStoreUnavailable)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Store(&Account{Email: "b@example.com", Password: "pw-b"}))
	require.NoError(t, store.Store(&Account{Email: "a@example.com", Password: "pw-a"}))

	accounts, err := store.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "a@example.com", accounts[0].Email)

	require.NoError(t, store.Delete("a@example.com"))
	assert.False(t, store.Exists("a@example.com"))
	assert.ErrorIs(t, store.Delete("a@example.com"), ErrCredentialsNotFound)

	accounts, err = store.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestSanitizeAccount(t *testing.T) {
	account := &Account{Email: "a@example.com", Password: "a-long-password", Site: "parents.codmon.com"}
	sanitized := SanitizeAccount(account)
	assert.Equal(t, account.Site, sanitized.Site)

	assert.Equal(t, account.Email, sanitized.Email)
	assert.NotEqual(t, account.Password, sanitized.Password)
	assert.Equal(t, "********", SanitizeAccount(&Account{Password: "short"}).Password)
	assert.Nil(t, SanitizeAccount(nil))
}
