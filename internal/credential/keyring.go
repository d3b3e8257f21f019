package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "mailcross"

// ErrNotFound is returned by Load when no password is stored for an account.
var ErrNotFound = errors.New("credential not found")

// openKeyring returns a configured keyring instance.
func openKeyring(fileDir string) (keyring.Keyring, error) {
	if fileDir == "" {
		fileDir = "~/.config/mailcross/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailcross-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store keeps account passwords in the system keyring, fronted by an
// in-process read-through cache. Cached secrets never expire; Store
// writes through and Delete evicts.
type Store struct {
	ring  keyring.Keyring
	mu    sync.Mutex
	cache map[string]string
}

// Open creates a Store backed by the system keyring. fileDir is used only
// by the encrypted-file fallback backend.
func Open(fileDir string) (*Store, error) {
	ring, err := openKeyring(fileDir)
	if err != nil {
		return nil, err
	}
	return New(ring), nil
}

// New wraps an existing keyring, e.g. keyring.NewArrayKeyring in tests.
func New(ring keyring.Keyring) *Store {
	return &Store{
		ring:  ring,
		cache: make(map[string]string),
	}
}

// Store saves the password for an account.
func (s *Store) Store(email, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ring.Set(keyring.Item{
		Key:   email,
		Data:  []byte(password),
		Label: serviceName + " " + email,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", email, err)
	}

	s.cache[email] = password
	return nil
}

// Load returns the password for an account, hitting the keyring only on
// the first lookup.
func (s *Store) Load(email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if password, ok := s.cache[email]; ok {
		return password, nil
	}

	item, err := s.ring.Get(email)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", email, ErrNotFound)
		}
		return "", fmt.Errorf("getting credential %q: %w", email, err)
	}

	password := string(item.Data)
	s.cache[email] = password
	return password, nil
}

// Delete removes the password for an account from the keyring and the cache.
func (s *Store) Delete(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, email)

	if err := s.ring.Remove(email); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", email, ErrNotFound)
		}
		return fmt.Errorf("deleting credential %q: %w", email, err)
	}

	return nil
}

// Has reports whether a password exists for the account.
func (s *Store) Has(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache[email]; ok {
		return true
	}

	_, err := s.ring.Get(email)
	return err == nil
}
