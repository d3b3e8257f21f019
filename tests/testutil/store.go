package testutil

import (
	"testing"

	"github.com/99designs/keyring"

	"github.com/nhle/mailcross/internal/credential"
	"github.com/nhle/mailcross/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestSecrets returns a credential store backed by an in-memory
// keyring, pre-filled with the given email/password pairs.
func NewTestSecrets(t *testing.T, passwords map[string]string) *credential.Store {
	t.Helper()

	s := credential.New(keyring.NewArrayKeyring(nil))
	for email, password := range passwords {
		if err := s.Store(email, password); err != nil {
			t.Fatalf("storing test credential for %s: %v", email, err)
		}
	}
	return s
}
