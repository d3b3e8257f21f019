package store

import (
	"context"
	"errors"

	"github.com/nhle/mailcross/internal/model"
)

// ErrNotFound is returned by GetAccount for an unknown email.
var ErrNotFound = errors.New("account not found")

// AccountStore persists account configuration. Only the connection
// settings are stored; folders, emails and the connection flag live in
// memory for the lifetime of the process.
type AccountStore interface {
	// UpsertAccount inserts an account or updates the one with the same
	// email.
	UpsertAccount(ctx context.Context, acct model.Account) error
	// GetAccounts returns every stored account in the order they were
	// first added.
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, email string) (*model.Account, error)
	// DeleteAccount removes an account. Deleting an unknown email is not
	// an error.
	DeleteAccount(ctx context.Context, email string) error
}
