package sync

import "github.com/nhle/mailcross/internal/model"

// Command is a request submitted to the Orchestrator. Commands for the
// same account run one at a time in submission order.
type Command interface {
	// Target is the email address of the account the command applies to.
	Target() string
	Name() string
}

// Connect opens a session and, on success, refreshes the folder list.
type Connect struct {
	Account string
}

// Disconnect closes the session of an account.
type Disconnect struct {
	Account string
}

// RefreshFolders relists the folders of a connected account.
type RefreshFolders struct {
	Account string
}

// FetchEmails loads the newest Limit message headers of a folder,
// answering from the cache when it is fresh.
type FetchEmails struct {
	Account string
	Folder  string
	Limit   int
}

// StoreCredentials saves the password of an account in the secret store.
type StoreCredentials struct {
	Account  string
	Password string
}

// DeleteEmail removes a message from the account's displayed list. The
// server is not contacted.
type DeleteEmail struct {
	Account string
	ID      uint32
}

// AddAccount registers an account, replacing the configuration of an
// existing one with the same email.
type AddAccount struct {
	Account model.Account
}

// RemoveAccount closes the session, purges cached data and forgets the
// account.
type RemoveAccount struct {
	Account string
}

func (c Connect) Target() string          { return c.Account }
func (c Disconnect) Target() string       { return c.Account }
func (c RefreshFolders) Target() string   { return c.Account }
func (c FetchEmails) Target() string      { return c.Account }
func (c StoreCredentials) Target() string { return c.Account }
func (c DeleteEmail) Target() string      { return c.Account }
func (c AddAccount) Target() string       { return c.Account.Email }
func (c RemoveAccount) Target() string    { return c.Account }

func (Connect) Name() string          { return "connect" }
func (Disconnect) Name() string       { return "disconnect" }
func (RefreshFolders) Name() string   { return "refresh_folders" }
func (FetchEmails) Name() string      { return "fetch_emails" }
func (StoreCredentials) Name() string { return "store_credentials" }
func (DeleteEmail) Name() string      { return "delete_email" }
func (AddAccount) Name() string       { return "add_account" }
func (RemoveAccount) Name() string    { return "remove_account" }
