// Package registry holds the authoritative in-memory list of accounts and
// their last-known folders, emails and connection flag.
package registry

import (
	"sync"

	"github.com/nhle/mailcross/internal/model"
)

// Registry is keyed by email address and remembers insertion order for
// listing. Every value handed out is a deep copy.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	order    []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{accounts: make(map[string]*model.Account)}
}

// Add registers an account, replacing the configuration of an existing
// entry with the same email. Folders, emails and the connection flag of
// a replaced entry are kept.
func (r *Registry) Add(acct model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.accounts[acct.Email]; ok {
		existing.Name = acct.Name
		existing.Server = acct.Server
		existing.Port = acct.Port
		existing.UseTLS = acct.UseTLS
		existing.StartTLS = acct.StartTLS
		return
	}

	stored := acct.Clone()
	r.accounts[acct.Email] = &stored
	r.order = append(r.order, acct.Email)
}

// Remove deletes an account. It reports whether the account existed.
func (r *Registry) Remove(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[email]; !ok {
		return false
	}
	delete(r.accounts, email)
	for i, e := range r.order {
		if e == email {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the account.
func (r *Registry) Get(email string) (model.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[email]
	if !ok {
		return model.Account{}, false
	}
	return acct.Clone(), true
}

// Has reports whether the account is registered.
func (r *Registry) Has(email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.accounts[email]
	return ok
}

// List returns copies of all accounts in insertion order.
func (r *Registry) List() []model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Account, 0, len(r.order))
	for _, email := range r.order {
		out = append(out, r.accounts[email].Clone())
	}
	return out
}

// SetConnected updates the connection flag. Unknown accounts are ignored.
func (r *Registry) SetConnected(email string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct, ok := r.accounts[email]; ok {
		acct.Connected = connected
	}
}

// SetFolders replaces the folder list.
func (r *Registry) SetFolders(email string, folders []model.Folder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct, ok := r.accounts[email]; ok {
		acct.Folders = model.CloneFolders(folders)
	}
}

// SetEmails replaces the email list.
func (r *Registry) SetEmails(email string, emails []model.Email) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct, ok := r.accounts[email]; ok {
		acct.Emails = model.CloneEmails(emails)
	}
}

// RemoveEmail drops every email with the given id from the account's
// list. It reports whether the account exists; removing an id that is
// not present is not an error.
func (r *Registry) RemoveEmail(email string, id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[email]
	if !ok {
		return false
	}
	kept := acct.Emails[:0]
	for _, e := range acct.Emails {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	acct.Emails = kept
	return true
}

// Folder finds a folder of the account by exact name.
func (r *Registry) Folder(email, name string) (model.Folder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[email]
	if !ok {
		return model.Folder{}, false
	}
	for _, f := range acct.Folders {
		if f.Name == name {
			return f, true
		}
	}
	return model.Folder{}, false
}
