// Package cache keeps recently fetched folder metadata and message headers
// per account so repeated reads do not go back to the server.
//
// Freshness is evaluated lazily on every read as now-stamp < duration.
// Nothing is evicted in the background; ClearExpired is the only sweep.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/nhle/mailcross/internal/model"
)

// DefaultDuration is how long a synced folder stays fresh.
const DefaultDuration = 300 * time.Second

// CachedEmail wraps an email with the moment it entered the cache.
type CachedEmail struct {
	Email          model.Email
	CachedAt       time.Time
	FullBodyLoaded bool
}

// CachedFolder is one folder's snapshot for an account.
type CachedFolder struct {
	Folder   model.Folder
	Emails   []CachedEmail
	LastSync time.Time

	// HeadersLoaded is false for entries written from a folder listing,
	// which carry no messages yet.
	HeadersLoaded bool
}

func (c *CachedFolder) clone() CachedFolder {
	out := *c
	out.Emails = make([]CachedEmail, len(c.Emails))
	copy(out.Emails, c.Emails)
	return out
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache maps account -> folder name -> CachedFolder.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]map[string]*CachedFolder
	duration time.Duration
	now      func() time.Time
}

// New creates a cache. A non-positive duration selects DefaultDuration.
func New(duration time.Duration, opts ...Option) *Cache {
	if duration <= 0 {
		duration = DefaultDuration
	}
	c := &Cache{
		entries:  make(map[string]map[string]*CachedFolder),
		duration: duration,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Duration returns the configured freshness window.
func (c *Cache) Duration() time.Duration {
	return c.duration
}

func (c *Cache) isFresh(stamp time.Time) bool {
	return c.now().Sub(stamp) < c.duration
}

// StoreFolder replaces the entry for (account, folder.Name). The previous
// emails are discarded, never merged. A nil emails slice records a folder
// whose headers have not been fetched; a non-nil one (even empty) marks
// the headers as loaded.
func (c *Cache) StoreFolder(account string, folder model.Folder, emails []model.Email) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cached := make([]CachedEmail, 0, len(emails))
	for _, e := range emails {
		cached = append(cached, CachedEmail{Email: e, CachedAt: now})
	}

	partition, ok := c.entries[account]
	if !ok {
		partition = make(map[string]*CachedFolder)
		c.entries[account] = partition
	}
	partition[folder.Name] = &CachedFolder{
		Folder:        folder,
		Emails:        cached,
		LastSync:      now,
		HeadersLoaded: emails != nil,
	}
}

// Folder returns a copy of the fresh entry for (account, name). Missing
// and stale entries both report false.
func (c *Cache) Folder(account, name string) (CachedFolder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.lookup(account, name)
	if !ok || !c.isFresh(entry.LastSync) {
		return CachedFolder{}, false
	}
	return entry.clone(), true
}

// Emails returns cloned emails for a fresh folder whose headers have been
// loaded.
func (c *Cache) Emails(account, name string) ([]model.Email, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.lookup(account, name)
	if !ok || !entry.HeadersLoaded || !c.isFresh(entry.LastSync) {
		return nil, false
	}

	out := make([]model.Email, len(entry.Emails))
	for i, ce := range entry.Emails {
		out[i] = ce.Email
	}
	return out, true
}

// Folders lists every fresh folder for an account, sorted by name. Stale
// folders are left out silently.
func (c *Cache) Folders(account string) []model.Folder {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.Folder
	for _, entry := range c.entries[account] {
		if c.isFresh(entry.LastSync) {
			out = append(out, entry.Folder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsFolderFresh reports whether Folder would return an entry.
func (c *Cache) IsFolderFresh(account, name string) bool {
	_, ok := c.Folder(account, name)
	return ok
}

// StoreEmailBody records a fully loaded body for a cached email. It is a
// no-op when the folder or the email is not cached.
func (c *Cache) StoreEmailBody(account, folder string, id uint32, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(account, folder)
	if !ok {
		return
	}
	for i := range entry.Emails {
		if entry.Emails[i].Email.ID != id {
			continue
		}
		entry.Emails[i].Email.Body = body
		entry.Emails[i].FullBodyLoaded = true
		entry.Emails[i].CachedAt = c.now()
		return
	}
}

// EmailBody returns a body previously stored with StoreEmailBody. Preview
// placeholders are never returned.
func (c *Cache) EmailBody(account, folder string, id uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.lookup(account, folder)
	if !ok {
		return "", false
	}
	for _, ce := range entry.Emails {
		if ce.Email.ID == id && ce.FullBodyLoaded {
			return ce.Email.Body, true
		}
	}
	return "", false
}

// ClearAccount drops the whole partition for an account.
func (c *Cache) ClearAccount(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, account)
}

// ClearExpired removes every stale folder entry and then any account
// partition left empty. It returns the number of folders evicted.
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for account, partition := range c.entries {
		for name, entry := range partition {
			if !c.isFresh(entry.LastSync) {
				delete(partition, name)
				evicted++
			}
		}
		if len(partition) == 0 {
			delete(c.entries, account)
		}
	}
	return evicted
}

// Stats returns the number of account partitions and cached emails.
func (c *Cache) Stats() (accounts, emails int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, partition := range c.entries {
		for _, entry := range partition {
			emails += len(entry.Emails)
		}
	}
	return len(c.entries), emails
}

// HasAccount reports whether any entry, fresh or stale, exists for account.
func (c *Cache) HasAccount(account string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[account]
	return ok
}

func (c *Cache) lookup(account, name string) (*CachedFolder, bool) {
	partition, ok := c.entries[account]
	if !ok {
		return nil, false
	}
	entry, ok := partition[name]
	return entry, ok
}
