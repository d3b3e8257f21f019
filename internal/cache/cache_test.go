package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcross/internal/model"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func newTestCache(clock *fakeClock) *Cache {
	return New(5*time.Minute, WithClock(clock.Now))
}

func email(id uint32, subject string) model.Email {
	return model.Email{ID: id, Subject: subject}
}

func TestCache_FreshnessBoundary(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 1), []model.Email{email(1, "hi")})

	clock.Advance(5*time.Minute - time.Nanosecond)
	_, ok := c.Folder("a@example.com", "INBOX")
	assert.True(t, ok, "entry just under the duration is fresh")

	clock.Advance(time.Nanosecond)
	_, ok = c.Folder("a@example.com", "INBOX")
	assert.False(t, ok, "entry at exactly the duration is stale")

	_, ok = c.Emails("a@example.com", "INBOX")
	assert.False(t, ok)
}

func TestCache_MissingAndStaleLookSame(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 0), []model.Email{})
	clock.Advance(10 * time.Minute)

	_, staleOK := c.Folder("a@example.com", "INBOX")
	_, missingOK := c.Folder("a@example.com", "Archive")
	assert.False(t, staleOK)
	assert.False(t, missingOK)
}

func TestCache_OverwriteIsTotal(t *testing.T) {
	c := newTestCache(newFakeClock())
	inbox := model.NewFolder("INBOX", 1)

	c.StoreFolder("a@example.com", inbox, []model.Email{email(1, "first")})
	c.StoreFolder("a@example.com", inbox, []model.Email{email(2, "second")})

	got, ok := c.Emails("a@example.com", "INBOX")
	require.True(t, ok)
	assert.Equal(t, []model.Email{email(2, "second")}, got)
}

func TestCache_StoreStampsEveryEmail(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 2), []model.Email{email(1, "a"), email(2, "b")})

	entry, ok := c.Folder("a@example.com", "INBOX")
	require.True(t, ok)
	assert.Equal(t, clock.now, entry.LastSync)
	require.Len(t, entry.Emails, 2)
	for _, ce := range entry.Emails {
		assert.Equal(t, clock.now, ce.CachedAt)
		assert.False(t, ce.FullBodyLoaded)
	}
}

func TestCache_EmailsAreClones(t *testing.T) {
	c := newTestCache(newFakeClock())
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 1), []model.Email{email(1, "original")})

	got, ok := c.Emails("a@example.com", "INBOX")
	require.True(t, ok)
	got[0].Subject = "mutated"
	got[0].Read = true

	again, _ := c.Emails("a@example.com", "INBOX")
	assert.Equal(t, "original", again[0].Subject)
	assert.False(t, again[0].Read)

	entry, _ := c.Folder("a@example.com", "INBOX")
	entry.Emails[0].Email.Subject = "mutated"
	again, _ = c.Emails("a@example.com", "INBOX")
	assert.Equal(t, "original", again[0].Subject)
}

func TestCache_FolderListingHasNoHeaders(t *testing.T) {
	c := newTestCache(newFakeClock())
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 12), nil)

	assert.True(t, c.IsFolderFresh("a@example.com", "INBOX"))
	_, ok := c.Emails("a@example.com", "INBOX")
	assert.False(t, ok, "listing-only entries must not satisfy an email read")

	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 0), []model.Email{})
	got, ok := c.Emails("a@example.com", "INBOX")
	assert.True(t, ok, "an empty fetched folder is still a hit")
	assert.Empty(t, got)
}

func TestCache_FoldersOmitsStale(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	c.StoreFolder("a@example.com", model.NewFolder("Sent", 0), nil)
	clock.Advance(4 * time.Minute)
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 3), nil)
	c.StoreFolder("a@example.com", model.NewFolder("Drafts", 0), nil)
	clock.Advance(2 * time.Minute)

	folders := c.Folders("a@example.com")
	names := make([]string, 0, len(folders))
	for _, f := range folders {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Drafts", "INBOX"}, names)
	assert.Empty(t, c.Folders("nobody@example.com"))
}

func TestCache_PerAccountIsolation(t *testing.T) {
	c := newTestCache(newFakeClock())
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 1), []model.Email{email(1, "for a")})
	c.StoreFolder("b@example.com", model.NewFolder("INBOX", 1), []model.Email{email(1, "for b")})

	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 1), []model.Email{email(9, "new a")})
	c.ClearAccount("a@example.com")

	got, ok := c.Emails("b@example.com", "INBOX")
	require.True(t, ok)
	assert.Equal(t, "for b", got[0].Subject)
	assert.False(t, c.HasAccount("a@example.com"))
}

func TestCache_ClearExpiredRemovesEmptyPartition(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 1), []model.Email{email(1, "x")})
	clock.Advance(3 * time.Minute)
	c.StoreFolder("b@example.com", model.NewFolder("INBOX", 1), nil)
	c.StoreFolder("b@example.com", model.NewFolder("Sent", 0), nil)
	clock.Advance(2 * time.Minute)

	evicted := c.ClearExpired()

	assert.Equal(t, 1, evicted)
	_, ok := c.Folder("a@example.com", "INBOX")
	assert.False(t, ok)
	assert.False(t, c.HasAccount("a@example.com"), "last folder gone, partition removed")
	assert.True(t, c.HasAccount("b@example.com"))
	assert.Len(t, c.Folders("b@example.com"), 2)
}

func TestCache_ClearExpiredKeepsPartitionWithFreshFolder(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	c.StoreFolder("a@example.com", model.NewFolder("Sent", 0), nil)
	clock.Advance(4 * time.Minute)
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 0), nil)
	clock.Advance(time.Minute)

	c.ClearExpired()

	assert.True(t, c.HasAccount("a@example.com"))
	assert.False(t, c.IsFolderFresh("a@example.com", "Sent"))
	assert.True(t, c.IsFolderFresh("a@example.com", "INBOX"))
}

func TestCache_BodyHooks(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 1), []model.Email{
		{ID: 7, Subject: "s", Body: model.PreviewPlaceholder},
	})

	_, ok := c.EmailBody("a@example.com", "INBOX", 7)
	assert.False(t, ok, "placeholder bodies are not reported as loaded")

	clock.Advance(time.Minute)
	c.StoreEmailBody("a@example.com", "INBOX", 7, "full text")
	body, ok := c.EmailBody("a@example.com", "INBOX", 7)
	require.True(t, ok)
	assert.Equal(t, "full text", body)

	entry, _ := c.Folder("a@example.com", "INBOX")
	assert.True(t, entry.Emails[0].FullBodyLoaded)
	assert.Equal(t, clock.now, entry.Emails[0].CachedAt)

	c.StoreEmailBody("a@example.com", "INBOX", 99, "ignored")
	c.StoreEmailBody("a@example.com", "Nope", 7, "ignored")
	_, ok = c.EmailBody("a@example.com", "INBOX", 99)
	assert.False(t, ok)
}

func TestCache_Stats(t *testing.T) {
	c := newTestCache(newFakeClock())
	c.StoreFolder("a@example.com", model.NewFolder("INBOX", 2), []model.Email{email(1, "x"), email(2, "y")})
	c.StoreFolder("b@example.com", model.NewFolder("INBOX", 1), []model.Email{email(1, "z")})

	accounts, emails := c.Stats()
	assert.Equal(t, 2, accounts)
	assert.Equal(t, 3, emails)
}

func TestNew_DefaultDuration(t *testing.T) {
	assert.Equal(t, DefaultDuration, New(0).Duration())
}
