package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcross/internal/cache"
	"github.com/nhle/mailcross/internal/model"
	"github.com/nhle/mailcross/internal/registry"
	"github.com/nhle/mailcross/internal/session"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Connect(ctx context.Context, creds session.Credentials) error {
	return m.Called(ctx, creds).Error(0)
}

func (m *mockSessions) Disconnect(account string) {
	m.Called(account)
}

func (m *mockSessions) DisconnectAll() {
	m.Called()
}

func (m *mockSessions) ListFolders(ctx context.Context, account string) ([]model.Folder, error) {
	args := m.Called(ctx, account)
	folders, _ := args.Get(0).([]model.Folder)
	return folders, args.Error(1)
}

func (m *mockSessions) FetchHeaders(ctx context.Context, account, folder string, limit int) ([]model.Email, error) {
	args := m.Called(ctx, account, folder, limit)
	emails, _ := args.Get(0).([]model.Email)
	return emails, args.Error(1)
}

func (m *mockSessions) StoreCredentials(email, password string) error {
	return m.Called(email, password).Error(0)
}

func (m *mockSessions) HasCredentials(email string) bool {
	return m.Called(email).Bool(0)
}

func (m *mockSessions) State(account string) session.State {
	return m.Called(account).Get(0).(session.State)
}

// fakeAccountStore records persistence calls.
type fakeAccountStore struct {
	mu       gosync.Mutex
	upserted []string
	deleted  []string
}

func (s *fakeAccountStore) UpsertAccount(_ context.Context, acct model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, acct.Email)
	return nil
}

func (s *fakeAccountStore) DeleteAccount(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, email)
	return nil
}

type harness struct {
	o        *Orchestrator
	sessions *mockSessions
	cache    *cache.Cache
	registry *registry.Registry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		sessions: &mockSessions{},
		cache:    cache.New(5 * time.Minute),
		registry: registry.New(),
	}
	h.registry.Add(model.Account{Name: "Alice", Email: alice, Server: "imap.example.com", Port: 993, UseTLS: true})
	h.registry.Add(model.Account{Name: "Bob", Email: bob, Server: "imap.example.org", Port: 143})
	h.o = New(h.sessions, h.cache, h.registry, opts...)
	t.Cleanup(func() {
		h.sessions.On("Disconnect", mock.Anything).Maybe()
		h.sessions.On("DisconnectAll").Maybe()
		_ = h.o.Close(context.Background())
	})
	return h
}

// collect waits until n events have been drained.
func collect(t *testing.T, o *Orchestrator, n int) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case <-o.Events():
			got = append(got, o.Drain()...)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d: %#v", n, len(got), got)
		}
	}
	require.Len(t, got, n)
	return got
}

var testFolders = []model.Folder{model.NewFolder("INBOX", 2), model.NewFolder("Sent", 0)}

func testEmails() []model.Email {
	return []model.Email{
		{ID: 2, Subject: "second", Body: model.PreviewPlaceholder},
		{ID: 1, Subject: "first", Body: model.PreviewPlaceholder},
	}
}

func TestOrchestrator_ConnectWithoutServer(t *testing.T) {
	h := newHarness(t)
	h.registry.Add(model.Account{Email: "noserver@example.com"})

	h.o.Submit(Connect{Account: "noserver@example.com"})
	h.o.Submit(DeleteEmail{Account: "noserver@example.com", ID: 1})

	events := collect(t, h.o, 2)
	failed, ok := events[0].(ConnectionFailed)
	require.True(t, ok)
	assert.Equal(t, ReasonServerNotConfigured, failed.Reason)
	assert.True(t, errors.Is(failed.Err, session.ErrServerNotConfigured))
	assert.IsType(t, EmailDeleted{}, events[1])

	h.sessions.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestOrchestrator_ConnectChainsFolderRefresh(t *testing.T) {
	h := newHarness(t)
	h.sessions.On("Connect", mock.Anything, session.CredentialsFor(model.Account{
		Email: alice, Server: "imap.example.com", Port: 993, UseTLS: true,
	})).Return(nil).Once()
	h.sessions.On("ListFolders", mock.Anything, alice).Return(testFolders, nil).Once()

	id := h.o.Submit(Connect{Account: alice})

	events := collect(t, h.o, 2)
	require.IsType(t, Connected{}, events[0])
	updated, ok := events[1].(FoldersUpdated)
	require.True(t, ok)
	assert.Equal(t, testFolders, updated.Folders)
	assert.Equal(t, id, events[0].CommandID())
	assert.Equal(t, id, events[1].CommandID())

	acct, _ := h.o.Account(alice)
	assert.True(t, acct.Connected)
	assert.Equal(t, testFolders, acct.Folders)
	assert.True(t, h.cache.IsFolderFresh(alice, "INBOX"))
	assert.True(t, h.cache.IsFolderFresh(alice, "Sent"))
	h.sessions.AssertExpectations(t)
}

func TestOrchestrator_ConnectFailure(t *testing.T) {
	h := newHarness(t)
	authErr := &session.Error{Kind: session.KindAuthentication, Account: alice, Op: "connect", Err: errors.New("login failed")}
	h.sessions.On("Connect", mock.Anything, mock.Anything).Return(authErr).Once()

	h.o.Submit(Connect{Account: alice})

	events := collect(t, h.o, 1)
	failed, ok := events[0].(ConnectionFailed)
	require.True(t, ok)
	assert.Equal(t, "Authentication error: login failed", failed.Reason)
	assert.True(t, session.IsKind(failed.Err, session.KindAuthentication))

	acct, _ := h.o.Account(alice)
	assert.False(t, acct.Connected)
	h.sessions.AssertNotCalled(t, "ListFolders", mock.Anything, mock.Anything)
}

func TestOrchestrator_RefreshFailureKeepsLiveConnection(t *testing.T) {
	h := newHarness(t)
	opErr := &session.Error{Kind: session.KindOperation, Account: alice, Op: "list folders", Err: errors.New("NO busy")}
	h.sessions.On("Connect", mock.Anything, mock.Anything).Return(nil).Once()
	h.sessions.On("ListFolders", mock.Anything, alice).Return(nil, opErr).Once()
	h.sessions.On("State", alice).Return(session.StateConnected)

	h.o.Submit(Connect{Account: alice})

	events := collect(t, h.o, 2)
	assert.IsType(t, Connected{}, events[0])
	failed, ok := events[1].(ConnectionFailed)
	require.True(t, ok)
	assert.Equal(t, "Failed to refresh folders: Operation error: NO busy", failed.Reason)

	acct, _ := h.o.Account(alice)
	assert.True(t, acct.Connected)
}

func TestOrchestrator_RefreshFailureOnDeadSessionClearsFlag(t *testing.T) {
	h := newHarness(t)
	h.registry.SetConnected(alice, true)
	h.sessions.On("ListFolders", mock.Anything, alice).Return(nil, errors.New("EOF")).Once()
	h.sessions.On("State", alice).Return(session.StateDisconnected)

	h.o.Submit(RefreshFolders{Account: alice})

	events := collect(t, h.o, 1)
	assert.IsType(t, ConnectionFailed{}, events[0])
	acct, _ := h.o.Account(alice)
	assert.False(t, acct.Connected)
}

func TestOrchestrator_FetchEmailsIsCacheFirst(t *testing.T) {
	h := newHarness(t)
	h.sessions.On("ListFolders", mock.Anything, alice).Return(testFolders, nil).Once()
	h.sessions.On("FetchHeaders", mock.Anything, alice, "INBOX", 50).Return(testEmails(), nil).Once()

	h.o.Submit(RefreshFolders{Account: alice})
	h.o.Submit(FetchEmails{Account: alice, Folder: "INBOX", Limit: 50})
	h.o.Submit(FetchEmails{Account: alice, Folder: "INBOX", Limit: 50})

	events := collect(t, h.o, 3)
	assert.IsType(t, FoldersUpdated{}, events[0])
	first, ok := events[1].(EmailsUpdated)
	require.True(t, ok)
	second, ok := events[2].(EmailsUpdated)
	require.True(t, ok)

	assert.Equal(t, "INBOX", first.Folder)
	assert.Equal(t, testEmails(), first.Emails)
	assert.Equal(t, testEmails(), second.Emails)
	h.sessions.AssertNumberOfCalls(t, "FetchHeaders", 1)

	acct, _ := h.o.Account(alice)
	assert.Equal(t, testEmails(), acct.Emails)
}

func TestOrchestrator_FetchEmailsUnknownFolderIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.sessions.On("FetchHeaders", mock.Anything, alice, "Archive", 10).Return(testEmails(), nil).Twice()

	h.o.Submit(FetchEmails{Account: alice, Folder: "Archive", Limit: 10})
	h.o.Submit(FetchEmails{Account: alice, Folder: "Archive", Limit: 10})

	events := collect(t, h.o, 2)
	assert.IsType(t, EmailsUpdated{}, events[0])
	assert.IsType(t, EmailsUpdated{}, events[1])
	h.sessions.AssertNumberOfCalls(t, "FetchHeaders", 2)
	assert.False(t, h.cache.IsFolderFresh(alice, "Archive"))
}

func TestOrchestrator_FetchEmailsFailure(t *testing.T) {
	h := newHarness(t)
	h.sessions.On("FetchHeaders", mock.Anything, alice, "INBOX", 5).
		Return(nil, &session.Error{Kind: session.KindOperation, Err: session.ErrNoSession}).Once()
	h.sessions.On("State", alice).Return(session.StateDisconnected)

	h.o.Submit(FetchEmails{Account: alice, Folder: "INBOX", Limit: 5})

	events := collect(t, h.o, 1)
	failed, ok := events[0].(ConnectionFailed)
	require.True(t, ok)
	assert.Equal(t, "Failed to fetch emails: Operation error: no active session for this account", failed.Reason)
}

func TestOrchestrator_OperationsCarryDeadline(t *testing.T) {
	h := newHarness(t, WithOperationTimeout(20*time.Millisecond))
	hasDeadline := mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})
	h.sessions.On("FetchHeaders", hasDeadline, alice, "INBOX", 5).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, &session.Error{Kind: session.KindTimeout, Err: context.DeadlineExceeded}).Once()
	h.sessions.On("State", alice).Return(session.StateDisconnected)

	h.o.Submit(FetchEmails{Account: alice, Folder: "INBOX", Limit: 5})

	events := collect(t, h.o, 1)
	failed, ok := events[0].(ConnectionFailed)
	require.True(t, ok)
	assert.True(t, session.IsKind(failed.Err, session.KindTimeout))
}

func TestOrchestrator_DeleteEmailIsLocal(t *testing.T) {
	h := newHarness(t)
	h.registry.SetEmails(alice, testEmails())

	h.o.Submit(DeleteEmail{Account: alice, ID: 2})

	events := collect(t, h.o, 1)
	deleted, ok := events[0].(EmailDeleted)
	require.True(t, ok)
	assert.Equal(t, uint32(2), deleted.ID)

	acct, _ := h.o.Account(alice)
	require.Len(t, acct.Emails, 1)
	assert.Equal(t, uint32(1), acct.Emails[0].ID)
	assert.Empty(t, h.sessions.Calls)
}

func TestOrchestrator_Disconnect(t *testing.T) {
	h := newHarness(t)
	h.registry.SetConnected(alice, true)
	h.sessions.On("Disconnect", alice).Return().Once()

	h.o.Submit(Disconnect{Account: alice})

	events := collect(t, h.o, 1)
	assert.IsType(t, Disconnected{}, events[0])
	acct, _ := h.o.Account(alice)
	assert.False(t, acct.Connected)
}

func TestOrchestrator_UnknownAccount(t *testing.T) {
	h := newHarness(t)

	h.o.Submit(Connect{Account: "ghost@example.com"})
	h.o.Submit(FetchEmails{Account: "ghost@example.com", Folder: "INBOX", Limit: 5})
	h.o.Submit(DeleteEmail{Account: "ghost@example.com", ID: 1})

	for _, ev := range collect(t, h.o, 3) {
		failed, ok := ev.(ConnectionFailed)
		require.True(t, ok)
		assert.Equal(t, ReasonAccountNotFound, failed.Reason)
		assert.Equal(t, "ghost@example.com", failed.Target())
	}
	assert.Empty(t, h.sessions.Calls)
}

func TestOrchestrator_StoreCredentials(t *testing.T) {
	h := newHarness(t)
	h.sessions.On("StoreCredentials", alice, "good").Return(nil).Once()
	h.sessions.On("StoreCredentials", alice, "bad").
		Return(&session.Error{Kind: session.KindCredentials, Err: errors.New("keyring locked")}).Once()

	h.o.Submit(StoreCredentials{Account: alice, Password: "good"})
	h.o.Submit(StoreCredentials{Account: alice, Password: "bad"})

	events := collect(t, h.o, 1)
	failed, ok := events[0].(ConnectionFailed)
	require.True(t, ok)
	assert.Equal(t, "Failed to store credentials: Credentials error: keyring locked", failed.Reason)
	h.sessions.AssertExpectations(t)
}

func TestOrchestrator_PerAccountOrdering(t *testing.T) {
	h := newHarness(t)
	h.registry.SetEmails(alice, []model.Email{{ID: 1}, {ID: 2}, {ID: 3}})

	var ids []string
	for _, id := range []uint32{3, 1, 2} {
		ids = append(ids, h.o.Submit(DeleteEmail{Account: alice, ID: id}))
	}

	events := collect(t, h.o, 3)
	for i, ev := range events {
		assert.Equal(t, ids[i], ev.CommandID())
	}
	assert.Equal(t, uint32(3), events[0].(EmailDeleted).ID)
	assert.Equal(t, uint32(1), events[1].(EmailDeleted).ID)
	assert.Equal(t, uint32(2), events[2].(EmailDeleted).ID)
}

func TestOrchestrator_AccountsRunIndependently(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.sessions.On("ListFolders", mock.Anything, alice).
		Run(func(mock.Arguments) { <-release }).
		Return(testFolders, nil).Once()

	h.o.Submit(RefreshFolders{Account: alice})
	h.o.Submit(DeleteEmail{Account: bob, ID: 7})

	events := collect(t, h.o, 1)
	assert.Equal(t, bob, events[0].Target(), "bob is not stuck behind alice")

	close(release)
	events = collect(t, h.o, 1)
	assert.Equal(t, alice, events[0].Target())
	assert.IsType(t, FoldersUpdated{}, events[0])
}

func TestOrchestrator_AddAndRemoveAccount(t *testing.T) {
	store := &fakeAccountStore{}
	h := newHarness(t, WithAccountStore(store))
	carol := model.Account{Name: "Carol", Email: "carol@example.com", Server: "imap.example.net", Port: 993, UseTLS: true}
	h.sessions.On("Disconnect", "carol@example.com").Return().Once()

	h.o.Submit(AddAccount{Account: carol})
	h.o.Submit(RemoveAccount{Account: "carol@example.com"})

	events := collect(t, h.o, 2)
	added, ok := events[0].(AccountAdded)
	require.True(t, ok)
	assert.Equal(t, carol, added.Account)
	assert.IsType(t, AccountRemoved{}, events[1])

	_, exists := h.o.Account("carol@example.com")
	assert.False(t, exists)
	assert.Equal(t, []string{"carol@example.com"}, store.upserted)
	assert.Equal(t, []string{"carol@example.com"}, store.deleted)
}

func TestOrchestrator_RemoveAccountPurgesCache(t *testing.T) {
	h := newHarness(t)
	h.cache.StoreFolder(alice, model.NewFolder("INBOX", 1), testEmails())
	h.cache.StoreFolder(bob, model.NewFolder("INBOX", 1), testEmails())
	h.sessions.On("Disconnect", alice).Return().Once()

	h.o.Submit(RemoveAccount{Account: alice})
	collect(t, h.o, 1)

	assert.False(t, h.cache.HasAccount(alice))
	assert.True(t, h.cache.HasAccount(bob))
	assert.Len(t, h.o.Accounts(), 1)
}

func TestOrchestrator_AddAccountRequiresEmail(t *testing.T) {
	h := newHarness(t)

	h.o.Submit(AddAccount{Account: model.Account{Name: "Nobody"}})

	events := collect(t, h.o, 1)
	failed, ok := events[0].(ConnectionFailed)
	require.True(t, ok)
	assert.Equal(t, ReasonInvalidAccount, failed.Reason)
	assert.Len(t, h.o.Accounts(), 2)
}

func TestOrchestrator_CleanupCache(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	c := cache.New(time.Minute, cache.WithClock(func() time.Time { return now }))
	o := New(&mockSessions{}, c, registry.New())

	c.StoreFolder(alice, model.NewFolder("INBOX", 0), nil)
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, o.CleanupCache())
	accounts, emails := o.CacheStats()
	assert.Zero(t, accounts)
	assert.Zero(t, emails)
}

func TestOrchestrator_CloseDisconnectsAndDropsLateCommands(t *testing.T) {
	sessions := &mockSessions{}
	reg := registry.New()
	reg.Add(model.Account{Email: alice, Server: "imap.example.com"})
	o := New(sessions, cache.New(0), reg)
	sessions.On("DisconnectAll").Return().Once()

	require.NoError(t, o.Close(context.Background()))
	o.Submit(DeleteEmail{Account: alice, ID: 1})

	assert.Empty(t, o.Drain())
	sessions.AssertExpectations(t)
	require.NoError(t, o.Close(context.Background()))
}

func TestOrchestrator_HasStoredCredentials(t *testing.T) {
	h := newHarness(t)
	h.sessions.On("HasCredentials", alice).Return(true)
	h.sessions.On("HasCredentials", bob).Return(false)

	assert.True(t, h.o.HasStoredCredentials(alice))
	assert.False(t, h.o.HasStoredCredentials(bob))
}

func TestOrchestrator_CloseSilencesInFlightCommands(t *testing.T) {
	sessions := &mockSessions{}
	reg := registry.New()
	reg.Add(model.Account{Email: alice, Server: "imap.example.com"})
	o := New(sessions, cache.New(0), reg, WithOperationTimeout(time.Minute))

	started := make(chan struct{})
	sessions.On("Connect", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(&session.Error{Kind: session.KindTimeout, Account: alice, Op: "connect", Err: context.Canceled})
	sessions.On("DisconnectAll").Return().Once()

	o.Submit(Connect{Account: alice})
	<-started
	require.NoError(t, o.Close(context.Background()))

	assert.Empty(t, o.Drain())
	sessions.AssertExpectations(t)
}
