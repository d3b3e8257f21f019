// Package sync runs account commands in the background and publishes
// their outcomes as an ordered stream of events.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailcross/internal/cache"
	"github.com/nhle/mailcross/internal/logging"
	"github.com/nhle/mailcross/internal/model"
	"github.com/nhle/mailcross/internal/registry"
	"github.com/nhle/mailcross/internal/session"
)

// DefaultOperationTimeout bounds a single command.
const DefaultOperationTimeout = 30 * time.Second

// Failure reasons published in ConnectionFailed.
const (
	ReasonAccountNotFound     = "Account not found"
	ReasonServerNotConfigured = "Server not configured"
	ReasonInvalidAccount      = "Invalid account: email is required"
)

var (
	// ErrAccountNotFound is the Err of a ConnectionFailed for an unknown
	// account.
	ErrAccountNotFound = pkgerrors.New("account not found")

	ErrInvalidAccount = pkgerrors.New("account email is required")
)

// Sessions is the protocol side the Orchestrator drives.
type Sessions interface {
	Connect(ctx context.Context, creds session.Credentials) error
	Disconnect(account string)
	DisconnectAll()
	ListFolders(ctx context.Context, account string) ([]model.Folder, error)
	FetchHeaders(ctx context.Context, account, folder string, limit int) ([]model.Email, error)
	StoreCredentials(email, password string) error
	HasCredentials(email string) bool
	State(account string) session.State
}

// AccountStore persists account configuration across runs.
type AccountStore interface {
	UpsertAccount(ctx context.Context, acct model.Account) error
	DeleteAccount(ctx context.Context, email string) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(l)
	}
}

// WithOperationTimeout overrides DefaultOperationTimeout.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithAccountStore persists AddAccount and RemoveAccount.
func WithAccountStore(s AccountStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

type envelope struct {
	id  string
	cmd Command
}

// Orchestrator owns the Registry and the Cache on behalf of the front
// end. Each account has its own worker draining an unbounded command
// queue, so accounts progress independently while commands for one
// account are strictly sequential. All events go to one ordered queue.
type Orchestrator struct {
	sessions Sessions
	cache    *cache.Cache
	registry *registry.Registry
	store    AccountStore
	logger   *zap.Logger
	timeout  time.Duration

	events *Queue[Event]

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      gosync.Mutex
	workers map[string]*Queue[envelope]
	closed  bool
}

// New creates an Orchestrator. Workers start lazily on first Submit.
func New(sessions Sessions, c *cache.Cache, r *registry.Registry, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	o := &Orchestrator{
		sessions: sessions,
		cache:    c,
		registry: r,
		logger:   logging.OrNop(nil),
		timeout:  DefaultOperationTimeout,
		events:   NewQueue[Event](),
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
		workers:  make(map[string]*Queue[envelope]),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit enqueues a command and returns its ID. It never blocks.
// Commands submitted after Close are dropped.
func (o *Orchestrator) Submit(cmd Command) string {
	id := uuid.NewString()
	account := cmd.Target()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		o.logger.Warn("command dropped after close",
			zap.String("account", account),
			zap.String("command", cmd.Name()),
		)
		return id
	}

	q, ok := o.workers[account]
	if !ok {
		q = NewQueue[envelope]()
		o.workers[account] = q
		o.group.Go(func() error {
			return o.runWorker(o.ctx, q)
		})
	}
	q.Push(envelope{id: id, cmd: cmd})
	return id
}

// Drain returns every pending event in emission order without blocking.
func (o *Orchestrator) Drain() []Event {
	return o.events.Drain()
}

// Events signals that Drain has something to return.
func (o *Orchestrator) Events() <-chan struct{} {
	return o.events.Notify()
}

// CleanupCache evicts stale cache entries and returns how many folders
// were dropped.
func (o *Orchestrator) CleanupCache() int {
	n := o.cache.ClearExpired()
	if n > 0 {
		o.logger.Debug("evicted stale folders", zap.Int("count", n))
	}
	return n
}

// CacheStats reports cache occupancy.
func (o *Orchestrator) CacheStats() (accounts, emails int) {
	return o.cache.Stats()
}

// HasStoredCredentials reports whether a password is saved for email.
func (o *Orchestrator) HasStoredCredentials(email string) bool {
	return o.sessions.HasCredentials(email)
}

// Accounts returns copies of all registered accounts in insertion order.
func (o *Orchestrator) Accounts() []model.Account {
	return o.registry.List()
}

// Account returns a copy of one account.
func (o *Orchestrator) Account(email string) (model.Account, bool) {
	return o.registry.Get(email)
}

// Close stops the workers, abandoning queued commands, and disconnects
// every session. It waits for in-flight commands until ctx ends; their
// outcomes are not published.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()

	done := make(chan error, 1)
	go func() { done <- o.group.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	o.sessions.DisconnectAll()
	return err
}

func (o *Orchestrator) runWorker(ctx context.Context, q *Queue[envelope]) error {
	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			env, ok := q.Pop()
			if !ok {
				break
			}
			o.execute(ctx, env)
		}

		select {
		case <-q.Notify():
		case <-ctx.Done():
			return nil
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, env envelope) {
	account := env.cmd.Target()
	meta := Meta{Account: account, Command: env.id}
	log := o.logger.With(
		zap.String("account", account),
		zap.String("command", env.cmd.Name()),
		zap.String("command_id", env.id),
	)
	log.Debug("executing")

	switch cmd := env.cmd.(type) {
	case AddAccount:
		o.addAccount(ctx, meta, cmd.Account)
		return
	case StoreCredentials:
		o.storeCredentials(meta, cmd.Password)
		return
	case Disconnect:
		o.disconnect(meta)
		return
	}

	if !o.registry.Has(account) {
		log.Warn("unknown account")
		o.emit(ConnectionFailed{Meta: meta, Reason: ReasonAccountNotFound, Err: ErrAccountNotFound})
		return
	}

	switch cmd := env.cmd.(type) {
	case Connect:
		o.connect(ctx, meta)
	case RefreshFolders:
		o.refreshFolders(ctx, meta)
	case FetchEmails:
		o.fetchEmails(ctx, meta, cmd.Folder, cmd.Limit)
	case DeleteEmail:
		o.deleteEmail(meta, cmd.ID)
	case RemoveAccount:
		o.removeAccount(ctx, meta)
	default:
		log.Error("unsupported command")
	}
}

func (o *Orchestrator) connect(ctx context.Context, meta Meta) {
	acct, ok := o.registry.Get(meta.Account)
	if !ok {
		o.emit(ConnectionFailed{Meta: meta, Reason: ReasonAccountNotFound, Err: ErrAccountNotFound})
		return
	}
	if !acct.HasServer() {
		o.emit(ConnectionFailed{Meta: meta, Reason: ReasonServerNotConfigured, Err: session.ErrServerNotConfigured})
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, o.timeout)
	err := o.sessions.Connect(opCtx, session.CredentialsFor(acct))
	cancel()
	if err != nil {
		o.logger.Warn("connect failed",
			zap.String("account", meta.Account),
			zap.Stringer("kind", session.KindOf(err)),
			zap.Error(err),
		)
		o.emit(ConnectionFailed{Meta: meta, Reason: session.Describe(err), Err: err})
		return
	}

	o.registry.SetConnected(meta.Account, true)
	o.emit(Connected{Meta: meta})
	o.refreshFolders(ctx, meta)
}

func (o *Orchestrator) disconnect(meta Meta) {
	o.sessions.Disconnect(meta.Account)
	o.registry.SetConnected(meta.Account, false)
	o.emit(Disconnected{Meta: meta})
}

func (o *Orchestrator) refreshFolders(ctx context.Context, meta Meta) {
	opCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	folders, err := o.sessions.ListFolders(opCtx, meta.Account)
	if err != nil {
		o.syncConnected(meta.Account)
		o.logger.Warn("refresh folders failed",
			zap.String("account", meta.Account),
			zap.Stringer("kind", session.KindOf(err)),
			zap.Error(err),
		)
		o.emit(ConnectionFailed{
			Meta:   meta,
			Reason: "Failed to refresh folders: " + session.Describe(err),
			Err:    err,
		})
		return
	}

	o.registry.SetFolders(meta.Account, folders)
	for _, f := range folders {
		o.cache.StoreFolder(meta.Account, f, nil)
	}
	o.emit(FoldersUpdated{Meta: meta, Folders: model.CloneFolders(folders)})
}

func (o *Orchestrator) fetchEmails(ctx context.Context, meta Meta, folder string, limit int) {
	if cached, ok := o.cache.Emails(meta.Account, folder); ok {
		o.logger.Debug("cache hit", zap.String("account", meta.Account), zap.String("folder", folder))
		o.registry.SetEmails(meta.Account, cached)
		o.emit(EmailsUpdated{Meta: meta, Folder: folder, Emails: cached})
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	emails, err := o.sessions.FetchHeaders(opCtx, meta.Account, folder, limit)
	if err != nil {
		o.syncConnected(meta.Account)
		o.logger.Warn("fetch emails failed",
			zap.String("account", meta.Account),
			zap.String("folder", folder),
			zap.Stringer("kind", session.KindOf(err)),
			zap.Error(err),
		)
		o.emit(ConnectionFailed{
			Meta:   meta,
			Reason: "Failed to fetch emails: " + session.Describe(err),
			Err:    err,
		})
		return
	}
	if emails == nil {
		emails = []model.Email{}
	}

	o.registry.SetEmails(meta.Account, emails)
	if f, ok := o.registry.Folder(meta.Account, folder); ok {
		o.cache.StoreFolder(meta.Account, f, emails)
	}
	o.emit(EmailsUpdated{Meta: meta, Folder: folder, Emails: model.CloneEmails(emails)})
}

func (o *Orchestrator) storeCredentials(meta Meta, password string) {
	if err := o.sessions.StoreCredentials(meta.Account, password); err != nil {
		o.logger.Warn("store credentials failed", zap.String("account", meta.Account), zap.Error(err))
		o.emit(ConnectionFailed{
			Meta:   meta,
			Reason: "Failed to store credentials: " + session.Describe(err),
			Err:    err,
		})
	}
}

func (o *Orchestrator) deleteEmail(meta Meta, id uint32) {
	o.registry.RemoveEmail(meta.Account, id)
	o.emit(EmailDeleted{Meta: meta, ID: id})
}

func (o *Orchestrator) addAccount(ctx context.Context, meta Meta, acct model.Account) {
	if acct.Email == "" {
		o.emit(ConnectionFailed{Meta: meta, Reason: ReasonInvalidAccount, Err: ErrInvalidAccount})
		return
	}

	o.registry.Add(acct)
	if o.store != nil {
		opCtx, cancel := context.WithTimeout(ctx, o.timeout)
		if err := o.store.UpsertAccount(opCtx, acct); err != nil {
			o.logger.Error("persisting account failed", zap.String("account", acct.Email), zap.Error(err))
		}
		cancel()
	}

	stored, _ := o.registry.Get(acct.Email)
	o.emit(AccountAdded{Meta: meta, Account: stored})
}

func (o *Orchestrator) removeAccount(ctx context.Context, meta Meta) {
	o.sessions.Disconnect(meta.Account)
	o.cache.ClearAccount(meta.Account)
	o.registry.Remove(meta.Account)
	if o.store != nil {
		opCtx, cancel := context.WithTimeout(ctx, o.timeout)
		if err := o.store.DeleteAccount(opCtx, meta.Account); err != nil {
			o.logger.Error("deleting stored account failed", zap.String("account", meta.Account), zap.Error(err))
		}
		cancel()
	}
	o.emit(AccountRemoved{Meta: meta})
}

// syncConnected clears the connection flag once the session is gone.
func (o *Orchestrator) syncConnected(account string) {
	if o.sessions.State(account) != session.StateConnected {
		o.registry.SetConnected(account, false)
	}
}

// emit publishes ev unless the orchestrator is closed, so commands cut
// short by Close do not surface as failures.
func (o *Orchestrator) emit(ev Event) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	o.events.Push(ev)
}
