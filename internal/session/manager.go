// Package session owns the live IMAP connections, at most one per
// account, and translates protocol results into model values.
package session

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nhle/mailcross/internal/logging"
	"github.com/nhle/mailcross/internal/model"
)

// logoutTimeout bounds the best-effort LOGOUT sent when a session is
// discarded.
const logoutTimeout = 5 * time.Second

// State is the lifecycle position of an account's session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Credentials are the connection parameters of an account. The password
// is looked up in the SecretStore by Email.
type Credentials struct {
	Email    string
	Server   string
	Port     int
	UseTLS   bool
	StartTLS bool
}

// CredentialsFor extracts connection parameters from an account.
func CredentialsFor(acct model.Account) Credentials {
	return Credentials{
		Email:    acct.Email,
		Server:   acct.Server,
		Port:     acct.Port,
		UseTLS:   acct.UseTLS,
		StartTLS: acct.StartTLS,
	}
}

// Address returns host:port.
func (c Credentials) Address() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// SecretStore is the password lookup the manager needs.
type SecretStore interface {
	Load(email string) (string, error)
	Store(email, password string) error
	Has(email string) bool
}

// Conn is one authenticated-or-not IMAP connection. Implementations do
// not need to be safe for concurrent use; the manager never issues two
// calls on the same Conn at once for a given account.
type Conn interface {
	Login(username, password string) error
	ListMailboxes() ([]string, error)
	MessageCount(mailbox string) (uint32, error)
	Select(mailbox string) error
	SearchAll() ([]uint32, error)
	// FetchHeaders returns the raw header block of each message keyed by
	// sequence number. Messages the server did not return are absent.
	FetchHeaders(seqNums []uint32) (map[uint32][]byte, error)
	Logout() error
	Close() error
	// Alive is false once the underlying connection has failed.
	Alive() bool
}

// Dialer opens transport connections. It must honor ctx.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(l)
	}
}

// Manager keeps the session table.
type Manager struct {
	secrets SecretStore
	dialer  Dialer
	logger  *zap.Logger

	mu         sync.Mutex
	sessions   map[string]Conn
	connecting map[string]bool
}

// NewManager creates a manager with an empty session table.
func NewManager(secrets SecretStore, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		secrets:    secrets,
		dialer:     dialer,
		logger:     logging.OrNop(nil),
		sessions:   make(map[string]Conn),
		connecting: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the session state of an account.
func (m *Manager) State(account string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connecting[account] {
		return StateConnecting
	}
	if _, ok := m.sessions[account]; ok {
		return StateConnected
	}
	return StateDisconnected
}

// Connect opens and authenticates a session. On success it replaces any
// previous session of the account, which is logged out. On failure the
// previous session, if any, is left untouched.
func (m *Manager) Connect(ctx context.Context, creds Credentials) error {
	const op = "connect"
	account := creds.Email

	if creds.Server == "" {
		return newError(KindConnection, account, op, ErrServerNotConfigured)
	}

	password, err := m.secrets.Load(account)
	if err != nil {
		return newError(KindCredentials, account, op, err)
	}

	m.setConnecting(account, true)
	defer m.setConnecting(account, false)

	log := m.logger.With(zap.String("account", account), zap.String("address", creds.Address()))
	log.Debug("dialing")

	conn, err := m.dialer.Dial(ctx, creds)
	if err != nil {
		if ctx.Err() != nil {
			return newError(KindTimeout, account, op, pkgerrors.Wrapf(ctx.Err(), "connecting to %s", creds.Address()))
		}
		return newError(KindConnection, account, op, pkgerrors.Wrapf(err, "failed to connect to %s", creds.Address()))
	}

	if _, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, conn.Login(account, password)
	}); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return newError(KindTimeout, account, op, pkgerrors.Wrap(err, "logging in"))
		}
		return newError(KindAuthentication, account, op, pkgerrors.Wrap(err, "login failed"))
	}

	m.mu.Lock()
	prev := m.sessions[account]
	m.sessions[account] = conn
	m.mu.Unlock()

	if prev != nil {
		log.Debug("replacing previous session")
		closeConn(prev)
	}
	log.Info("session established")
	return nil
}

// Disconnect logs out and forgets the account's session. Errors are
// swallowed and calling it without a session is a no-op.
func (m *Manager) Disconnect(account string) {
	m.mu.Lock()
	conn, ok := m.sessions[account]
	delete(m.sessions, account)
	m.mu.Unlock()

	if !ok {
		return
	}
	closeConn(conn)
	m.logger.Info("session closed", zap.String("account", account))
}

// DisconnectAll closes every session.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	accounts := make([]string, 0, len(m.sessions))
	for account := range m.sessions {
		accounts = append(accounts, account)
	}
	m.mu.Unlock()

	for _, account := range accounts {
		m.Disconnect(account)
	}
}

// ListFolders lists every mailbox with its message count, one STATUS
// round trip per mailbox. A mailbox whose count cannot be read is kept
// with CountUnavailable set.
func (m *Manager) ListFolders(ctx context.Context, account string) ([]model.Folder, error) {
	const op = "list folders"

	conn, err := m.session(account, op)
	if err != nil {
		return nil, err
	}

	names, err := await(ctx, conn.ListMailboxes)
	if err != nil {
		return nil, m.failure(ctx, account, op, conn, err)
	}

	folders := make([]model.Folder, 0, len(names))
	for _, name := range names {
		name := name
		count, err := await(ctx, func() (uint32, error) { return conn.MessageCount(name) })
		if err != nil {
			if ctx.Err() != nil || !conn.Alive() {
				return nil, m.failure(ctx, account, op, conn, err)
			}
			m.logger.Warn("message count unavailable",
				zap.String("account", account),
				zap.String("folder", name),
				zap.Error(err),
			)
			f := model.NewFolder(name, 0)
			f.CountUnavailable = true
			folders = append(folders, f)
			continue
		}
		folders = append(folders, model.NewFolder(name, int(count)))
	}

	return folders, nil
}

// FetchHeaders returns up to limit of the newest messages of a folder,
// newest first, with headers only and a placeholder body.
func (m *Manager) FetchHeaders(ctx context.Context, account, folder string, limit int) ([]model.Email, error) {
	const op = "fetch headers"

	conn, err := m.session(account, op)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.Email{}, nil
	}

	if _, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, conn.Select(folder)
	}); err != nil {
		return nil, m.failure(ctx, account, op, conn, pkgerrors.Wrapf(err, "selecting %s", folder))
	}

	seqNums, err := await(ctx, conn.SearchAll)
	if err != nil {
		return nil, m.failure(ctx, account, op, conn, pkgerrors.Wrap(err, "searching"))
	}

	newest := newestFirst(seqNums, limit)
	if len(newest) == 0 {
		return []model.Email{}, nil
	}

	raw, err := await(ctx, func() (map[uint32][]byte, error) { return conn.FetchHeaders(newest) })
	if err != nil {
		return nil, m.failure(ctx, account, op, conn, pkgerrors.Wrap(err, "fetching headers"))
	}

	emails := make([]model.Email, 0, len(newest))
	for _, seq := range newest {
		block, ok := raw[seq]
		if !ok {
			continue
		}
		h := ParseHeader(block)
		emails = append(emails, model.Email{
			ID:        seq,
			Sender:    h.From,
			Recipient: h.To,
			Subject:   h.Subject,
			Date:      h.Date,
			Body:      model.PreviewPlaceholder,
		})
	}

	m.logger.Debug("fetched headers",
		zap.String("account", account),
		zap.String("folder", folder),
		zap.Int("count", len(emails)),
	)
	return emails, nil
}

// StoreCredentials saves a password in the SecretStore.
func (m *Manager) StoreCredentials(email, password string) error {
	if err := m.secrets.Store(email, password); err != nil {
		return newError(KindCredentials, email, "store credentials", err)
	}
	return nil
}

// HasCredentials reports whether a password is stored for the account.
func (m *Manager) HasCredentials(email string) bool {
	return m.secrets.Has(email)
}

func (m *Manager) setConnecting(account string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if on {
		m.connecting[account] = true
		return
	}
	delete(m.connecting, account)
}

func (m *Manager) session(account, op string) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.sessions[account]
	if !ok {
		return nil, newError(KindOperation, account, op, ErrNoSession)
	}
	return conn, nil
}

// failure classifies an error from a live session. Timeouts and dead
// connections drop the session.
func (m *Manager) failure(ctx context.Context, account, op string, conn Conn, err error) error {
	if ctx.Err() != nil {
		m.drop(account, conn)
		_ = conn.Close()
		return newError(KindTimeout, account, op, err)
	}
	if !conn.Alive() {
		m.logger.Warn("session lost", zap.String("account", account), zap.Error(err))
		m.drop(account, conn)
		_ = conn.Close()
	}
	return newError(KindOperation, account, op, err)
}

// drop removes conn from the table unless it has been replaced already.
func (m *Manager) drop(account string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[account] == conn {
		delete(m.sessions, account)
	}
}

func closeConn(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	_, _ = await(ctx, func() (struct{}, error) { return struct{}{}, conn.Logout() })
	_ = conn.Close()
}

// newestFirst sorts a copy of seqNums ascending and returns the last
// limit entries in descending order.
func newestFirst(seqNums []uint32, limit int) []uint32 {
	sorted := make([]uint32, len(seqNums))
	copy(sorted, seqNums)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	out := make([]uint32, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		out = append(out, sorted[i])
	}
	return out
}

type result[T any] struct {
	val T
	err error
}

// await runs fn and waits for it or for ctx, whichever ends first. The
// goroutine running fn is abandoned on cancellation; callers close the
// connection so it unblocks.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn()
		ch <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
