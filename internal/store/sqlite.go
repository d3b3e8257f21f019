package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailcross/internal/model"
)

// SQLiteStore implements AccountStore using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ AccountStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// accountRow mirrors the accounts table.
type accountRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Server    string    `db:"server"`
	Port      int       `db:"port"`
	UseTLS    bool      `db:"use_tls"`
	StartTLS  bool      `db:"starttls"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r accountRow) account() model.Account {
	return model.Account{
		Name:     r.Name,
		Email:    r.Email,
		Server:   r.Server,
		Port:     r.Port,
		UseTLS:   r.UseTLS,
		StartTLS: r.StartTLS,
	}
}

const accountColumns = "id, name, email, server, port, use_tls, starttls, created_at, updated_at"

// UpsertAccount inserts an account, or updates the row with the same
// email while keeping its id and created_at.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, acct model.Account) error {
	if strings.TrimSpace(acct.Email) == "" {
		return fmt.Errorf("account email must not be empty")
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, email, server, port, use_tls, starttls, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			server = excluded.server,
			port = excluded.port,
			use_tls = excluded.use_tls,
			starttls = excluded.starttls,
			updated_at = excluded.updated_at`,
		uuid.New().String(), acct.Name, acct.Email, acct.Server, acct.Port,
		boolToInt(acct.UseTLS), boolToInt(acct.StartTLS), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", acct.Email, err)
	}
	return nil
}

// GetAccounts returns all stored accounts, oldest first.
func (s *SQLiteStore) GetAccounts(ctx context.Context) ([]model.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+accountColumns+" FROM accounts ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}

	accounts := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.account())
	}
	return accounts, nil
}

// GetAccount returns the account with the given email.
func (s *SQLiteStore) GetAccount(ctx context.Context, email string) (*model.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+accountColumns+" FROM accounts WHERE email = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting account %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", email, err)
	}

	acct := row.account()
	return &acct, nil
}

// DeleteAccount removes an account by email.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE email = ?", email)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", email, err)
	}
	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
