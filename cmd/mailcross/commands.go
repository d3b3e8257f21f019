package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nhle/mailcross/internal/app"
	"github.com/nhle/mailcross/internal/credential"
	"github.com/nhle/mailcross/internal/logging"
	"github.com/nhle/mailcross/internal/model"
	"github.com/nhle/mailcross/internal/store"
	"github.com/nhle/mailcross/internal/sync"
)

const shutdownTimeout = 5 * time.Second

// settings is the resolved configuration of one invocation.
type settings struct {
	configPath string
	dbPath     string
	cfg        *model.AppConfig
}

func loadSettings(c *cli.Context) (*settings, error) {
	env, err := model.LoadEnv()
	if err != nil {
		return nil, err
	}

	s := &settings{
		configPath: firstNonEmpty(c.String("config"), env.ConfigPath, model.DefaultConfigPath()),
		dbPath:     firstNonEmpty(c.String("db"), env.DBPath, model.DefaultDBPath()),
	}

	s.cfg, err = model.LoadConfig(s.configPath)
	if err != nil {
		return nil, err
	}
	env.Apply(s.cfg)
	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// mergeAccounts combines file and database accounts. A stored account
// replaces a configured one with the same email; stored-only accounts
// follow the configured ones.
func mergeAccounts(configured []model.AccountConfig, stored []model.Account) []model.Account {
	byEmail := make(map[string]model.Account, len(stored))
	for _, a := range stored {
		byEmail[a.Email] = a
	}

	out := make([]model.Account, 0, len(configured)+len(stored))
	seen := make(map[string]bool, len(configured))
	for _, ac := range configured {
		if ac.Email == "" || seen[ac.Email] {
			continue
		}
		seen[ac.Email] = true
		if a, ok := byEmail[ac.Email]; ok {
			out = append(out, a)
			continue
		}
		out = append(out, ac.Account())
	}
	for _, a := range stored {
		if !seen[a.Email] {
			seen[a.Email] = true
			out = append(out, a)
		}
	}
	return out
}

func runTUI(c *cli.Context) error {
	s, err := loadSettings(c)
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs always go to a file.
	if s.cfg.Log.File == "" {
		s.cfg.Log.File = filepath.Join(filepath.Dir(s.configPath), "mailcross.log")
	}
	logger, err := logging.New(s.cfg.Log.Level, s.cfg.Log.File)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := store.NewSQLiteStore(s.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	secrets, err := credential.Open("")
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(c.Context, s.cfg, db, secrets, logger)
	if err != nil {
		return err
	}

	housekeeper, err := sync.NewHousekeeper(orch, s.cfg.Sync.CleanupSchedule, logger)
	if err != nil {
		return err
	}
	housekeeper.Start()

	logger.Info("starting ui", zap.Int("accounts", len(orch.Accounts())))
	_, runErr := tea.NewProgram(app.New(orch, s.cfg.Sync.FetchLimit), tea.WithAltScreen()).Run()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	housekeeper.Stop(ctx)
	if err := orch.Close(ctx); err != nil {
		logger.Warn("orchestrator shutdown", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("running ui: %w", runErr)
	}
	return nil
}

func login(c *cli.Context) error {
	email := strings.TrimSpace(c.Args().First())
	if email == "" {
		return cli.Exit("login requires an email address", 2)
	}

	password := c.String("password")
	if password == "" {
		err := huh.NewInput().
			Title("Password for " + email).
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(func(s string) error {
				if s == "" {
					return errors.New("password is required")
				}
				return nil
			}).
			Run()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
	}

	secrets, err := credential.Open("")
	if err != nil {
		return err
	}
	if err := secrets.Store(email, password); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Stored password for %s\n", email)
	return nil
}

func listAccounts(c *cli.Context) error {
	s, err := loadSettings(c)
	if err != nil {
		return err
	}
	db, err := store.NewSQLiteStore(s.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	stored, err := db.GetAccounts(c.Context)
	if err != nil {
		return err
	}

	secrets, err := credential.Open("")
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tNAME\tSERVER\tPASSWORD")
	for _, a := range mergeAccounts(s.cfg.Accounts, stored) {
		server := "-"
		if a.HasServer() {
			server = fmt.Sprintf("%s:%d", a.Server, a.Port)
		}
		pw := "missing"
		if secrets.Has(a.Email) {
			pw = "stored"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Email, a.Name, server, pw)
	}
	return w.Flush()
}

// openCore loads settings and builds an orchestrator for a one-shot
// command. closeFn shuts it down and releases the store.
func openCore(c *cli.Context) (orch *sync.Orchestrator, secrets *credential.Store, closeFn func(), err error) {
	s, err := loadSettings(c)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(s.cfg.Log.Level, s.cfg.Log.File)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := store.NewSQLiteStore(s.dbPath)
	if err != nil {
		return nil, nil, nil, err
	}
	secrets, err = credential.Open("")
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	orch, err = newOrchestrator(c.Context, s.cfg, db, secrets, logger)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	closeFn = func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := orch.Close(ctx); err != nil {
			logger.Warn("orchestrator shutdown", zap.Error(err))
		}
		db.Close()
		logger.Sync() //nolint:errcheck
	}
	return orch, secrets, closeFn, nil
}

func addAccount(c *cli.Context) error {
	email := strings.TrimSpace(c.Args().First())
	if email == "" {
		return cli.Exit("accounts add requires an email address", 2)
	}

	orch, _, closeFn, err := openCore(c)
	if err != nil {
		return err
	}
	defer closeFn()

	acct := model.Account{
		Name:     c.String("name"),
		Email:    email,
		Server:   c.String("server"),
		Port:     c.Int("port"),
		UseTLS:   c.Bool("tls"),
		StartTLS: c.Bool("starttls"),
	}
	if acct.Name == "" {
		acct.Name = email
	}

	ctx, cancel := context.WithTimeout(c.Context, shutdownTimeout)
	defer cancel()
	if _, err := saveAccount(ctx, orch, acct); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Saved %s\n", email)
	return nil
}

func removeAccount(c *cli.Context) error {
	email := strings.TrimSpace(c.Args().First())
	if email == "" {
		return cli.Exit("accounts remove requires an email address", 2)
	}

	orch, secrets, closeFn, err := openCore(c)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(c.Context, shutdownTimeout)
	defer cancel()
	if err := forgetAccount(ctx, orch, email); err != nil {
		return err
	}

	if err := secrets.Delete(email); err != nil && !errors.Is(err, credential.ErrNotFound) {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Removed %s\n", email)
	return nil
}

func initConfig(c *cli.Context) error {
	s, err := loadSettings(c)
	if err != nil {
		return err
	}
	if err := model.SaveConfig(s.configPath, s.cfg); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Wrote %s\n", s.configPath)
	return nil
}
