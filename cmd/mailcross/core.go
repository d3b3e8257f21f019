package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/mailcross/internal/cache"
	"github.com/nhle/mailcross/internal/model"
	"github.com/nhle/mailcross/internal/registry"
	"github.com/nhle/mailcross/internal/session"
	"github.com/nhle/mailcross/internal/store"
	"github.com/nhle/mailcross/internal/sync"
)

// newOrchestrator builds the synchronization core over db. The registry
// starts with the configured accounts merged with the stored ones.
func newOrchestrator(ctx context.Context, cfg *model.AppConfig, db *store.SQLiteStore, secrets session.SecretStore, logger *zap.Logger) (*sync.Orchestrator, error) {
	stored, err := db.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	for _, acct := range mergeAccounts(cfg.Accounts, stored) {
		reg.Add(acct)
	}

	sessions := session.NewManager(secrets, session.IMAPDialer{}, session.WithLogger(logger))
	return sync.New(sessions, cache.New(cfg.CacheTTL()), reg,
		sync.WithLogger(logger),
		sync.WithOperationTimeout(cfg.OperationTimeout()),
		sync.WithAccountStore(db),
	), nil
}

// submitAndWait submits cmd and blocks until the event answering it
// arrives. Events for other commands are discarded.
func submitAndWait(ctx context.Context, orch *sync.Orchestrator, cmd sync.Command) (sync.Event, error) {
	id := orch.Submit(cmd)
	for {
		for _, ev := range orch.Drain() {
			if ev.CommandID() == id {
				return ev, nil
			}
		}
		select {
		case <-orch.Events():
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", cmd.Name(), ctx.Err())
		}
	}
}

// saveAccount adds or replaces acct through the orchestrator, which also
// persists it.
func saveAccount(ctx context.Context, orch *sync.Orchestrator, acct model.Account) (model.Account, error) {
	ev, err := submitAndWait(ctx, orch, sync.AddAccount{Account: acct})
	if err != nil {
		return model.Account{}, err
	}
	switch e := ev.(type) {
	case sync.AccountAdded:
		return e.Account, nil
	case sync.ConnectionFailed:
		return model.Account{}, fmt.Errorf("adding %s: %s", acct.Email, e.Reason)
	}
	return model.Account{}, fmt.Errorf("adding %s: unexpected %T", acct.Email, ev)
}

// forgetAccount removes email through the orchestrator, which also
// deletes it from the store.
func forgetAccount(ctx context.Context, orch *sync.Orchestrator, email string) error {
	ev, err := submitAndWait(ctx, orch, sync.RemoveAccount{Account: email})
	if err != nil {
		return err
	}
	if _, ok := ev.(sync.AccountRemoved); !ok {
		return fmt.Errorf("removing %s: unexpected %T", email, ev)
	}
	return nil
}
