package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signflow/internal/config"
	"signflow/internal/repo"
)

// ResolveAccountAndConfig picks the active account and ensures an account and
// its config exist in the DB, seeding defaults when missing. Preference
// order: explicit override, then the workspace config file, then a single
// account already in the DB.
func ResolveAccountAndConfig(ctx context.Context, workspace, accountOverride string, r repo.Repo) (string, *config.Config, error) {
	accountID := accountOverride
	var fileCfg *config.Config
	if cfg, err := config.LoadOptional(workspace); err != nil {
		return "", nil, err
	} else if cfg != nil {
		fileCfg = cfg
		if accountID == "" {
			accountID = cfg.Account.ID
		}
	}
	if accountID == "" {
		if a, err := r.SingleAccount(ctx); err == nil {
			accountID = a.ID
		} else {
			return "", nil, fmt.Errorf("account not specified; use --account or add %s", config.Path(workspace))
		}
	}

	if _, err := r.GetAccount(ctx, accountID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createAccount(ctx, r, accountID, fileCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetAccountConfig(ctx, accountID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		seed := fileCfg
		if seed == nil {
			seed = config.Default(accountID)
		}
		if err := r.UpsertAccountConfig(ctx, accountID, seed); err != nil {
			return "", nil, fmt.Errorf("seed account config: %w", err)
		}
		cfg = seed
	}
	cfg.Account.ID = accountID
	return accountID, cfg, nil
}

func createAccount(ctx context.Context, r repo.Repo, accountID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(accountID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureAccount(ctx, tx, accountID, seedCfg.Account.Name, now); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	if err := r.UpsertAccountConfigTx(ctx, tx, accountID, seedCfg); err != nil {
		return fmt.Errorf("insert account config: %w", err)
	}
	return tx.Commit()
}
