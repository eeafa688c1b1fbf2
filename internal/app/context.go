package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planline/internal/config"
	"planline/internal/repo"
)

// ResolveUserAndConfig picks the active user and ensures a user row plus a
// planner config exist in DB, seeding defaults when missing. It prefers the
// override, then falls back to a single-user DB. A missing user is created
// on the fly.
func ResolveUserAndConfig(ctx context.Context, userOverride string, r repo.Repo) (string, *config.Config, error) {
	userID := userOverride
	if userID == "" {
		if u, err := r.SingleUser(ctx); err == nil {
			userID = u.ID
		} else {
			return "", nil, fmt.Errorf("user not specified; use --user")
		}
	}
	seedCfg := config.Default(userID)

	if _, err := r.GetUser(ctx, userID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createUser(ctx, r, userID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetUserConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertUserConfig(ctx, userID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed user config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.User.ID = userID
	return userID, cfg, nil
}

func createUser(ctx context.Context, r repo.Repo, userID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(userID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureUser(ctx, tx, userID, "default-org", now); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if err := r.UpsertUserConfigTx(ctx, tx, userID, seedCfg); err != nil {
		return fmt.Errorf("insert user config: %w", err)
	}
	return tx.Commit()
}
