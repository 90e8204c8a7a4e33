package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formline/internal/config"
	"formline/internal/domain"
	"formline/internal/repo"
)

// ResolveOwnerAndConfig picks the active owner and makes sure an owner row
// exists in the DB, seeding one from config if missing. It prefers the
// override, then the workspace formline.yml, then a single-owner DB.
func ResolveOwnerAndConfig(ctx context.Context, workspace, ownerOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}

	ownerID := ownerOverride
	if ownerID == "" && cfg != nil {
		ownerID = cfg.Owner.ID
	}
	if ownerID == "" {
		owners, err := r.ListOwners(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(owners) == 1 {
			ownerID = owners[0].ID
		} else {
			return "", nil, fmt.Errorf("owner not specified; use --owner or run fl owner init")
		}
	}
	if cfg == nil {
		cfg = config.Default(ownerID)
	}
	cfg.Owner.ID = ownerID

	if _, err := r.GetOwner(ctx, ownerID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createOwner(ctx, r, ownerID, cfg); err != nil {
			return "", nil, err
		}
	}
	return ownerID, cfg, nil
}

func createOwner(ctx context.Context, r repo.Repo, ownerID string, cfg *config.Config) error {
	slug := cfg.Owner.Slug
	if slug == "" {
		slug = ownerID
	}
	o := domain.Owner{
		ID:        ownerID,
		Slug:      slug,
		Name:      cfg.Owner.Name,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertOwner(ctx, o); err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}
