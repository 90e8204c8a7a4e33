package engine

import (
	"context"
	"sync"

	"formline/internal/domain"
	"formline/internal/repo"
)

// FieldRegistry is a point-in-time snapshot of an owner's custom field
// definitions, shaped for the inspector's key lookup.
type FieldRegistry struct {
	byKey map[string]domain.FieldDef
}

func newFieldRegistry(defs []domain.FieldDef) *FieldRegistry {
	byKey := make(map[string]domain.FieldDef, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}
	return &FieldRegistry{byKey: byKey}
}

func (r *FieldRegistry) Lookup(key string) (domain.FieldDef, bool) {
	d, ok := r.byKey[key]
	return d, ok
}

// registryCache holds one field list per owner for the life of the
// process. CreateField invalidates the owner's entry; everything else
// reads through it.
type registryCache struct {
	mu      sync.Mutex
	byOwner map[string][]domain.FieldDef
}

func (c *registryCache) fields(ctx context.Context, r repo.Repo, ownerID string) ([]domain.FieldDef, error) {
	c.mu.Lock()
	if cached, ok := c.byOwner[ownerID]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	defs, err := r.ListFields(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.byOwner == nil {
		c.byOwner = map[string][]domain.FieldDef{}
	}
	c.byOwner[ownerID] = defs
	c.mu.Unlock()
	return defs, nil
}

func (c *registryCache) invalidate(ownerID string) {
	c.mu.Lock()
	delete(c.byOwner, ownerID)
	c.mu.Unlock()
}
