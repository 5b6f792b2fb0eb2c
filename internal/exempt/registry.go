package exempt

import (
	"context"
	"sync"

	"warden/internal/guard"
	"warden/internal/storage"

	"go.uber.org/zap"
)

// Registry is a read-through per-guild cache of exemption grants. A grant
// attaches a category set to a principal (user or role); the wildcard
// category bypasses every action.
type Registry struct {
	mu      sync.RWMutex
	store   *storage.Store
	logger  *zap.Logger
	entries map[string]map[string]map[string]struct{}
}

func New(store *storage.Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		logger:  logger,
		entries: make(map[string]map[string]map[string]struct{}),
	}
}

// IsExempt reports whether the actor, or any of the actor's roles, holds a
// grant for the action or the wildcard. Exemption is a pure OR of user-level
// and role-level grants.
func (r *Registry) IsExempt(ctx context.Context, guildID, actorID string, roleIDs []string, action guard.Action) bool {
	grants, err := r.load(ctx, guildID)
	if err != nil {
		r.logger.Warn("exemption lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	if matches(grants[userKey(actorID)], action) {
		return true
	}
	for _, roleID := range roleIDs {
		if matches(grants[roleKey(roleID)], action) {
			return true
		}
	}
	return false
}

func (r *Registry) AddPrincipal(ctx context.Context, guildID, targetID string, isRole bool, categories []string, addedBy string) error {
	for _, category := range categories {
		entry := storage.ExemptionEntry{
			GuildID:  guildID,
			TargetID: targetID,
			IsRole:   isRole,
			Category: category,
			AddedBy:  addedBy,
		}
		if err := r.store.AddExemption(ctx, entry); err != nil {
			return err
		}
	}
	r.invalidate(guildID)
	return nil
}

// RemovePrincipal drops the named categories, or every grant for the
// principal when categories is empty.
func (r *Registry) RemovePrincipal(ctx context.Context, guildID, targetID string, isRole bool, categories []string) error {
	if len(categories) == 0 {
		if err := r.store.RemoveExemptionsFor(ctx, guildID, targetID, isRole); err != nil {
			return err
		}
		r.invalidate(guildID)
		return nil
	}
	for _, category := range categories {
		if err := r.store.RemoveExemption(ctx, guildID, targetID, isRole, category); err != nil {
			return err
		}
	}
	r.invalidate(guildID)
	return nil
}

func (r *Registry) ListEntries(ctx context.Context, guildID, targetID string) ([]storage.ExemptionEntry, error) {
	return r.store.ListExemptionsFor(ctx, guildID, targetID)
}

// ListAll returns every entry for the guild, optionally filtered by category.
func (r *Registry) ListAll(ctx context.Context, guildID, category string) ([]storage.ExemptionEntry, error) {
	entries, err := r.store.ListExemptions(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if category == "" {
		return entries, nil
	}
	filtered := entries[:0]
	for _, entry := range entries {
		if entry.Category == category {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

func (r *Registry) Reset(ctx context.Context, guildID string) error {
	if err := r.store.DeleteExemptions(ctx, guildID); err != nil {
		return err
	}
	r.invalidate(guildID)
	return nil
}

func (r *Registry) invalidate(guildID string) {
	r.mu.Lock()
	delete(r.entries, guildID)
	r.mu.Unlock()
}

func (r *Registry) load(ctx context.Context, guildID string) (map[string]map[string]struct{}, error) {
	r.mu.RLock()
	grants := r.entries[guildID]
	r.mu.RUnlock()
	if grants != nil {
		return grants, nil
	}

	entries, err := r.store.ListExemptions(ctx, guildID)
	if err != nil {
		return nil, err
	}
	grants = make(map[string]map[string]struct{})
	for _, entry := range entries {
		key := userKey(entry.TargetID)
		if entry.IsRole {
			key = roleKey(entry.TargetID)
		}
		categories := grants[key]
		if categories == nil {
			categories = make(map[string]struct{})
			grants[key] = categories
		}
		categories[entry.Category] = struct{}{}
	}

	r.mu.Lock()
	r.entries[guildID] = grants
	r.mu.Unlock()
	return grants, nil
}

func matches(categories map[string]struct{}, action guard.Action) bool {
	if categories == nil {
		return false
	}
	if _, ok := categories[guard.Wildcard]; ok {
		return true
	}
	_, ok := categories[string(action)]
	return ok
}

func userKey(id string) string { return "u:" + id }

func roleKey(id string) string { return "r:" + id }
