package confcache

import (
	"context"
	"sync"
	"time"

	"warden/internal/guard"
	"warden/internal/storage"

	"go.uber.org/zap"
)

// Cache is a read-through per-guild cache over the configuration store.
// Every write invalidates the guild entry before returning, so the next read
// repopulates from the store.
type Cache struct {
	mu      sync.RWMutex
	store   *storage.Store
	logger  *zap.Logger
	entries map[string]*entry
}

type entry struct {
	cfg         storage.GuardConfig
	present     bool
	limits      map[string]storage.ActionLimit
	punishments map[string]storage.ActionPunishment
}

func New(store *storage.Store, logger *zap.Logger) *Cache {
	return &Cache{
		store:   store,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// GetConfiguration returns the guild configuration and whether one exists.
// An absent configuration means the guard is disabled.
func (c *Cache) GetConfiguration(ctx context.Context, guildID string) (storage.GuardConfig, bool, error) {
	item, err := c.load(ctx, guildID)
	if err != nil {
		return storage.GuardConfig{}, false, err
	}
	return item.cfg, item.present, nil
}

func (c *Cache) IsActionActive(ctx context.Context, guildID string, action guard.Action) bool {
	item, err := c.load(ctx, guildID)
	if err != nil {
		c.logger.Warn("config lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	if !item.present || !item.cfg.Enabled {
		return false
	}
	for _, protection := range item.cfg.Protections {
		if protection == string(action) {
			return true
		}
	}
	return false
}

func (c *Cache) Enable(ctx context.Context, guildID string, actions []guard.Action) error {
	cfg, _, err := c.store.GetGuardConfig(ctx, guildID)
	if err != nil {
		return err
	}
	cfg.GuildID = guildID
	cfg.Enabled = true
	if len(actions) > 0 {
		protections := make([]string, 0, len(actions))
		for _, action := range actions {
			protections = append(protections, string(action))
		}
		cfg.Protections = protections
	} else if len(cfg.Protections) == 0 {
		for _, action := range guard.AllActions() {
			cfg.Protections = append(cfg.Protections, string(action))
		}
	}
	if err := c.store.UpsertGuardConfig(ctx, cfg); err != nil {
		return err
	}
	c.invalidate(guildID)
	return nil
}

func (c *Cache) Disable(ctx context.Context, guildID string) error {
	cfg, present, err := c.store.GetGuardConfig(ctx, guildID)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	cfg.Enabled = false
	if err := c.store.UpsertGuardConfig(ctx, cfg); err != nil {
		return err
	}
	c.invalidate(guildID)
	return nil
}

func (c *Cache) SetLogChannel(ctx context.Context, guildID, channelID string) error {
	cfg, _, err := c.store.GetGuardConfig(ctx, guildID)
	if err != nil {
		return err
	}
	cfg.GuildID = guildID
	cfg.LogChannel = channelID
	if err := c.store.UpsertGuardConfig(ctx, cfg); err != nil {
		return err
	}
	c.invalidate(guildID)
	return nil
}

func (c *Cache) SetLimit(ctx context.Context, guildID string, action guard.Action, maxCount int, window time.Duration) error {
	limit := storage.ActionLimit{
		GuildID:  guildID,
		Action:   string(action),
		MaxCount: maxCount,
		WindowMS: window.Milliseconds(),
	}
	if err := c.store.SetActionLimit(ctx, limit); err != nil {
		return err
	}
	c.invalidate(guildID)
	return nil
}

// GetLimit returns the configured limit for (guild, action). A limit may
// exist for an action that is not currently active; it stays inert until the
// action is enabled.
func (c *Cache) GetLimit(ctx context.Context, guildID string, action guard.Action) (storage.ActionLimit, bool) {
	item, err := c.load(ctx, guildID)
	if err != nil {
		c.logger.Warn("limit lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return storage.ActionLimit{}, false
	}
	limit, ok := item.limits[string(action)]
	return limit, ok
}

func (c *Cache) SetPunishment(ctx context.Context, guildID string, action guard.Action, kind guard.Punishment, duration time.Duration) error {
	punishment := storage.ActionPunishment{
		GuildID:    guildID,
		Action:     string(action),
		Kind:       string(kind),
		DurationMS: duration.Milliseconds(),
	}
	if err := c.store.SetActionPunishment(ctx, punishment); err != nil {
		return err
	}
	c.invalidate(guildID)
	return nil
}

func (c *Cache) GetPunishment(ctx context.Context, guildID string, action guard.Action) (storage.ActionPunishment, bool) {
	item, err := c.load(ctx, guildID)
	if err != nil {
		c.logger.Warn("punishment lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return storage.ActionPunishment{}, false
	}
	punishment, ok := item.punishments[string(action)]
	return punishment, ok
}

func (c *Cache) ListLimits(ctx context.Context, guildID string) ([]storage.ActionLimit, error) {
	return c.store.ListActionLimits(ctx, guildID)
}

func (c *Cache) ListPunishments(ctx context.Context, guildID string) ([]storage.ActionPunishment, error) {
	return c.store.ListActionPunishments(ctx, guildID)
}

// ResetGuild wipes configuration, limits, and punishments for the guild.
func (c *Cache) ResetGuild(ctx context.Context, guildID string) error {
	if err := c.store.DeleteGuardConfig(ctx, guildID); err != nil {
		return err
	}
	if err := c.store.DeleteActionLimits(ctx, guildID); err != nil {
		return err
	}
	if err := c.store.DeleteActionPunishments(ctx, guildID); err != nil {
		return err
	}
	c.invalidate(guildID)
	return nil
}

func (c *Cache) invalidate(guildID string) {
	c.mu.Lock()
	delete(c.entries, guildID)
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context, guildID string) (*entry, error) {
	c.mu.RLock()
	item := c.entries[guildID]
	c.mu.RUnlock()
	if item != nil {
		return item, nil
	}

	cfg, present, err := c.store.GetGuardConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	limits, err := c.store.ListActionLimits(ctx, guildID)
	if err != nil {
		return nil, err
	}
	punishments, err := c.store.ListActionPunishments(ctx, guildID)
	if err != nil {
		return nil, err
	}

	item = &entry{
		cfg:         cfg,
		present:     present,
		limits:      make(map[string]storage.ActionLimit, len(limits)),
		punishments: make(map[string]storage.ActionPunishment, len(punishments)),
	}
	item.cfg.GuildID = guildID
	for _, limit := range limits {
		item.limits[limit.Action] = limit
	}
	for _, punishment := range punishments {
		item.punishments[punishment.Action] = punishment
	}

	c.mu.Lock()
	c.entries[guildID] = item
	c.mu.Unlock()
	return item, nil
}
