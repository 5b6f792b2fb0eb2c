package ratelimit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"warden/internal/confcache"
	"warden/internal/guard"
	"warden/internal/storage"
	"warden/internal/utils"

	"go.uber.org/zap"
)

const persistTimeout = 5 * time.Second

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Result reports one recorded occurrence against the configured limit.
type Result struct {
	Count         int
	Limit         int
	HasLimit      bool
	Exceeded      bool
	WindowResetAt time.Time
}

// Limiter keeps a sliding window of occurrence timestamps per
// (guild, actor, action) key. The in-memory window is the real-time
// authority; durable history feeds reversion and reporting only.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*utils.SlidingWindow
	cfg     *confcache.Cache
	store   *storage.Store
	logger  *zap.Logger
	clock   Clock
}

func New(cfg *confcache.Cache, store *storage.Store, logger *zap.Logger) *Limiter {
	return &Limiter{
		windows: make(map[string]*utils.SlidingWindow),
		cfg:     cfg,
		store:   store,
		logger:  logger,
		clock:   realClock{},
	}
}

func (l *Limiter) WithClock(clock Clock) {
	l.clock = clock
}

// RecordAndEvaluate records the event and answers whether the configured
// limit is now exceeded. A limit of N permits exactly N occurrences inside
// the window; a limit of 0 trips on the first. Without a configured limit the
// event is persisted for history only.
func (l *Limiter) RecordAndEvaluate(ctx context.Context, event guard.SecurityEvent) Result {
	go l.persist(event)

	limit, ok := l.cfg.GetLimit(ctx, event.GuildID, event.Action)
	if !ok {
		return Result{}
	}

	window := time.Duration(limit.WindowMS) * time.Millisecond
	now := l.clock.Now()
	count, oldest := l.getWindow(event.GuildID, event.ActorID, event.Action).Add(now, window)

	return Result{
		Count:         count,
		Limit:         limit.MaxCount,
		HasLimit:      true,
		Exceeded:      count > limit.MaxCount,
		WindowResetAt: oldest.Add(window),
	}
}

// CountInWindow answers an out-of-band count query against durable history.
func (l *Limiter) CountInWindow(ctx context.Context, guildID, actorID string, action guard.Action, window time.Duration) (int, error) {
	since := l.clock.Now().Add(-window)
	return l.store.CountActions(ctx, guildID, actorID, string(action), since)
}

// ActionsByActor returns the actor's durable history for the action inside
// the window; reversion walks this list.
func (l *Limiter) ActionsByActor(ctx context.Context, guildID, actorID string, action guard.Action, window time.Duration) ([]storage.ActionRecord, error) {
	since := l.clock.Now().Add(-window)
	return l.store.ActionsByActor(ctx, guildID, actorID, string(action), since)
}

func (l *Limiter) RecentActions(ctx context.Context, guildID string, limit int) ([]storage.ActionRecord, error) {
	return l.store.RecentActions(ctx, guildID, limit)
}

func (l *Limiter) PurgeOlderThan(ctx context.Context, days int) error {
	cutoff := l.clock.Now().AddDate(0, 0, -days)
	return l.store.PurgeActionsBefore(ctx, cutoff)
}

// ClearGuild wipes both in-memory windows and durable history for the guild.
func (l *Limiter) ClearGuild(ctx context.Context, guildID string) error {
	l.mu.Lock()
	prefix := guildID + ":"
	for key := range l.windows {
		if strings.HasPrefix(key, prefix) {
			delete(l.windows, key)
		}
	}
	l.mu.Unlock()
	return l.store.DeleteActionHistory(ctx, guildID)
}

func (l *Limiter) getWindow(guildID, actorID string, action guard.Action) *utils.SlidingWindow {
	key := guildID + ":" + actorID + ":" + string(action)
	l.mu.Lock()
	defer l.mu.Unlock()
	window := l.windows[key]
	if window == nil {
		window = utils.NewSlidingWindow()
		l.windows[key] = window
	}
	return window
}

// persist writes the raw event to durable history. Best effort: the
// in-memory decision already happened, so a failure is logged and dropped.
func (l *Limiter) persist(event guard.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	record := storage.ActionRecord{
		ID:           event.ID,
		GuildID:      event.GuildID,
		ActorID:      event.ActorID,
		Action:       string(event.Action),
		TargetID:     event.TargetID,
		AuditEntryID: event.AuditEntryID,
		Metadata:     encodeMetadata(event.Metadata),
		CreatedAt:    event.CreatedAt,
	}
	if err := l.store.AppendAction(ctx, record); err != nil {
		l.logger.Warn("history write failed",
			zap.String("guild_id", event.GuildID),
			zap.String("actor_id", event.ActorID),
			zap.String("action", string(event.Action)),
			zap.Error(err))
	}
}

func encodeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+metadata[key])
	}
	return strings.Join(parts, " ")
}
