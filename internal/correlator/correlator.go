package correlator

import (
	"context"
	"strings"
	"sync"
	"time"

	"warden/internal/confcache"
	"warden/internal/exempt"
	"warden/internal/guard"
	"warden/internal/ratelimit"

	"go.uber.org/zap"
)

const (
	// auditStaleness drops audit entries old enough that attributing the
	// occurrence to their executor would likely blame the wrong actor.
	auditStaleness = 5 * time.Second
	// dedupRetention bounds how long a seen audit entry id is remembered.
	dedupRetention = 10 * time.Second
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

// AuditEntry is one audit-trail record attributing an occurrence to an actor.
type AuditEntry struct {
	ID         string
	ExecutorID string
	TargetID   string
	Reason     string
	CreatedAt  time.Time
}

// AuditSource queries the platform audit trail for the most recent records
// of the category matching a protected action.
type AuditSource interface {
	RecentAudit(guildID string, action guard.Action, limit int) ([]AuditEntry, error)
}

// Directory resolves guild membership facts needed for gating.
type Directory interface {
	BotID() string
	OwnerID(guildID string) (string, error)
	MemberRoles(guildID, userID string) ([]string, error)
	RoleHasAdmin(guildID, roleID string) (bool, error)
}

// Responder receives qualifying events whose limit was breached.
type Responder interface {
	Execute(ctx context.Context, event guard.SecurityEvent, result ratelimit.Result)
}

// Correlator turns raw platform occurrences into gated security events:
// config gate, audit-trail join, staleness and dedup filters, exemption and
// owner checks, then the rate limiter and, on breach, the responder.
type Correlator struct {
	cfg       *confcache.Cache
	exempt    *exempt.Registry
	limiter   *ratelimit.Limiter
	responder Responder
	audits    AuditSource
	dir       Directory
	logger    *zap.Logger
	clock     Clock

	seenMu sync.Mutex
	seen   map[string]struct{}

	roleMu    sync.Mutex
	rolePerms map[string]int64
}

func New(cfg *confcache.Cache, registry *exempt.Registry, limiter *ratelimit.Limiter, responder Responder, audits AuditSource, dir Directory, logger *zap.Logger) *Correlator {
	return &Correlator{
		cfg:       cfg,
		exempt:    registry,
		limiter:   limiter,
		responder: responder,
		audits:    audits,
		dir:       dir,
		logger:    logger,
		clock:     realClock{},
		seen:      make(map[string]struct{}),
		rolePerms: make(map[string]int64),
	}
}

func (c *Correlator) WithClock(clock Clock) {
	c.clock = clock
}

func (c *Correlator) HandleBanAdd(ctx context.Context, guildID, targetID string) {
	c.process(ctx, guildID, guard.ActionBanMember, targetID, targetID, nil)
}

// HandleMemberRemove attributes a removal to a kick when a fresh kick audit
// entry targets the user, else to a prune when a fresh prune entry exists.
// Without either the member left on their own and the occurrence is dropped.
func (c *Correlator) HandleMemberRemove(ctx context.Context, guildID, userID string) {
	if c.cfg.IsActionActive(ctx, guildID, guard.ActionKickMember) {
		if entry, ok := c.freshAudit(guildID, guard.ActionKickMember, userID); ok {
			c.dispatch(ctx, guildID, guard.ActionKickMember, userID, entry, nil)
			return
		}
	}
	if c.cfg.IsActionActive(ctx, guildID, guard.ActionPruneMembers) {
		if entry, ok := c.freshAudit(guildID, guard.ActionPruneMembers, ""); ok {
			c.dispatch(ctx, guildID, guard.ActionPruneMembers, userID, entry, nil)
		}
	}
}

func (c *Correlator) HandleBotAdd(ctx context.Context, guildID, botUserID string) {
	c.process(ctx, guildID, guard.ActionAddBot, botUserID, botUserID, nil)
}

func (c *Correlator) HandleChannelCreate(ctx context.Context, guildID, channelID, name string) {
	c.process(ctx, guildID, guard.ActionCreateChannel, channelID, channelID, map[string]string{"channel_name": name})
}

func (c *Correlator) HandleChannelDelete(ctx context.Context, guildID, channelID, name string) {
	c.process(ctx, guildID, guard.ActionDeleteChannel, channelID, channelID, map[string]string{"channel_name": name})
}

func (c *Correlator) HandleRoleCreate(ctx context.Context, guildID, roleID, name string, permissions int64) {
	c.SnapshotRole(guildID, roleID, permissions)
	c.process(ctx, guildID, guard.ActionCreateRole, roleID, roleID, map[string]string{"role_name": name})
}

func (c *Correlator) HandleRoleDelete(ctx context.Context, guildID, roleID string) {
	c.forgetRole(guildID, roleID)
	c.process(ctx, guildID, guard.ActionDeleteRole, roleID, roleID, nil)
}

// HandleRoleUpdate proceeds only when the permission delta against the prior
// snapshot intersects the dangerous set. The first sighting of a role only
// seeds the snapshot.
func (c *Correlator) HandleRoleUpdate(ctx context.Context, guildID, roleID, name string, permissions int64) {
	prior, known := c.swapRole(guildID, roleID, permissions)
	if !known {
		return
	}
	added := permissions &^ prior
	dangerous := added & guard.DangerousPermissions
	if dangerous == 0 {
		return
	}
	meta := map[string]string{
		"role_name":   name,
		"permissions": strings.Join(guard.PermissionNames(dangerous), ","),
	}
	c.process(ctx, guildID, guard.ActionGrantDangerousPermission, roleID, roleID, meta)
}

// HandleMemberRolesChange proceeds only when an added role currently carries
// the administrator permission.
func (c *Correlator) HandleMemberRolesChange(ctx context.Context, guildID, userID string, oldRoles, newRoles []string) {
	previous := make(map[string]struct{}, len(oldRoles))
	for _, roleID := range oldRoles {
		previous[roleID] = struct{}{}
	}
	var adminRoles []string
	for _, roleID := range newRoles {
		if _, had := previous[roleID]; had {
			continue
		}
		isAdmin, err := c.dir.RoleHasAdmin(guildID, roleID)
		if err != nil {
			c.logger.Warn("role admin lookup failed", zap.String("guild_id", guildID), zap.String("role_id", roleID), zap.Error(err))
			continue
		}
		if isAdmin {
			adminRoles = append(adminRoles, roleID)
		}
	}
	if len(adminRoles) == 0 {
		return
	}
	meta := map[string]string{"roles": strings.Join(adminRoles, ",")}
	c.process(ctx, guildID, guard.ActionGrantAdminRole, userID, userID, meta)
}

// SnapshotRole seeds the permission snapshot used for escalation deltas.
func (c *Correlator) SnapshotRole(guildID, roleID string, permissions int64) {
	c.roleMu.Lock()
	c.rolePerms[guildID+":"+roleID] = permissions
	c.roleMu.Unlock()
}

func (c *Correlator) process(ctx context.Context, guildID string, action guard.Action, targetID, wantTarget string, meta map[string]string) {
	if !c.cfg.IsActionActive(ctx, guildID, action) {
		return
	}
	entry, ok := c.freshAudit(guildID, action, wantTarget)
	if !ok {
		return
	}
	c.dispatch(ctx, guildID, action, targetID, entry, meta)
}

func (c *Correlator) dispatch(ctx context.Context, guildID string, action guard.Action, targetID string, entry AuditEntry, meta map[string]string) {
	if !c.markSeen(entry.ID) {
		return
	}

	event := guard.NewSecurityEvent(guildID, entry.ExecutorID, action, targetID, entry.ID, c.clock.Now(), meta)

	roleIDs, err := c.dir.MemberRoles(guildID, event.ActorID)
	if err != nil {
		c.logger.Warn("member roles lookup failed", zap.String("guild_id", guildID), zap.String("actor_id", event.ActorID), zap.Error(err))
	}
	if c.exempt.IsExempt(ctx, guildID, event.ActorID, roleIDs, action) {
		return
	}
	if owner, err := c.dir.OwnerID(guildID); err == nil && owner == event.ActorID {
		return
	}

	result := c.limiter.RecordAndEvaluate(ctx, event)
	if !result.Exceeded {
		return
	}
	c.logger.Info("limit breached",
		zap.String("guild_id", guildID),
		zap.String("actor_id", event.ActorID),
		zap.String("action", string(action)),
		zap.Int("count", result.Count),
		zap.Int("limit", result.Limit))
	c.responder.Execute(ctx, event, result)
}

// freshAudit returns the most recent matching audit entry, dropping it when
// absent, stale, self-caused, or targeting a different entity than expected.
func (c *Correlator) freshAudit(guildID string, action guard.Action, wantTarget string) (AuditEntry, bool) {
	entries, err := c.audits.RecentAudit(guildID, action, 1)
	if err != nil {
		c.logger.Warn("audit query failed", zap.String("guild_id", guildID), zap.String("action", string(action)), zap.Error(err))
		return AuditEntry{}, false
	}
	if len(entries) == 0 {
		return AuditEntry{}, false
	}
	entry := entries[0]
	if entry.ExecutorID == "" || entry.ExecutorID == c.dir.BotID() {
		return AuditEntry{}, false
	}
	if c.clock.Now().Sub(entry.CreatedAt) > auditStaleness {
		return AuditEntry{}, false
	}
	if wantTarget != "" && entry.TargetID != "" && entry.TargetID != wantTarget {
		return AuditEntry{}, false
	}
	return entry, true
}

// markSeen records the audit entry id and schedules its eviction. Returns
// false when the id was already seen inside the retention window.
func (c *Correlator) markSeen(id string) bool {
	if id == "" {
		return true
	}
	c.seenMu.Lock()
	if _, dup := c.seen[id]; dup {
		c.seenMu.Unlock()
		return false
	}
	c.seen[id] = struct{}{}
	c.seenMu.Unlock()

	c.clock.AfterFunc(dedupRetention, func() {
		c.seenMu.Lock()
		delete(c.seen, id)
		c.seenMu.Unlock()
	})
	return true
}

func (c *Correlator) swapRole(guildID, roleID string, permissions int64) (int64, bool) {
	key := guildID + ":" + roleID
	c.roleMu.Lock()
	defer c.roleMu.Unlock()
	prior, known := c.rolePerms[key]
	c.rolePerms[key] = permissions
	return prior, known
}

func (c *Correlator) forgetRole(guildID, roleID string) {
	c.roleMu.Lock()
	delete(c.rolePerms, guildID+":"+roleID)
	c.roleMu.Unlock()
}
