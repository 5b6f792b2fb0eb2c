package enforcer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"warden/internal/audit"
	"warden/internal/confcache"
	"warden/internal/guard"
	"warden/internal/ratelimit"
	"warden/internal/storage"

	"go.uber.org/zap"
)

// revertLookback bounds how far back reversible actions are undone.
const revertLookback = 60 * time.Second

const moderatorID = "warden"

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Surface is the slice of the platform the enforcer acts against.
type Surface interface {
	BotID() string
	OwnerID(guildID string) (string, error)
	TopRolePosition(guildID, userID string) (int, error)
	Ban(guildID, userID, reason string) error
	Kick(guildID, userID, reason string) error
	Timeout(guildID, userID string, until time.Time, reason string) error
	DeleteChannel(guildID, channelID, reason string) error
	DeleteRole(guildID, roleID, reason string) error
	RolePermissions(guildID, roleID string) (int64, error)
	SetRolePermissions(guildID, roleID string, permissions int64, reason string) error
	MemberRoles(guildID, userID string) ([]string, error)
	RoleHasAdmin(guildID, roleID string) (bool, error)
	RemoveRole(guildID, userID, roleID, reason string) error
}

// Notice describes one applied punishment for the log sink.
type Notice struct {
	GuildID       string
	ActorID       string
	Action        guard.Action
	Count         int
	Limit         int
	Punishment    guard.Punishment
	CaseNumber    int64
	WindowResetAt time.Time
}

// ReversionSummary aggregates the independent reversion attempts of one
// breach into a single record.
type ReversionSummary struct {
	GuildID   string
	ActorID   string
	Action    guard.Action
	Attempted int
	Reverted  int
}

// Notifier pushes human-readable notices to the operator channel. One-way,
// no acknowledgement.
type Notifier interface {
	PunishmentApplied(ctx context.Context, notice Notice)
	ActionsReverted(ctx context.Context, summary ReversionSummary)
}

// Enforcer punishes an actor after a limit breach and reverts the actor's
// recent reversible actions. A per-(guild, actor) try-lock keeps overlapping
// breach reports from double-punishing or double-reverting.
type Enforcer struct {
	mu       sync.Mutex
	inflight map[string]struct{}

	cfg      *confcache.Cache
	limiter  *ratelimit.Limiter
	store    *storage.Store
	surface  Surface
	auditor  *audit.Logger
	notifier Notifier
	logger   *zap.Logger
	clock    Clock
}

func New(cfg *confcache.Cache, limiter *ratelimit.Limiter, store *storage.Store, surface Surface, auditor *audit.Logger, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		inflight: make(map[string]struct{}),
		cfg:      cfg,
		limiter:  limiter,
		store:    store,
		surface:  surface,
		auditor:  auditor,
		logger:   logger,
		clock:    realClock{},
	}
}

func (e *Enforcer) WithClock(clock Clock) {
	e.clock = clock
}

func (e *Enforcer) SetNotifier(notifier Notifier) {
	e.notifier = notifier
}

// Execute runs the punish, case, revert sequence for a breach. A second
// breach for the same actor while one is in flight is dropped.
func (e *Enforcer) Execute(ctx context.Context, event guard.SecurityEvent, result ratelimit.Result) {
	if !e.acquire(event.GuildID, event.ActorID) {
		e.logger.Debug("enforcement already in flight",
			zap.String("guild_id", event.GuildID),
			zap.String("actor_id", event.ActorID))
		return
	}
	defer e.release(event.GuildID, event.ActorID)

	if !e.validate(ctx, event) {
		return
	}

	punishment, duration := e.resolvePunishment(ctx, event)
	if !e.punish(ctx, event, punishment, duration) {
		return
	}

	caseNumber := e.recordCase(ctx, event, result, punishment)
	if e.notifier != nil {
		e.notifier.PunishmentApplied(ctx, Notice{
			GuildID:       event.GuildID,
			ActorID:       event.ActorID,
			Action:        event.Action,
			Count:         result.Count,
			Limit:         result.Limit,
			Punishment:    punishment,
			CaseNumber:    caseNumber,
			WindowResetAt: result.WindowResetAt,
		})
	}

	e.revert(ctx, event)
}

func (e *Enforcer) validate(ctx context.Context, event guard.SecurityEvent) bool {
	if event.ActorID == e.surface.BotID() {
		e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "enforcement_aborted", "actor is the bot account")
		return false
	}
	owner, err := e.surface.OwnerID(event.GuildID)
	if err != nil {
		e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "enforcement_aborted", "owner lookup failed: "+err.Error())
		return false
	}
	if event.ActorID == owner {
		e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "enforcement_aborted", "actor is the guild owner")
		return false
	}

	actorTop, err := e.surface.TopRolePosition(event.GuildID, event.ActorID)
	if err != nil {
		e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "enforcement_aborted", "actor rank lookup failed: "+err.Error())
		return false
	}
	botTop, err := e.surface.TopRolePosition(event.GuildID, e.surface.BotID())
	if err != nil {
		e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "enforcement_aborted", "bot rank lookup failed: "+err.Error())
		return false
	}
	if actorTop >= botTop {
		e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "enforcement_aborted",
			fmt.Sprintf("hierarchy: actor rank %d not below bot rank %d", actorTop, botTop))
		return false
	}
	return true
}

func (e *Enforcer) resolvePunishment(ctx context.Context, event guard.SecurityEvent) (guard.Punishment, time.Duration) {
	configured, ok := e.cfg.GetPunishment(ctx, event.GuildID, event.Action)
	if !ok {
		e.auditor.Log(ctx, audit.LevelInfo, event.GuildID, event.ActorID, "punishment_default",
			"no punishment configured for "+string(event.Action)+", defaulting to ban")
		return guard.DefaultPunishment, 0
	}
	kind, valid := guard.ParsePunishment(configured.Kind)
	if !valid {
		e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "punishment_default",
			"unknown punishment kind "+configured.Kind+", defaulting to ban")
		return guard.DefaultPunishment, 0
	}
	return kind, time.Duration(configured.DurationMS) * time.Millisecond
}

func (e *Enforcer) punish(ctx context.Context, event guard.SecurityEvent, punishment guard.Punishment, duration time.Duration) bool {
	reason := fmt.Sprintf("warden: %s limit exceeded", event.Action)

	var err error
	switch punishment {
	case guard.PunishKick:
		err = e.surface.Kick(event.GuildID, event.ActorID, reason)
	case guard.PunishTimeout:
		if duration <= 0 {
			duration = 10 * time.Minute
		}
		err = e.surface.Timeout(event.GuildID, event.ActorID, e.clock.Now().Add(duration), reason)
	default:
		err = e.surface.Ban(event.GuildID, event.ActorID, reason)
	}
	if err != nil {
		// No actionable outcome; skip case creation and reversion.
		e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "punishment_failed",
			fmt.Sprintf("%s failed: %v", punishment, err))
		return false
	}
	return true
}

func (e *Enforcer) recordCase(ctx context.Context, event guard.SecurityEvent, result ratelimit.Result, punishment guard.Punishment) int64 {
	reason := fmt.Sprintf("protected action %s performed %d times, limit %d", event.Action, result.Count, result.Limit)
	metadata := fmt.Sprintf("action=%s count=%d limit=%d audit_entry=%s", event.Action, result.Count, result.Limit, event.AuditEntryID)

	number, err := e.store.CreateCase(ctx, storage.ModerationCase{
		GuildID:     event.GuildID,
		TargetID:    event.ActorID,
		ModeratorID: moderatorID,
		Punishment:  string(punishment),
		Reason:      reason,
		Metadata:    metadata,
		CreatedAt:   e.clock.Now(),
	})
	if err != nil {
		e.logger.Warn("case write failed", zap.String("guild_id", event.GuildID), zap.Error(err))
		return 0
	}
	e.auditor.Log(ctx, audit.LevelCrit, event.GuildID, event.ActorID, "punishment_applied",
		fmt.Sprintf("case=%d punishment=%s %s", number, punishment, reason))
	return number
}

// revert walks the actor's durable history for the triggering action and
// undoes each record independently; one failure does not stop the rest.
func (e *Enforcer) revert(ctx context.Context, event guard.SecurityEvent) {
	records, err := e.limiter.ActionsByActor(ctx, event.GuildID, event.ActorID, event.Action, revertLookback)
	if err != nil {
		e.logger.Warn("reversion history lookup failed", zap.String("guild_id", event.GuildID), zap.Error(err))
		return
	}

	summary := ReversionSummary{GuildID: event.GuildID, ActorID: event.ActorID, Action: event.Action}
	var reverted []string
	for _, record := range records {
		undone, err := e.revertRecord(event.GuildID, event.ActorID, record)
		if err != nil {
			summary.Attempted++
			e.logger.Warn("reversion attempt failed",
				zap.String("guild_id", event.GuildID),
				zap.String("action", record.Action),
				zap.String("target_id", record.TargetID),
				zap.Error(err))
			continue
		}
		if !undone {
			continue
		}
		summary.Attempted++
		summary.Reverted++
		reverted = append(reverted, record.TargetID)
	}
	if summary.Attempted == 0 {
		return
	}

	e.auditor.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, "actions_reverted",
		fmt.Sprintf("action=%s reverted=%d/%d targets=%s", event.Action, summary.Reverted, summary.Attempted, strings.Join(reverted, ",")))
	if e.notifier != nil {
		e.notifier.ActionsReverted(ctx, summary)
	}
}

// revertRecord undoes one record. The bool reports whether the record's
// action type is reversible at all; irreversible records return false with no
// error and stay out of the reversion accounting.
func (e *Enforcer) revertRecord(guildID, actorID string, record storage.ActionRecord) (bool, error) {
	reason := "warden: reverting " + record.Action
	switch guard.Action(record.Action) {
	case guard.ActionCreateChannel:
		return true, e.surface.DeleteChannel(guildID, record.TargetID, reason)
	case guard.ActionCreateRole:
		return true, e.surface.DeleteRole(guildID, record.TargetID, reason)
	case guard.ActionAddBot:
		return true, e.surface.Ban(guildID, record.TargetID, reason)
	case guard.ActionGrantDangerousPermission:
		permissions, err := e.surface.RolePermissions(guildID, record.TargetID)
		if err != nil {
			return true, err
		}
		return true, e.surface.SetRolePermissions(guildID, record.TargetID, permissions&^guard.RevertStrip, reason)
	case guard.ActionGrantAdminRole:
		// Countered on the actor: any role they hold that carries
		// administrator is removed.
		return true, e.removeAdminRoles(guildID, actorID, reason)
	default:
		// Bans, kicks, deletions, and prunes have no safe automatic undo.
		return false, nil
	}
}

func (e *Enforcer) removeAdminRoles(guildID, actorID, reason string) error {
	roleIDs, err := e.surface.MemberRoles(guildID, actorID)
	if err != nil {
		return err
	}
	var lastErr error
	for _, roleID := range roleIDs {
		isAdmin, err := e.surface.RoleHasAdmin(guildID, roleID)
		if err != nil {
			lastErr = err
			continue
		}
		if !isAdmin {
			continue
		}
		if err := e.surface.RemoveRole(guildID, actorID, roleID, reason); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *Enforcer) acquire(guildID, actorID string) bool {
	key := guildID + ":" + actorID
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.inflight[key]; held {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Enforcer) release(guildID, actorID string) {
	key := guildID + ":" + actorID
	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
}
