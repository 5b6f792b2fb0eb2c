package bot

import (
	"context"
	"time"

	"warden/internal/analytics"
	"warden/internal/guard"
	"warden/internal/storage"
)

// Operator-facing surface. Callers (configuration commands, dashboards) sit
// outside this module; they get plain methods, no command parsing here.

// EnableGuard turns the guard on for the given actions (all of them when
// empty). When windowSeconds is positive, actions without a limit get the
// configured default count over that window.
func (b *Bot) EnableGuard(ctx context.Context, guildID string, actions []guard.Action, windowSeconds int) error {
	if err := b.confs.Enable(ctx, guildID, actions); err != nil {
		return err
	}
	if windowSeconds <= 0 {
		return nil
	}
	window := time.Duration(windowSeconds) * time.Second
	enabled := actions
	if len(enabled) == 0 {
		enabled = guard.AllActions()
	}
	for _, action := range enabled {
		if _, ok := b.confs.GetLimit(ctx, guildID, action); ok {
			continue
		}
		if err := b.confs.SetLimit(ctx, guildID, action, b.cfg.Guard.DefaultLimitCount, window); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) DisableGuard(ctx context.Context, guildID string) error {
	return b.confs.Disable(ctx, guildID)
}

func (b *Bot) SetLimit(ctx context.Context, guildID string, action guard.Action, maxCount int, window time.Duration) error {
	return b.confs.SetLimit(ctx, guildID, action, maxCount, window)
}

func (b *Bot) SetPunishment(ctx context.Context, guildID string, action guard.Action, kind guard.Punishment, duration time.Duration) error {
	return b.confs.SetPunishment(ctx, guildID, action, kind, duration)
}

func (b *Bot) SetLogChannel(ctx context.Context, guildID, channelID string) error {
	return b.confs.SetLogChannel(ctx, guildID, channelID)
}

func (b *Bot) AddExemption(ctx context.Context, guildID, targetID string, isRole bool, categories []string, addedBy string) error {
	return b.exemptions.AddPrincipal(ctx, guildID, targetID, isRole, categories, addedBy)
}

func (b *Bot) RemoveExemption(ctx context.Context, guildID, targetID string, isRole bool, categories []string) error {
	return b.exemptions.RemovePrincipal(ctx, guildID, targetID, isRole, categories)
}

func (b *Bot) ListExemptions(ctx context.Context, guildID, category string) ([]storage.ExemptionEntry, error) {
	return b.exemptions.ListAll(ctx, guildID, category)
}

// ResetGuild wipes configuration, limits, punishments, exemptions, in-memory
// windows, and durable history for the guild.
func (b *Bot) ResetGuild(ctx context.Context, guildID string) error {
	if err := b.confs.ResetGuild(ctx, guildID); err != nil {
		return err
	}
	if err := b.exemptions.Reset(ctx, guildID); err != nil {
		return err
	}
	return b.limiter.ClearGuild(ctx, guildID)
}

type Status struct {
	Enabled     bool
	Protections []string
	LogChannel  string
	Limits      []storage.ActionLimit
	Punishments []storage.ActionPunishment
	Exemptions  []storage.ExemptionEntry
	Recent      []storage.ActionRecord
	Report      analytics.Report
}

// Status aggregates the guild's configuration and recent activity.
func (b *Bot) Status(ctx context.Context, guildID string) (Status, error) {
	cfg, present, err := b.confs.GetConfiguration(ctx, guildID)
	if err != nil {
		return Status{}, err
	}

	status := Status{}
	if present {
		status.Enabled = cfg.Enabled
		status.Protections = cfg.Protections
		status.LogChannel = cfg.LogChannel
	}
	if status.Limits, err = b.confs.ListLimits(ctx, guildID); err != nil {
		return Status{}, err
	}
	if status.Punishments, err = b.confs.ListPunishments(ctx, guildID); err != nil {
		return Status{}, err
	}
	if status.Exemptions, err = b.exemptions.ListAll(ctx, guildID, ""); err != nil {
		return Status{}, err
	}
	if status.Recent, err = b.limiter.RecentActions(ctx, guildID, 10); err != nil {
		return Status{}, err
	}
	if status.Report, err = b.analytics.Report(ctx, guildID, time.Now().Add(-24*time.Hour)); err != nil {
		return Status{}, err
	}
	return status, nil
}
