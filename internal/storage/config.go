package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type GuardConfig struct {
	GuildID     string
	Enabled     bool
	Protections []string
	LogChannel  string
}

type ActionLimit struct {
	GuildID  string
	Action   string
	MaxCount int
	WindowMS int64
}

type ActionPunishment struct {
	GuildID    string
	Action     string
	Kind       string
	DurationMS int64
}

func (s *Store) GetGuardConfig(ctx context.Context, guildID string) (GuardConfig, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT enabled, protections, log_channel
		FROM guard_config WHERE guild_id = ?`, guildID)

	var enabled int
	var protections, logChannel string
	if err := row.Scan(&enabled, &protections, &logChannel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GuardConfig{}, false, nil
		}
		return GuardConfig{}, false, err
	}
	return GuardConfig{
		GuildID:     guildID,
		Enabled:     enabled == 1,
		Protections: splitProtections(protections),
		LogChannel:  logChannel,
	}, true, nil
}

func (s *Store) UpsertGuardConfig(ctx context.Context, cfg GuardConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guard_config (guild_id, enabled, protections, log_channel, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			protections = excluded.protections,
			log_channel = excluded.log_channel,
			updated_at = excluded.updated_at
	`, cfg.GuildID, boolToInt(cfg.Enabled), strings.Join(cfg.Protections, ","), cfg.LogChannel, time.Now().Unix())
	return err
}

func (s *Store) DeleteGuardConfig(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guard_config WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) SetActionLimit(ctx context.Context, limit ActionLimit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_limits (guild_id, action, max_count, window_ms, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, action) DO UPDATE SET
			max_count = excluded.max_count,
			window_ms = excluded.window_ms,
			updated_at = excluded.updated_at
	`, limit.GuildID, limit.Action, limit.MaxCount, limit.WindowMS, time.Now().Unix())
	return err
}

func (s *Store) GetActionLimit(ctx context.Context, guildID, action string) (ActionLimit, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT max_count, window_ms FROM action_limits
		WHERE guild_id = ? AND action = ?`, guildID, action)

	limit := ActionLimit{GuildID: guildID, Action: action}
	if err := row.Scan(&limit.MaxCount, &limit.WindowMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ActionLimit{}, false, nil
		}
		return ActionLimit{}, false, err
	}
	return limit, true, nil
}

func (s *Store) ListActionLimits(ctx context.Context, guildID string) ([]ActionLimit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, max_count, window_ms FROM action_limits
		WHERE guild_id = ? ORDER BY action`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var limits []ActionLimit
	for rows.Next() {
		limit := ActionLimit{GuildID: guildID}
		if err := rows.Scan(&limit.Action, &limit.MaxCount, &limit.WindowMS); err != nil {
			return nil, err
		}
		limits = append(limits, limit)
	}
	return limits, rows.Err()
}

func (s *Store) DeleteActionLimits(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM action_limits WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) SetActionPunishment(ctx context.Context, punishment ActionPunishment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_punishments (guild_id, action, kind, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, action) DO UPDATE SET
			kind = excluded.kind,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at
	`, punishment.GuildID, punishment.Action, punishment.Kind, punishment.DurationMS, time.Now().Unix())
	return err
}

func (s *Store) GetActionPunishment(ctx context.Context, guildID, action string) (ActionPunishment, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT kind, duration_ms FROM action_punishments
		WHERE guild_id = ? AND action = ?`, guildID, action)

	punishment := ActionPunishment{GuildID: guildID, Action: action}
	if err := row.Scan(&punishment.Kind, &punishment.DurationMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ActionPunishment{}, false, nil
		}
		return ActionPunishment{}, false, err
	}
	return punishment, true, nil
}

func (s *Store) ListActionPunishments(ctx context.Context, guildID string) ([]ActionPunishment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, kind, duration_ms FROM action_punishments
		WHERE guild_id = ? ORDER BY action`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var punishments []ActionPunishment
	for rows.Next() {
		punishment := ActionPunishment{GuildID: guildID}
		if err := rows.Scan(&punishment.Action, &punishment.Kind, &punishment.DurationMS); err != nil {
			return nil, err
		}
		punishments = append(punishments, punishment)
	}
	return punishments, rows.Err()
}

func (s *Store) DeleteActionPunishments(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM action_punishments WHERE guild_id = ?`, guildID)
	return err
}

func splitProtections(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
