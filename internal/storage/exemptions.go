package storage

import (
	"context"
	"time"
)

type ExemptionEntry struct {
	GuildID   string
	TargetID  string
	IsRole    bool
	Category  string
	AddedBy   string
	CreatedAt time.Time
}

func (s *Store) AddExemption(ctx context.Context, entry ExemptionEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO exemptions (guild_id, target_id, is_role, category, added_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.GuildID, entry.TargetID, boolToInt(entry.IsRole), entry.Category, entry.AddedBy, time.Now().Unix())
	return err
}

func (s *Store) RemoveExemption(ctx context.Context, guildID, targetID string, isRole bool, category string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM exemptions
		WHERE guild_id = ? AND target_id = ? AND is_role = ? AND category = ?
	`, guildID, targetID, boolToInt(isRole), category)
	return err
}

func (s *Store) RemoveExemptionsFor(ctx context.Context, guildID, targetID string, isRole bool) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM exemptions
		WHERE guild_id = ? AND target_id = ? AND is_role = ?
	`, guildID, targetID, boolToInt(isRole))
	return err
}

func (s *Store) ListExemptions(ctx context.Context, guildID string) ([]ExemptionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, is_role, category, added_by, created_at
		FROM exemptions
		WHERE guild_id = ?
		ORDER BY target_id, category
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ExemptionEntry
	for rows.Next() {
		entry := ExemptionEntry{GuildID: guildID}
		var isRole int
		var created int64
		if err := rows.Scan(&entry.TargetID, &isRole, &entry.Category, &entry.AddedBy, &created); err != nil {
			return nil, err
		}
		entry.IsRole = isRole == 1
		entry.CreatedAt = time.Unix(created, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) ListExemptionsFor(ctx context.Context, guildID, targetID string) ([]ExemptionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, is_role, category, added_by, created_at
		FROM exemptions
		WHERE guild_id = ? AND target_id = ?
		ORDER BY category
	`, guildID, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ExemptionEntry
	for rows.Next() {
		entry := ExemptionEntry{GuildID: guildID}
		var isRole int
		var created int64
		if err := rows.Scan(&entry.TargetID, &isRole, &entry.Category, &entry.AddedBy, &created); err != nil {
			return nil, err
		}
		entry.IsRole = isRole == 1
		entry.CreatedAt = time.Unix(created, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteExemptions(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM exemptions WHERE guild_id = ?`, guildID)
	return err
}
