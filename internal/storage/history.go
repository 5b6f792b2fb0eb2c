package storage

import (
	"context"
	"time"
)

type ActionRecord struct {
	ID           string
	GuildID      string
	ActorID      string
	Action       string
	TargetID     string
	AuditEntryID string
	Metadata     string
	CreatedAt    time.Time
}

func (s *Store) AppendAction(ctx context.Context, record ActionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO action_history (id, guild_id, actor_id, action, target_id, audit_entry_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.GuildID, record.ActorID, record.Action, record.TargetID, record.AuditEntryID, record.Metadata, record.CreatedAt.UnixMilli())
	return err
}

func (s *Store) CountActions(ctx context.Context, guildID, actorID, action string, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM action_history
		WHERE guild_id = ? AND actor_id = ? AND action = ? AND created_at >= ?
	`, guildID, actorID, action, since.UnixMilli())

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ActionsByActor(ctx context.Context, guildID, actorID, action string, since time.Time) ([]ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, target_id, audit_entry_id, metadata, created_at
		FROM action_history
		WHERE guild_id = ? AND actor_id = ? AND action = ? AND created_at >= ?
		ORDER BY created_at ASC
	`, guildID, actorID, action, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActionRecords(rows, guildID)
}

func (s *Store) RecentActions(ctx context.Context, guildID string, limit int) ([]ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, target_id, audit_entry_id, metadata, created_at
		FROM action_history
		WHERE guild_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActionRecords(rows, guildID)
}

func (s *Store) PurgeActionsBefore(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM action_history WHERE created_at < ?`, cutoff.UnixMilli())
	return err
}

func (s *Store) DeleteActionHistory(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM action_history WHERE guild_id = ?`, guildID)
	return err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanActionRecords(rows rowScanner, guildID string) ([]ActionRecord, error) {
	var records []ActionRecord
	for rows.Next() {
		record := ActionRecord{GuildID: guildID}
		var created int64
		if err := rows.Scan(&record.ID, &record.ActorID, &record.Action, &record.TargetID, &record.AuditEntryID, &record.Metadata, &created); err != nil {
			return nil, err
		}
		record.CreatedAt = time.UnixMilli(created)
		records = append(records, record)
	}
	return records, rows.Err()
}
