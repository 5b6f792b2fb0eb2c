package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type ModerationCase struct {
	GuildID     string
	CaseNumber  int64
	TargetID    string
	ModeratorID string
	Punishment  string
	Reason      string
	Metadata    string
	CreatedAt   time.Time
}

// CreateCase assigns the next sequential case number for the guild and
// persists the case in one transaction.
func (s *Store) CreateCase(ctx context.Context, c ModerationCase) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var last int64
	row := tx.QueryRowContext(ctx, `
		SELECT case_number FROM moderation_cases
		WHERE guild_id = ? ORDER BY case_number DESC LIMIT 1
	`, c.GuildID)
	scanErr := row.Scan(&last)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return 0, err
	}

	number := last + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO moderation_cases (guild_id, case_number, target_id, moderator_id, punishment, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.GuildID, number, c.TargetID, c.ModeratorID, c.Punishment, c.Reason, c.Metadata, c.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return number, nil
}

func (s *Store) ListCases(ctx context.Context, guildID string, limit int) ([]ModerationCase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_number, target_id, moderator_id, punishment, reason, metadata, created_at
		FROM moderation_cases
		WHERE guild_id = ?
		ORDER BY case_number DESC
		LIMIT ?
	`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []ModerationCase
	for rows.Next() {
		c := ModerationCase{GuildID: guildID}
		var created int64
		if err := rows.Scan(&c.CaseNumber, &c.TargetID, &c.ModeratorID, &c.Punishment, &c.Reason, &c.Metadata, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created, 0)
		cases = append(cases, c)
	}
	return cases, rows.Err()
}
