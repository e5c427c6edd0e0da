package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore persists records in the learned_commands table.
type SQLStore struct {
	DB *sql.DB
}

func (s *SQLStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT command, occurrences, first_seen, last_seen, successes, failures FROM learned_commands`)
	if err != nil {
		return nil, fmt.Errorf("load learned commands: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var first, last time.Time
		if err := rows.Scan(&rec.Command, &rec.Occurrences, &first, &last, &rec.Successes, &rec.Failures); err != nil {
			return nil, err
		}
		rec.FirstSeen = first.UTC()
		rec.LastSeen = last.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Upsert(ctx context.Context, rec Record) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO learned_commands (command, occurrences, first_seen, last_seen, successes, failures, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (command) DO UPDATE SET occurrences=EXCLUDED.occurrences, last_seen=EXCLUDED.last_seen,
			successes=EXCLUDED.successes, failures=EXCLUDED.failures, updated_at=NOW()`,
		rec.Command, rec.Occurrences, rec.FirstSeen.UTC(), rec.LastSeen.UTC(), rec.Successes, rec.Failures)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, command string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM learned_commands WHERE command=$1`, command)
	return err
}
