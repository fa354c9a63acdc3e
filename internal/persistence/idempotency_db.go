package persistence

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresIdempotencyChecker is the tier 2 dedup lookup against the event log
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db: db,
	}
}

// IsDuplicate checks if the instruction is already in the event log. The
// caller bounds ctx.
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, instructionType string, idempotencyKey string) (bool, error) {
	query := `
        SELECT 1
        FROM event_log.events
        WHERE instruction_type = $1 AND idempotency_key = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, instructionType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKey is one committed (instruction type, idempotency key) pair
type RecentKey struct {
	InstructionType string
	IdempotencyKey  string
}

// RecentKeys returns the last limit committed keys, oldest first, for LRU warming.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]RecentKey, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT instruction_type, idempotency_key FROM (
			SELECT sequence, instruction_type, idempotency_key
			FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]RecentKey, 0, limit)
	for rows.Next() {
		var k RecentKey
		if err := rows.Scan(&k.InstructionType, &k.IdempotencyKey); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
