package store

import (
	"context"
	"fmt"
	"time"
)

// MarkSeen records key in the dedupe ledger. It reports true when the key
// was new, false when it had already been recorded.
func (s *Store) MarkSeen(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen_messages (dedup_key, seen_at) VALUES (?, ?)",
		key, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark message seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// PruneSeen drops ledger entries older than olderThan and returns how many
// were removed. The poll window is short, so old keys can never recur.
func (s *Store) PruneSeen(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, "DELETE FROM seen_messages WHERE seen_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune seen messages: %w", err)
	}
	return res.RowsAffected()
}
