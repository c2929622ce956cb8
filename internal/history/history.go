package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// recordTimeout bounds a single insert so a wedged database cannot
	// stall the emit path.
	recordTimeout = 5 * time.Second
)

// Store reads and writes history rows. It satisfies gateway.Recorder.
type Store struct {
	db *sql.DB
}

// NewStore creates a history store on an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ItemEntry is one recorded item value.
type ItemEntry struct {
	ID        int64     `json:"id"`
	Item      string    `json:"item"`
	Value     any       `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// AvailabilityEntry is one recorded link transition.
type AvailabilityEntry struct {
	ID        int64     `json:"id"`
	Device    string    `json:"device"`
	Online    bool      `json:"online"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordItem appends an item value.
//
// Parameters:
//   - item: Item identifier
//   - value: Emitted value, stored as JSON
//   - ts: Emission timestamp
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) RecordItem(item string, value any, ts time.Time) error {
	if item == "" {
		return fmt.Errorf("item is required")
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO item_history (item, value, created_at) VALUES (?, ?, ?)",
		item,
		string(valueJSON),
		ts.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting item history: %w", err)
	}
	return nil
}

// RecordAvailability appends a link transition.
func (s *Store) RecordAvailability(device string, online bool, ts time.Time) error {
	if device == "" {
		return fmt.Errorf("device is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO availability_history (device, online, created_at) VALUES (?, ?, ?)",
		device,
		boolToInt(online),
		ts.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting availability history: %w", err)
	}
	return nil
}

// ItemHistory returns recent values for an item, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - item: Item identifier
//   - limit: Maximum entries (default 50, max 200)
func (s *Store) ItemHistory(ctx context.Context, item string, limit int) ([]ItemEntry, error) {
	if item == "" {
		return nil, fmt.Errorf("item is required")
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item, value, created_at
		 FROM item_history
		 WHERE item = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		item,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying item history: %w", err)
	}
	defer rows.Close()

	entries := make([]ItemEntry, 0, limit)
	for rows.Next() {
		var entry ItemEntry
		var valueJSON string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Item, &valueJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning item history: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}
		entry.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item history: %w", err)
	}
	return entries, nil
}

// AvailabilityHistory returns recent link transitions for a device, newest
// first.
func (s *Store) AvailabilityHistory(ctx context.Context, device string, limit int) ([]AvailabilityEntry, error) {
	if device == "" {
		return nil, fmt.Errorf("device is required")
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device, online, created_at
		 FROM availability_history
		 WHERE device = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		device,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying availability history: %w", err)
	}
	defer rows.Close()

	entries := make([]AvailabilityEntry, 0, limit)
	for rows.Next() {
		var entry AvailabilityEntry
		var online int
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Device, &online, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning availability history: %w", err)
		}
		entry.Online = online != 0
		entry.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating availability history: %w", err)
	}
	return entries, nil
}

// Prune deletes history rows older than the given duration from both
// tables.
//
// Returns:
//   - int64: Total number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)

	var total int64
	for _, table := range []string{"item_history", "availability_history"} {
		result, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", table), //nolint:gosec // Table names are fixed
			cutoff,
		)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts, nil
}
