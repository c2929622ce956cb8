package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the history tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE item_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_item_history_item ON item_history(item, created_at DESC);

		CREATE TABLE availability_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device TEXT NOT NULL,
			online INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_availability_history_device ON availability_history(device, created_at DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRecordItem(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	if err := store.RecordItem("av.projector.power", true, time.Now()); err != nil {
		t.Fatalf("RecordItem() error = %v", err)
	}
	if err := store.RecordItem("av.projector.power", false, time.Now()); err != nil {
		t.Fatalf("RecordItem() error = %v", err)
	}

	entries, err := store.ItemHistory(ctx, "av.projector.power", 10)
	if err != nil {
		t.Fatalf("ItemHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}

	// Newest first.
	if v, ok := entries[0].Value.(bool); !ok || v {
		t.Errorf("entries[0].Value = %v, want false", entries[0].Value)
	}
	if entries[0].Item != "av.projector.power" {
		t.Errorf("Item = %q, want av.projector.power", entries[0].Item)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want non-zero")
	}
}

func TestRecordItemValidation(t *testing.T) {
	store := NewStore(setupTestDB(t))

	if err := store.RecordItem("", 1, time.Now()); err == nil {
		t.Error("RecordItem() with empty item expected error")
	}
}

func TestItemHistoryRoundTripsTypes(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	values := []any{true, 21.5, "HDMI1", map[string]any{"lamp": float64(1234)}}
	for _, v := range values {
		if err := store.RecordItem("av.mixed", v, time.Now()); err != nil {
			t.Fatalf("RecordItem(%v) error = %v", v, err)
		}
	}

	entries, err := store.ItemHistory(ctx, "av.mixed", 10)
	if err != nil {
		t.Fatalf("ItemHistory() error = %v", err)
	}
	if len(entries) != len(values) {
		t.Fatalf("entries length = %d, want %d", len(entries), len(values))
	}

	// Newest first: the map comes back first.
	if m, ok := entries[0].Value.(map[string]any); !ok || m["lamp"] != float64(1234) {
		t.Errorf("entries[0].Value = %v, want map with lamp 1234", entries[0].Value)
	}
}

func TestItemHistoryLimit(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.RecordItem("av.counter", i, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordItem() error = %v", err)
		}
	}

	entries, err := store.ItemHistory(ctx, "av.counter", 3)
	if err != nil {
		t.Fatalf("ItemHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries length = %d, want 3", len(entries))
	}
	if v := entries[0].Value.(float64); v != 4 {
		t.Errorf("newest entry value = %v, want 4", v)
	}
}

func TestRecordAvailability(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	if err := store.RecordAvailability("beamer", true, time.Now()); err != nil {
		t.Fatalf("RecordAvailability() error = %v", err)
	}
	if err := store.RecordAvailability("beamer", false, time.Now()); err != nil {
		t.Fatalf("RecordAvailability() error = %v", err)
	}

	entries, err := store.AvailabilityHistory(ctx, "beamer", 10)
	if err != nil {
		t.Fatalf("AvailabilityHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	if entries[0].Online {
		t.Error("entries[0].Online = true, want false (newest first)")
	}
	if !entries[1].Online {
		t.Error("entries[1].Online = false, want true")
	}
}

func TestPrune(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	if err := store.RecordItem("av.old", 1, old); err != nil {
		t.Fatalf("RecordItem() error = %v", err)
	}
	if err := store.RecordItem("av.new", 2, recent); err != nil {
		t.Fatalf("RecordItem() error = %v", err)
	}
	if err := store.RecordAvailability("beamer", false, old); err != nil {
		t.Fatalf("RecordAvailability() error = %v", err)
	}

	deleted, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("Prune() deleted = %d, want 2", deleted)
	}

	entries, err := store.ItemHistory(ctx, "av.new", 10)
	if err != nil {
		t.Fatalf("ItemHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("av.new entries = %d, want 1 surviving", len(entries))
	}

	if _, err := store.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) expected error")
	}
}
