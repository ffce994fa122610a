package store

import (
	"context"
	"fmt"
	"time"
)

// schema is shared by Postgres and SQLite, so it sticks to the common subset:
// TEXT ids, BIGINT unix-millisecond timestamps, partial unique indexes.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		tag_id     TEXT UNIQUE,
		status     TEXT NOT NULL DEFAULT 'active'
		           CHECK (status IN ('active', 'inactive', 'expired-pending-renewal')),
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS walk_ins (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		tag_id     TEXT,
		day        TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (tag_id, day)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id         TEXT PRIMARY KEY,
		member_id  TEXT REFERENCES members(id),
		walkin_id  TEXT REFERENCES walk_ins(id),
		day        TEXT NOT NULL,
		time_in    BIGINT NOT NULL,
		time_out   BIGINT,
		status     TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		CHECK ((member_id IS NULL) <> (walkin_id IS NULL)),
		CHECK ((time_out IS NULL AND status = 'Present') OR (time_out IS NOT NULL AND status = 'Completed'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_attendance_member_open
		ON attendance (member_id, day) WHERE time_out IS NULL AND member_id IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_attendance_walkin_open
		ON attendance (walkin_id, day) WHERE time_out IS NULL AND walkin_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance (day)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_time_in ON attendance (time_in)`,
	`CREATE INDEX IF NOT EXISTS idx_walk_ins_day ON walk_ins (day)`,
	`CREATE TABLE IF NOT EXISTS capacity_config (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		max_occupancy INTEGER NOT NULL CHECK (max_occupancy > 0),
		updated_at    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id            TEXT PRIMARY KEY,
		action        TEXT NOT NULL,
		identity_kind TEXT NOT NULL,
		identity_id   TEXT NOT NULL,
		name          TEXT NOT NULL,
		detail        TEXT NOT NULL,
		occurred_at   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_occurred_at ON audit_log (occurred_at)`,
}

// Migrate creates the schema and seeds the capacity row with defaultCapacity
// when it does not exist yet.
func (d *DB) Migrate(ctx context.Context, defaultCapacity int) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if defaultCapacity <= 0 {
		return fmt.Errorf("migrate: default capacity must be positive, got %d", defaultCapacity)
	}
	_, err := d.Client.ExecContext(ctx, d.rebind(`
		INSERT INTO capacity_config (id, max_occupancy, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), defaultCapacity, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("seed capacity: %w", err)
	}
	return nil
}
