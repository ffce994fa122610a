package store

import (
	"context"
	"fmt"
	"time"

	"gymdesk/internal/storage"
)

var _ storage.Settings = (*DB)(nil)

// MaxCapacity reads the configured maximum occupancy.
func (d *DB) MaxCapacity(ctx context.Context) (int, error) {
	var max int
	if err := d.Client.QueryRowContext(ctx, `SELECT max_occupancy FROM capacity_config WHERE id = 1`).Scan(&max); err != nil {
		return 0, fmt.Errorf("get max capacity: %w", err)
	}
	return max, nil
}

// SetMaxCapacity stores a new maximum occupancy.
func (d *DB) SetMaxCapacity(ctx context.Context, max int) error {
	_, err := d.Client.ExecContext(ctx, d.rebind(`
		INSERT INTO capacity_config (id, max_occupancy, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			max_occupancy = excluded.max_occupancy,
			updated_at = excluded.updated_at
	`), max, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("set max capacity: %w", err)
	}
	return nil
}
