package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gymdesk/internal/model"
	"gymdesk/internal/storage"
)

var _ storage.Registry = (*DB)(nil)

// MemberByTag returns the member holding tag, or nil when none does.
func (d *DB) MemberByTag(ctx context.Context, tag string) (*model.Member, error) {
	row := d.Client.QueryRowContext(ctx, d.rebind(`
		SELECT id, name, tag_id, status, created_at
		FROM members WHERE tag_id = ?
	`), tag)
	var (
		m       model.Member
		tagID   sql.NullString
		status  string
		created int64
	)
	if err := row.Scan(&m.ID, &m.Name, &tagID, &status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get member by tag: %w", err)
	}
	m.TagID = stringPtr(tagID)
	m.Status = model.MemberStatus(status)
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

// WalkInByTag returns the walk-in registered with tag on day, or nil.
func (d *DB) WalkInByTag(ctx context.Context, tag, day string) (*model.WalkIn, error) {
	row := d.Client.QueryRowContext(ctx, d.rebind(`
		SELECT id, name, tag_id, day, created_at
		FROM walk_ins WHERE tag_id = ? AND day = ?
	`), tag, day)
	var (
		w       model.WalkIn
		tagID   sql.NullString
		created int64
	)
	if err := row.Scan(&w.ID, &w.Name, &tagID, &w.Day, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get walk-in by tag: %w", err)
	}
	w.TagID = stringPtr(tagID)
	w.CreatedAt = fromMillis(created)
	return &w, nil
}

// CreateWalkIn inserts a walk-in for its day.
func (d *DB) CreateWalkIn(ctx context.Context, w *model.WalkIn) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := d.Client.ExecContext(ctx, d.rebind(`
		INSERT INTO walk_ins (id, name, tag_id, day, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), w.ID, w.Name, nullString(w.TagID), w.Day, toMillis(w.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("create walk-in: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create walk-in: %w", err)
	}
	return nil
}

// UpsertMember creates or updates a member by id.
func (d *DB) UpsertMember(ctx context.Context, m *model.Member) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = model.MemberActive
	}
	_, err := d.Client.ExecContext(ctx, d.rebind(`
		INSERT INTO members (id, name, tag_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			tag_id = excluded.tag_id,
			status = excluded.status
	`), m.ID, m.Name, nullString(m.TagID), string(m.Status), toMillis(m.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("upsert member: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}
