package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gymdesk/internal/model"
	"gymdesk/internal/storage"
)

var _ storage.AuditLog = (*DB)(nil)

// AppendAudit writes one activity-log line.
func (d *DB) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := d.Client.ExecContext(ctx, d.rebind(`
		INSERT INTO audit_log (id, action, identity_kind, identity_id, name, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.Action, string(e.IdentityKind), e.IdentityID, e.Name, e.Detail, toMillis(e.OccurredAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("append audit: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns the newest entries first.
func (d *DB) ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Client.QueryContext(ctx, d.rebind(`
		SELECT id, action, identity_kind, identity_id, name, detail, occurred_at
		FROM audit_log
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var res []model.AuditEntry
	for rows.Next() {
		var (
			e    model.AuditEntry
			kind string
			at   int64
		)
		if err := rows.Scan(&e.ID, &e.Action, &kind, &e.IdentityID, &e.Name, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.IdentityKind = model.Kind(kind)
		e.OccurredAt = fromMillis(at)
		res = append(res, e)
	}
	return res, rows.Err()
}
