package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gymdesk/internal/model"
	"gymdesk/internal/storage"
)

var _ storage.Ledger = (*DB)(nil)

const recordColumns = `a.id, a.member_id, a.walkin_id, a.day, a.time_in, a.time_out, a.status, a.created_at`

// WithinDay runs fn inside one transaction. On Postgres a transaction-scoped
// advisory lock on (ref, day) serialises concurrent units across replicas;
// SQLite runs on a single connection so transactions never overlap.
func (d *DB) WithinDay(ctx context.Context, ref model.IdentityRef, day string, fn func(storage.LedgerTx) error) error {
	tx, err := d.Client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if d.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ref.Key()+"@"+day); err != nil {
			return fmt.Errorf("lock %s@%s: %w", ref.Key(), day, err)
		}
	}

	if err := fn(&ledgerTx{tx: tx, db: d}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx *sql.Tx
	db *DB
}

func identityColumn(kind model.Kind) (string, error) {
	switch kind {
	case model.KindMember:
		return "member_id", nil
	case model.KindWalkIn:
		return "walkin_id", nil
	default:
		return "", fmt.Errorf("unknown identity kind %q", kind)
	}
}

// LatestRecord returns the newest record of ref on day.
func (t *ledgerTx) LatestRecord(ctx context.Context, ref model.IdentityRef, day string) (*model.Record, error) {
	col, err := identityColumn(ref.Kind)
	if err != nil {
		return nil, err
	}
	row := t.tx.QueryRowContext(ctx, t.db.rebind(`
		SELECT `+recordColumns+`
		FROM attendance a
		WHERE a.`+col+` = ? AND a.day = ?
		ORDER BY a.created_at DESC, a.time_in DESC
		LIMIT 1
	`), ref.ID, day)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest record: %w", err)
	}
	return &rec, nil
}

// InsertRecord writes an open record.
func (t *ledgerTx) InsertRecord(ctx context.Context, rec *model.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.TimeIn
	}
	rec.TimeOut = nil
	rec.Status = model.StatusPresent
	_, err := t.tx.ExecContext(ctx, t.db.rebind(`
		INSERT INTO attendance (id, member_id, walkin_id, day, time_in, time_out, status, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
	`), rec.ID, nullString(rec.MemberID), nullString(rec.WalkInID), rec.Day,
		toMillis(rec.TimeIn), string(rec.Status), toMillis(rec.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("insert record: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// CloseRecord sets time_out and status in one statement so neither is ever
// visible without the other.
func (t *ledgerTx) CloseRecord(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, t.db.rebind(`
		UPDATE attendance
		SET time_out = ?, status = ?
		WHERE id = ? AND time_out IS NULL
	`), toMillis(at), string(model.StatusCompleted), id)
	if err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("close record %s: not open", id)
	}
	return nil
}

// CountOpen counts Present records on day.
func (d *DB) CountOpen(ctx context.Context, day string) (int, error) {
	var n int
	err := d.Client.QueryRowContext(ctx, d.rebind(`
		SELECT COUNT(*) FROM attendance WHERE day = ? AND time_out IS NULL
	`), day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open records: %w", err)
	}
	return n, nil
}

// Entries returns records joined with member or walk-in display fields.
func (d *DB) Entries(ctx context.Context, q storage.EntryQuery) ([]model.Entry, error) {
	query := `
		SELECT ` + recordColumns + `,
			COALESCE(m.name, w.name, ''),
			COALESCE(m.tag_id, w.tag_id, '')
		FROM attendance a
		LEFT JOIN members m ON a.member_id = m.id
		LEFT JOIN walk_ins w ON a.walkin_id = w.id`
	args := []any{}
	clauses := []string{}
	if q.From != "" {
		clauses = append(clauses, "a.day >= ?")
		args = append(args, q.From)
	}
	if q.To != "" {
		clauses = append(clauses, "a.day <= ?")
		args = append(args, q.To)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.time_in DESC, a.id DESC"
	if q.Limit > 0 {
		offset := q.Offset
		if offset < 0 {
			offset = 0
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, offset)
	}

	rows, err := d.Client.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var res []model.Entry
	for rows.Next() {
		var e model.Entry
		rec, err := scanRecord(rows, &e.Name, &e.TagID)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Record = rec
		e.Kind = rec.Ref().Kind
		res = append(res, e)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, extra ...any) (model.Record, error) {
	var (
		rec      model.Record
		memberID sql.NullString
		walkInID sql.NullString
		timeIn   int64
		timeOut  sql.NullInt64
		status   string
		created  int64
	)
	dest := append([]any{&rec.ID, &memberID, &walkInID, &rec.Day, &timeIn, &timeOut, &status, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Record{}, err
	}
	rec.MemberID = stringPtr(memberID)
	rec.WalkInID = stringPtr(walkInID)
	rec.TimeIn = fromMillis(timeIn)
	if timeOut.Valid {
		out := fromMillis(timeOut.Int64)
		rec.TimeOut = &out
	}
	rec.Status = model.RecordStatus(status)
	rec.CreatedAt = fromMillis(created)
	return rec, nil
}
