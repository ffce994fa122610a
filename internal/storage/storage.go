// Package storage defines the persistence contracts used by the attendance core.
package storage

import (
	"context"
	"errors"
	"time"

	"gymdesk/internal/model"
)

// ErrDuplicate is returned when a write hits a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate key")

// Registry stores members and walk-ins.
type Registry interface {
	// MemberByTag returns nil, nil when no member holds tag.
	MemberByTag(ctx context.Context, tag string) (*model.Member, error)

	// WalkInByTag returns nil, nil when no walk-in on day holds tag.
	WalkInByTag(ctx context.Context, tag, day string) (*model.WalkIn, error)

	// CreateWalkIn inserts w; ID and CreatedAt are filled when empty.
	CreateWalkIn(ctx context.Context, w *model.WalkIn) error

	// UpsertMember creates or replaces a member by ID.
	UpsertMember(ctx context.Context, m *model.Member) error
}

// LedgerTx is the view of the ledger inside one atomic unit.
type LedgerTx interface {
	// LatestRecord returns nil, nil when ref has no record on day.
	LatestRecord(ctx context.Context, ref model.IdentityRef, day string) (*model.Record, error)

	// InsertRecord writes a new open record.
	InsertRecord(ctx context.Context, rec *model.Record) error

	// CloseRecord sets time_out and status Completed in a single statement.
	CloseRecord(ctx context.Context, id string, at time.Time) error
}

// EntryQuery filters ledger entries. Empty From or To leaves that side open.
type EntryQuery struct {
	From   string
	To     string
	Limit  int
	Offset int
}

// Ledger stores attendance records.
type Ledger interface {
	// WithinDay runs fn as one atomic unit for (ref, day). Concurrent calls
	// for the same pair never interleave.
	WithinDay(ctx context.Context, ref model.IdentityRef, day string, fn func(LedgerTx) error) error

	// CountOpen counts Present records on day.
	CountOpen(ctx context.Context, day string) (int, error)

	// Entries returns joined records, newest time-in first.
	Entries(ctx context.Context, q EntryQuery) ([]model.Entry, error)
}

// Settings holds the single capacity maximum.
type Settings interface {
	MaxCapacity(ctx context.Context) (int, error)
	SetMaxCapacity(ctx context.Context, max int) error
}

// AuditLog stores the activity trail written by the audit worker.
type AuditLog interface {
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error)
}
