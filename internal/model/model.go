package model

import (
	"strings"
	"time"
)

// DayLayout is the calendar-day format used for attendance days.
const DayLayout = "2006-01-02"

// MemberStatus gates whether a member may check in.
type MemberStatus string

const (
	MemberActive         MemberStatus = "active"
	MemberInactive       MemberStatus = "inactive"
	MemberExpiredPending MemberStatus = "expired-pending-renewal"
)

// Kind tells the two identity namespaces apart.
type Kind string

const (
	KindMember Kind = "member"
	KindWalkIn Kind = "walkin"
)

// Member represents a registered, billed gym account.
type Member struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	TagID     *string      `json:"tag_id,omitempty"`
	Status    MemberStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// WalkIn is a same-day visitor; its tag is unique only within Day.
type WalkIn struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TagID     *string   `json:"tag_id,omitempty"`
	Day       string    `json:"day"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityRef points at exactly one member or walk-in.
type IdentityRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Key is stable across processes and used for lock names.
func (r IdentityRef) Key() string { return string(r.Kind) + ":" + r.ID }

// Identity is a resolved tag holder.
type Identity struct {
	IdentityRef
	Name   string       `json:"name"`
	TagID  string       `json:"tag_id"`
	Status MemberStatus `json:"status,omitempty"`
}

// MemberIdentity builds the resolved form of a member.
func MemberIdentity(m Member) Identity {
	id := Identity{IdentityRef: IdentityRef{Kind: KindMember, ID: m.ID}, Name: m.Name, Status: m.Status}
	if m.TagID != nil {
		id.TagID = *m.TagID
	}
	return id
}

// WalkInIdentity builds the resolved form of a walk-in.
func WalkInIdentity(w WalkIn) Identity {
	id := Identity{IdentityRef: IdentityRef{Kind: KindWalkIn, ID: w.ID}, Name: w.Name}
	if w.TagID != nil {
		id.TagID = *w.TagID
	}
	return id
}

// RecordStatus is derived from whether TimeOut is set.
type RecordStatus string

const (
	StatusPresent   RecordStatus = "Present"
	StatusCompleted RecordStatus = "Completed"
)

// Record is one arrival of one identity on one calendar day.
// Exactly one of MemberID and WalkInID is set.
type Record struct {
	ID        string       `json:"id"`
	MemberID  *string      `json:"member_id,omitempty"`
	WalkInID  *string      `json:"walkin_id,omitempty"`
	Day       string       `json:"date"`
	TimeIn    time.Time    `json:"time_in"`
	TimeOut   *time.Time   `json:"time_out,omitempty"`
	Status    RecordStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Ref returns the identity the record belongs to.
func (r Record) Ref() IdentityRef {
	if r.MemberID != nil {
		return IdentityRef{Kind: KindMember, ID: *r.MemberID}
	}
	if r.WalkInID != nil {
		return IdentityRef{Kind: KindWalkIn, ID: *r.WalkInID}
	}
	return IdentityRef{}
}

// Open reports whether the record is still Present.
func (r Record) Open() bool { return r.TimeOut == nil }

// NewRecordFor builds an open record for ref.
func NewRecordFor(ref IdentityRef, day string, at time.Time) Record {
	rec := Record{Day: day, TimeIn: at, Status: StatusPresent, CreatedAt: at}
	id := ref.ID
	switch ref.Kind {
	case KindMember:
		rec.MemberID = &id
	case KindWalkIn:
		rec.WalkInID = &id
	}
	return rec
}

// Entry is a record joined with its identity's display fields.
type Entry struct {
	Record
	Kind  Kind   `json:"kind"`
	Name  string `json:"name"`
	TagID string `json:"tag_id"`
}

// AuditEntry is one line in the activity log written by the audit worker.
type AuditEntry struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	IdentityKind Kind      `json:"identity_kind"`
	IdentityID   string    `json:"identity_id"`
	Name         string    `json:"name"`
	Detail       string    `json:"detail"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// NormalizeTag trims reader noise around a tag.
func NormalizeTag(tag string) string {
	return strings.TrimSpace(tag)
}

// ScanEvent is published after a scan changes the ledger.
type ScanEvent struct {
	RecordID     string    `json:"record_id"`
	Action       string    `json:"action"`
	IdentityKind Kind      `json:"identity_kind"`
	IdentityID   string    `json:"identity_id"`
	Name         string    `json:"name"`
	Day          string    `json:"day"`
	ReaderID     string    `json:"reader_id,omitempty"`
	At           time.Time `json:"at"`
}
