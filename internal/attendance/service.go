package attendance

import (
	"context"
	"fmt"
	"time"

	"gymdesk/internal/apperr"
	"gymdesk/internal/model"
	"gymdesk/internal/storage"
)

// Action is the outcome of a scan.
type Action string

const (
	ActionTimeIn  Action = "TimeIn"
	ActionTimeOut Action = "TimeOut"
	ActionNoOp    Action = "NoOp"
)

// Result describes what a scan did to the ledger.
type Result struct {
	Action   Action
	Message  string
	Identity model.Identity
	Record   model.Record
	Day      string
	At       time.Time
}

// Ledger toggles attendance for an identity within a calendar day.
//
// The open/closed state is never stored on its own: it is read off the latest
// record for (identity, day). No record means NONE, a record without time-out
// means PRESENT, a record with time-out means COMPLETED, which absorbs any
// further scan that day.
type Ledger struct {
	store storage.Ledger
	locks *KeyLock
	loc   *time.Location
}

// NewLedger creates a ledger; loc defines the gym's calendar day.
func NewLedger(store storage.Ledger, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{store: store, locks: NewKeyLock(), loc: loc}
}

// Location returns the gym timezone.
func (l *Ledger) Location() *time.Location { return l.loc }

// RecordScan applies one scan of who at now.
//
// The read-decide-write runs under an in-process lock per (identity, day) and
// inside one storage transaction, so two concurrent scans of the same
// identity resolve to TimeIn then TimeOut (or NoOp), never two TimeIns.
func (l *Ledger) RecordScan(ctx context.Context, who model.Identity, now time.Time) (Result, error) {
	if who.ID == "" || (who.Kind != model.KindMember && who.Kind != model.KindWalkIn) {
		return Result{}, apperr.Invalid("identity required")
	}
	ref := who.IdentityRef
	day := model.DayOf(now, l.loc)
	at := now.UTC()

	unlock := l.locks.Lock(ref.Key() + "@" + day)
	defer unlock()

	var res Result
	err := l.store.WithinDay(ctx, ref, day, func(tx storage.LedgerTx) error {
		latest, err := tx.LatestRecord(ctx, ref, day)
		if err != nil {
			return err
		}
		switch {
		case latest == nil:
			rec := model.NewRecordFor(ref, day, at)
			if err := tx.InsertRecord(ctx, &rec); err != nil {
				return err
			}
			res = Result{Action: ActionTimeIn, Record: rec}
		case latest.Open():
			if err := tx.CloseRecord(ctx, latest.ID, at); err != nil {
				return err
			}
			rec := *latest
			rec.TimeOut = &at
			rec.Status = model.StatusCompleted
			res = Result{Action: ActionTimeOut, Record: rec}
		default:
			res = Result{Action: ActionNoOp, Record: *latest}
		}
		return nil
	})
	if err != nil {
		return Result{}, apperr.Storage("attendance update failed", err)
	}

	res.Identity = who
	res.Day = day
	res.At = now
	res.Message = message(res.Action, who.Name)
	return res, nil
}

func message(action Action, name string) string {
	if name == "" {
		name = "Guest"
	}
	switch action {
	case ActionTimeIn:
		return fmt.Sprintf("Welcome, %s! Time in recorded.", name)
	case ActionTimeOut:
		return fmt.Sprintf("Goodbye, %s! Time out recorded.", name)
	default:
		return fmt.Sprintf("%s has already completed attendance today.", name)
	}
}
