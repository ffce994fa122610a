package attendance

import (
	"context"
	"log/slog"
	"time"

	"gymdesk/internal/apperr"
	"gymdesk/internal/metrics"
	"gymdesk/internal/model"
	"gymdesk/internal/queue"
)

// IdentityResolver maps a tag to its holder for the day of now.
type IdentityResolver interface {
	ResolveAt(ctx context.Context, tagID string, now time.Time) (model.Identity, error)
}

// Publisher receives scan events after a ledger change.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Desk is the scan entry point: resolve the tag, then toggle the ledger.
type Desk struct {
	resolver IdentityResolver
	ledger   *Ledger
	events   Publisher
}

// NewDesk wires a desk. events may be nil.
func NewDesk(resolver IdentityResolver, ledger *Ledger, events Publisher) *Desk {
	return &Desk{resolver: resolver, ledger: ledger, events: events}
}

// Scan handles one tag read. Rejected scans (NotFound, Denied, Invalid)
// never touch the ledger.
func (d *Desk) Scan(ctx context.Context, tagID, readerID string, now time.Time) (Result, error) {
	who, err := d.resolver.ResolveAt(ctx, tagID, now)
	if err != nil {
		kind := apperr.KindOf(err)
		metrics.ScanRejected(string(kind))
		if kind == apperr.KindStorage {
			slog.Error("scan lookup failed", "tag_id", tagID, "reader_id", readerID, "error", err)
		} else {
			slog.Warn("scan rejected", "tag_id", tagID, "reader_id", readerID, "kind", kind, "reason", apperr.Message(err))
		}
		return Result{}, err
	}

	res, err := d.ledger.RecordScan(ctx, who, now)
	if err != nil {
		metrics.ScanRejected(string(apperr.KindOf(err)))
		slog.Error("scan not recorded", "identity", who.Key(), "reader_id", readerID, "error", err)
		return Result{}, err
	}

	metrics.ScanRecorded(string(res.Action))
	slog.Info("scan recorded",
		"identity", who.Key(),
		"action", res.Action,
		"day", res.Day,
		"record_id", res.Record.ID,
		"reader_id", readerID,
	)

	if res.Action != ActionNoOp {
		d.publish(ctx, res, readerID)
	}
	return res, nil
}

// publish is best effort; the ledger is already committed.
func (d *Desk) publish(ctx context.Context, res Result, readerID string) {
	if d.events == nil {
		return
	}
	msg, err := queue.NewScanMessage(model.ScanEvent{
		RecordID:     res.Record.ID,
		Action:       string(res.Action),
		IdentityKind: res.Identity.Kind,
		IdentityID:   res.Identity.ID,
		Name:         res.Identity.Name,
		Day:          res.Day,
		ReaderID:     readerID,
		At:           res.At.UTC(),
	})
	if err == nil {
		err = d.events.Publish(ctx, msg)
	}
	if err != nil {
		slog.Warn("scan event publish failed", "record_id", res.Record.ID, "error", err)
	}
}
