// Package audit turns scan events from the queue into activity-log rows.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"gymdesk/internal/model"
	"gymdesk/internal/queue"
	"gymdesk/internal/storage"
)

// entryNamespace derives stable audit ids so a redelivered event is written once.
var entryNamespace = uuid.MustParse("6f1d8c52-3a0e-4f43-9d53-2b8e4a7c1e90")

// Recorder consumes scan messages and appends them to the audit log.
type Recorder struct {
	log storage.AuditLog
}

func NewRecorder(log storage.AuditLog) *Recorder {
	return &Recorder{log: log}
}

// Run consumes q until ctx is cancelled or the queue closes.
func (r *Recorder) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume scan queue: %w", err)
	}
	slog.Info("audit recorder started")
	for msg := range messages {
		if err := r.Handle(ctx, msg); err != nil {
			slog.Error("audit entry not written", "type", msg.Type, "error", err)
		}
	}
	slog.Info("audit recorder stopped")
	return nil
}

// Handle writes one message. Non-scan messages are skipped.
func (r *Recorder) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeScan {
		slog.Debug("skipping message", "type", msg.Type)
		return nil
	}
	evt, err := queue.DecodeScan(msg)
	if err != nil {
		return err
	}

	entry := EntryFor(evt)
	if err := r.log.AppendAudit(ctx, &entry); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Debug("duplicate scan event", "record_id", evt.RecordID, "action", evt.Action)
			return nil
		}
		return err
	}
	slog.Debug("audit entry written", "id", entry.ID, "action", entry.Action)
	return nil
}

// EntryFor maps a scan event to its audit row.
func EntryFor(evt model.ScanEvent) model.AuditEntry {
	detail := "day " + evt.Day
	if evt.ReaderID != "" {
		detail += " via " + evt.ReaderID
	}
	return model.AuditEntry{
		ID:           uuid.NewSHA1(entryNamespace, []byte(evt.RecordID+"/"+evt.Action)).String(),
		Action:       evt.Action,
		IdentityKind: evt.IdentityKind,
		IdentityID:   evt.IdentityID,
		Name:         evt.Name,
		Detail:       detail,
		OccurredAt:   evt.At,
	}
}
