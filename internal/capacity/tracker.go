// Package capacity tracks the configured maximum occupancy and derives the
// current occupancy from the attendance ledger.
package capacity

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"gymdesk/internal/apperr"
	"gymdesk/internal/metrics"
	"gymdesk/internal/model"
	"gymdesk/internal/storage"
)

// OpenCounter counts Present records for a day.
type OpenCounter interface {
	CountOpen(ctx context.Context, day string) (int, error)
}

// Occupancy is a point-in-time view; Full never blocks a scan.
type Occupancy struct {
	Current int  `json:"current"`
	Max     int  `json:"max"`
	Full    bool `json:"full"`
}

// Tracker reads and updates capacity. It holds no occupancy state of its own.
type Tracker struct {
	settings storage.Settings
	counter  OpenCounter
	loc      *time.Location

	// Now is swapped in tests.
	Now func() time.Time
}

// NewTracker creates a tracker; loc defines the current day.
func NewTracker(settings storage.Settings, counter OpenCounter, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{settings: settings, counter: counter, loc: loc, Now: time.Now}
}

// Max returns the configured maximum.
func (t *Tracker) Max(ctx context.Context) (int, error) {
	max, err := t.settings.MaxCapacity(ctx)
	if err != nil {
		return 0, apperr.Storage("load capacity failed", err)
	}
	return max, nil
}

// GetOccupancy recomputes the present count for today.
func (t *Tracker) GetOccupancy(ctx context.Context) (Occupancy, error) {
	max, err := t.Max(ctx)
	if err != nil {
		return Occupancy{}, err
	}
	current, err := t.counter.CountOpen(ctx, model.DayOf(t.Now(), t.loc))
	if err != nil {
		return Occupancy{}, apperr.Storage("count present members failed", err)
	}
	metrics.Occupancy(current, max)
	return Occupancy{Current: current, Max: max, Full: current >= max}, nil
}

// SetMax validates raw and stores it. On error the prior value is kept.
func (t *Tracker) SetMax(ctx context.Context, raw string) (int, error) {
	max, err := ParseMax(raw)
	if err != nil {
		return 0, err
	}
	if err := t.settings.SetMaxCapacity(ctx, max); err != nil {
		return 0, apperr.Storage("save capacity failed", err)
	}
	slog.Info("capacity updated", "max", max)
	metrics.Occupancy(t.currentOrZero(ctx), max)
	return max, nil
}

func (t *Tracker) currentOrZero(ctx context.Context) int {
	n, err := t.counter.CountOpen(ctx, model.DayOf(t.Now(), t.loc))
	if err != nil {
		return 0
	}
	return n
}

// maxCapacityLimit matches the INTEGER column the value is stored in.
const maxCapacityLimit = math.MaxInt32

// ParseMax accepts a positive whole number written in plain decimal. A
// trailing fraction of zeros ("40.0") is allowed since JSON clients send
// numbers that way; exponents, hex and fractions are not.
func ParseMax(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, apperr.Invalid("max capacity is required")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (frac == "" || strings.Trim(frac, "0") != "") {
		return 0, apperr.Invalid("max capacity %q must be a whole number", s)
	}
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, apperr.Invalid("max capacity %q is out of range", s)
		}
		return 0, apperr.Invalid("max capacity %q must be a whole number", s)
	}
	if n <= 0 {
		return 0, apperr.Invalid("max capacity must be positive, got %d", n)
	}
	if n > maxCapacityLimit {
		return 0, apperr.Invalid("max capacity must be at most %d, got %d", maxCapacityLimit, n)
	}
	return int(n), nil
}
