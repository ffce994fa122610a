package attendance

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymdesk/internal/apperr"
	"gymdesk/internal/model"
	"gymdesk/internal/storage"
	"gymdesk/internal/store"
)

func strPtr(s string) *string { return &s }

func newStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewDB(store.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background(), 50))
	return db
}

func seedMember(t *testing.T, db *store.DB, id, name, tag string) model.Identity {
	t.Helper()
	m := model.Member{ID: id, Name: name, TagID: strPtr(tag), Status: model.MemberActive}
	require.NoError(t, db.UpsertMember(context.Background(), &m))
	return model.MemberIdentity(m)
}

func at(day, clock string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", day+" "+clock)
	if err != nil {
		panic(err)
	}
	return t
}

func countPresent(t *testing.T, db *store.DB, day string) int {
	t.Helper()
	n, err := db.CountOpen(context.Background(), day)
	require.NoError(t, err)
	return n
}

func TestRecordScanToggle(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)
	who := seedMember(t, db, "m1", "Maria", "A1")
	l := NewLedger(db, time.UTC)

	res, err := l.RecordScan(ctx, who, at("2026-03-01", "08:00"))
	require.NoError(t, err)
	assert.Equal(t, ActionTimeIn, res.Action)
	assert.Equal(t, model.StatusPresent, res.Record.Status)
	assert.Equal(t, "2026-03-01", res.Day)
	assert.Contains(t, res.Message, "Maria")
	assert.Equal(t, 1, countPresent(t, db, "2026-03-01"))

	res, err = l.RecordScan(ctx, who, at("2026-03-01", "17:00"))
	require.NoError(t, err)
	assert.Equal(t, ActionTimeOut, res.Action)
	assert.Equal(t, model.StatusCompleted, res.Record.Status)
	require.NotNil(t, res.Record.TimeOut)
	assert.True(t, res.Record.TimeOut.Equal(at("2026-03-01", "17:00")))
	assert.Equal(t, 0, countPresent(t, db, "2026-03-01"))

	res, err = l.RecordScan(ctx, who, at("2026-03-01", "17:05"))
	require.NoError(t, err)
	assert.Equal(t, ActionNoOp, res.Action)
	assert.Contains(t, res.Message, "already completed")

	entries, err := db.Entries(ctx, storage.EntryQuery{From: "2026-03-01", To: "2026-03-01"})
	require.NoError(t, err)
	require.Len(t, entries, 1, "a completed day never gains a second record")
	assert.True(t, entries[0].TimeOut.Equal(at("2026-03-01", "17:00")), "NoOp must not move the time-out")

	res, err = l.RecordScan(ctx, who, at("2026-03-02", "07:30"))
	require.NoError(t, err)
	assert.Equal(t, ActionTimeIn, res.Action, "a new day starts over")
}

func TestRecordScanUsesGymDay(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)
	who := seedMember(t, db, "m1", "Maria", "A1")
	manila := time.FixedZone("PHT", 8*3600)
	l := NewLedger(db, manila)

	// 23:00 UTC on March 1st is 07:00 on March 2nd in the gym.
	res, err := l.RecordScan(ctx, who, time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", res.Day)

	// 15:00 UTC on March 2nd is 23:00 local, still the same gym day.
	res, err = l.RecordScan(ctx, who, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, ActionTimeOut, res.Action)
}

func TestRecordScanRejectsEmptyIdentity(t *testing.T) {
	l := NewLedger(newStore(t), time.UTC)
	_, err := l.RecordScan(context.Background(), model.Identity{}, time.Now())
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestConcurrentScansKeepOneOpenRecord(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)
	who := seedMember(t, db, "m1", "Maria", "A1")
	l := NewLedger(db, time.UTC)
	now := at("2026-03-01", "09:00")

	const scans = 16
	results := make([]Result, scans)
	errs := make([]error, scans)
	var wg sync.WaitGroup
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.RecordScan(ctx, who, now)
		}(i)
	}
	wg.Wait()

	counts := map[Action]int{}
	for i := range results {
		require.NoError(t, errs[i])
		counts[results[i].Action]++
	}
	assert.Equal(t, 1, counts[ActionTimeIn])
	assert.Equal(t, 1, counts[ActionTimeOut])
	assert.Equal(t, scans-2, counts[ActionNoOp])
	assert.Equal(t, 0, countPresent(t, db, "2026-03-01"))
	assert.Equal(t, 0, l.locks.Len(), "lock table drains when idle")
}

func TestConcurrentScansDifferentIdentities(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)
	l := NewLedger(db, time.UTC)
	ids := []model.Identity{
		seedMember(t, db, "m1", "Ana", "T1"),
		seedMember(t, db, "m2", "Ben", "T2"),
		seedMember(t, db, "m3", "Cy", "T3"),
	}

	var wg sync.WaitGroup
	for _, who := range ids {
		wg.Add(1)
		go func(who model.Identity) {
			defer wg.Done()
			_, err := l.RecordScan(ctx, who, at("2026-03-01", "10:00"))
			assert.NoError(t, err)
		}(who)
	}
	wg.Wait()
	assert.Equal(t, len(ids), countPresent(t, db, "2026-03-01"))
}

// brokenLedger fails every storage call.
type brokenLedger struct{}

func (brokenLedger) WithinDay(context.Context, model.IdentityRef, string, func(storage.LedgerTx) error) error {
	return errors.New("connection refused")
}

func (brokenLedger) CountOpen(context.Context, string) (int, error) {
	return 0, errors.New("connection refused")
}

func (brokenLedger) Entries(context.Context, storage.EntryQuery) ([]model.Entry, error) {
	return nil, errors.New("connection refused")
}

func TestRecordScanStorageFailureIsRetryable(t *testing.T) {
	l := NewLedger(brokenLedger{}, time.UTC)
	who := model.Identity{IdentityRef: model.IdentityRef{Kind: model.KindMember, ID: "m1"}}
	_, err := l.RecordScan(context.Background(), who, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	assert.True(t, apperr.Retryable(err))
}

func TestKeyLockSerialisesSameKey(t *testing.T) {
	k := NewKeyLock()
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	other := k.Lock("b")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the key")
	}
}
