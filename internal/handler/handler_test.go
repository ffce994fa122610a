package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymdesk/internal/attendance"
	"gymdesk/internal/audit"
	"gymdesk/internal/capacity"
	"gymdesk/internal/identity"
	"gymdesk/internal/model"
	"gymdesk/internal/queue"
	"gymdesk/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testDesk struct {
	db     *store.DB
	router *gin.Engine
	events *queue.InMemory
	now    time.Time
}

func strPtr(s string) *string { return &s }

func setup(t *testing.T) *testDesk {
	t.Helper()
	db, err := store.NewDB(store.DriverSQLite, filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background(), 50))

	ctx := context.Background()
	require.NoError(t, db.UpsertMember(ctx, &model.Member{ID: "m-a1", Name: "Alex", TagID: strPtr("A1"), Status: model.MemberActive}))
	require.NoError(t, db.UpsertMember(ctx, &model.Member{ID: "m-b2", Name: "Bea", TagID: strPtr("B2"), Status: model.MemberInactive}))
	require.NoError(t, db.UpsertMember(ctx, &model.Member{ID: "m-c3", Name: "Cal", TagID: strPtr("C3"), Status: model.MemberActive}))

	td := &testDesk{db: db, events: queue.NewInMemory(64)}
	loc := time.UTC
	resolver := identity.NewResolver(db, loc)
	tracker := capacity.NewTracker(db, db, loc)
	tracker.Now = func() time.Time { return td.now }

	h := New(Deps{
		Desk:     attendance.NewDesk(resolver, attendance.NewLedger(db, loc), td.events),
		Resolver: resolver,
		Queries:  attendance.NewQueries(db, loc),
		Capacity: tracker,
		Audit:    db,
		Location: loc,
		Health:   []HealthCheck{{Name: "db", Check: db.Healthy}},
	})
	h.Now = func() time.Time { return td.now }

	td.router = gin.New()
	h.Register(td.router)
	return td
}

func (td *testDesk) at(clock string) {
	t, err := time.Parse("2006-01-02 15:04", "2026-03-01 "+clock)
	if err != nil {
		panic(err)
	}
	td.now = t
}

func (td *testDesk) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	td.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (td *testDesk) scan(t *testing.T, tag string) (*httptest.ResponseRecorder, map[string]any) {
	return td.do(t, http.MethodPost, "/v1/scan", gin.H{"tag_id": tag})
}

func present(t *testing.T, td *testDesk) float64 {
	t.Helper()
	w, body := td.do(t, http.MethodGet, "/v1/today", nil)
	require.Equal(t, http.StatusOK, w.Code)
	return body["current_present"].(float64)
}

func TestScanDayCycle(t *testing.T) {
	td := setup(t)

	td.at("08:00")
	w, body := td.scan(t, "A1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TimeIn", body["action"])
	assert.Equal(t, "2026-03-01", body["current_date"])
	assert.Equal(t, "08:00:00", body["current_time"])
	assert.Equal(t, "Alex", body["name"])
	assert.Equal(t, "member", body["kind"])
	occ := body["occupancy"].(map[string]any)
	assert.Equal(t, float64(1), occ["current"])
	assert.Equal(t, float64(1), present(t, td))

	td.at("17:00")
	_, body = td.scan(t, "A1")
	assert.Equal(t, "TimeOut", body["action"])
	record := body["record"].(map[string]any)
	assert.Equal(t, "Completed", record["status"])
	assert.Equal(t, float64(0), present(t, td))

	td.at("17:05")
	w, body = td.scan(t, "A1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NoOp", body["action"])
	assert.Contains(t, body["message"], "already completed")
}

func TestScanRejections(t *testing.T) {
	td := setup(t)
	td.at("09:00")

	tests := []struct {
		name       string
		tag        string
		wantStatus int
		wantKind   string
	}{
		{name: "unknown tag", tag: "Z9", wantStatus: http.StatusNotFound, wantKind: "not_found"},
		{name: "inactive member", tag: "B2", wantStatus: http.StatusForbidden, wantKind: "denied"},
		{name: "empty tag", tag: "  ", wantStatus: http.StatusBadRequest, wantKind: "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := td.scan(t, tt.tag)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, body["kind"])
			assert.Equal(t, false, body["retryable"])
			assert.NotEmpty(t, body["error"])
		})
	}

	assert.Equal(t, float64(0), present(t, td), "rejected scans never change occupancy")
	_, body := td.do(t, http.MethodGet, "/v1/log", nil)
	assert.Empty(t, body["records"])
}

func TestScanRejectsMalformedBody(t *testing.T) {
	td := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/scan", bytes.NewBufferString("{tag"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	td.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScanPublishesEvents(t *testing.T) {
	td := setup(t)
	td.at("08:00")
	td.scan(t, "A1")
	td.at("09:00")
	td.scan(t, "A1")
	td.scan(t, "A1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = audit.NewRecorder(td.db).Run(ctx, td.events) }()

	require.Eventually(t, func() bool {
		_, body := td.do(t, http.MethodGet, "/v1/audit", nil)
		entries, _ := body["entries"].([]any)
		return len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond, "NoOp scans are not audited")
}

func TestCapacity(t *testing.T) {
	td := setup(t)
	td.at("10:00")

	w, body := td.do(t, http.MethodGet, "/v1/capacity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(50), body["max"])

	w, body = td.do(t, http.MethodPost, "/v1/capacity", gin.H{"max": "75"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(75), body["max"])

	for _, bad := range []any{"abc", 0, -5, 7.5, nil} {
		w, body = td.do(t, http.MethodPost, "/v1/capacity", gin.H{"max": bad})
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", bad)
		assert.Equal(t, "invalid", body["kind"])
	}

	_, body = td.do(t, http.MethodGet, "/v1/capacity", nil)
	assert.Equal(t, float64(75), body["max"], "rejected updates keep the prior value")

	w, _ = td.do(t, http.MethodPost, "/v1/capacity", gin.H{"max": 1})
	require.Equal(t, http.StatusOK, w.Code)
	td.scan(t, "A1")
	w, _ = td.scan(t, "C3")
	assert.Equal(t, http.StatusOK, w.Code, "capacity never blocks a scan")

	_, body = td.do(t, http.MethodGet, "/v1/occupancy", nil)
	assert.Equal(t, float64(2), body["current"])
	assert.Equal(t, float64(1), body["max"])
	assert.Equal(t, true, body["full"])
}

func TestRanking(t *testing.T) {
	td := setup(t)
	for _, day := range []string{"2026-03-01", "2026-03-02"} {
		td.now, _ = time.Parse("2006-01-02 15:04", day+" 08:00")
		td.scan(t, "A1")
	}
	td.now, _ = time.Parse("2006-01-02 15:04", "2026-03-02 09:00")
	td.scan(t, "C3")

	w := httptest.NewRecorder()
	td.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ranking", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rows []attendance.RankEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Alex", rows[0].Name)
	assert.Equal(t, 2, rows[0].Count)

	w = httptest.NewRecorder()
	td.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ranking?start=2026-03-02&end=2026-03-02", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Count)
	assert.Equal(t, "Alex", rows[0].Name, "ties order by name")

	w, body := td.do(t, http.MethodGet, "/v1/ranking?start=2026-03-05&end=2026-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid", body["kind"])
}

func TestWalkInFlow(t *testing.T) {
	td := setup(t)
	td.at("11:00")

	w, body := td.do(t, http.MethodPost, "/v1/walkins", gin.H{"name": "Visitor", "tag_id": "W7"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "2026-03-01", body["day"])

	w, body = td.scan(t, "W7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TimeIn", body["action"])
	assert.Equal(t, "walkin", body["kind"])

	w, _ = td.do(t, http.MethodPost, "/v1/walkins", gin.H{"name": "Other", "tag_id": "A1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogPaging(t *testing.T) {
	td := setup(t)
	td.at("08:00")
	td.scan(t, "A1")
	td.at("08:30")
	td.scan(t, "C3")

	_, body := td.do(t, http.MethodGet, "/v1/log?limit=1", nil)
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "Cal", records[0].(map[string]any)["name"])

	w, _ := td.do(t, http.MethodGet, "/v1/log?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	td := setup(t)
	w, body := td.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["db"])
}
