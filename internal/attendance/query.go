package attendance

import (
	"context"
	"sort"
	"strings"
	"time"

	"gymdesk/internal/apperr"
	"gymdesk/internal/model"
	"gymdesk/internal/storage"
)

const maxLogLimit = 500

// placeholderNames are display names that stand for "nobody in particular".
var placeholderNames = map[string]struct{}{
	"unknown": {},
	"n/a":     {},
	"na":      {},
	"none":    {},
	"-":       {},
	"guest":   {},
}

var walkInMarkers = []string{"walk-in", "walkin", "walk in"}

// Queries are read-only projections over the ledger and registries.
type Queries struct {
	store storage.Ledger
	loc   *time.Location
}

// NewQueries creates the query surface; loc defines "today".
func NewQueries(store storage.Ledger, loc *time.Location) *Queries {
	if loc == nil {
		loc = time.UTC
	}
	return &Queries{store: store, loc: loc}
}

// TodayView is today's attendance with its derived occupancy.
type TodayView struct {
	Date           string        `json:"date"`
	CurrentPresent int           `json:"current_present"`
	Records        []model.Entry `json:"records"`
}

// Today lists every record of the current day.
func (q *Queries) Today(ctx context.Context, now time.Time) (TodayView, error) {
	day := model.DayOf(now, q.loc)
	entries, err := q.store.Entries(ctx, storage.EntryQuery{From: day, To: day})
	if err != nil {
		return TodayView{}, apperr.Storage("load today's attendance failed", err)
	}
	view := TodayView{Date: day, Records: nonNil(entries)}
	for _, e := range entries {
		if e.Open() {
			view.CurrentPresent++
		}
	}
	return view, nil
}

// Page bounds a log listing. A zero Limit means every record.
type Page struct {
	Limit  int
	Offset int
}

// Log lists records across all days, newest first. Paging applies only when
// p.Limit is set; explicit limits are capped at maxLogLimit.
func (q *Queries) Log(ctx context.Context, p Page) ([]model.Entry, error) {
	if p.Limit <= 0 {
		p = Page{}
	}
	if p.Limit > maxLogLimit {
		p.Limit = maxLogLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	entries, err := q.store.Entries(ctx, storage.EntryQuery{Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		return nil, apperr.Storage("load attendance log failed", err)
	}
	return nonNil(entries), nil
}

// Window is an inclusive day range; empty bounds are open.
type Window struct {
	Start string
	End   string
}

// ParseWindow validates YYYY-MM-DD bounds.
func ParseWindow(start, end string) (Window, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	for _, v := range []string{start, end} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(model.DayLayout, v); err != nil {
			return Window{}, apperr.Invalid("date %q must be YYYY-MM-DD", v)
		}
	}
	if start != "" && end != "" && start > end {
		return Window{}, apperr.Invalid("start %s is after end %s", start, end)
	}
	return Window{Start: start, End: end}, nil
}

// RankEntry is one row of the attendance ranking.
type RankEntry struct {
	IdentityID string     `json:"identity_id"`
	Kind       model.Kind `json:"kind"`
	Name       string     `json:"name"`
	Count      int        `json:"count"`
}

// Ranking counts records per identity inside w, most visits first. Equal
// counts are ordered by name, then identity id. limit <= 0 returns all rows.
func (q *Queries) Ranking(ctx context.Context, w Window, limit int) ([]RankEntry, error) {
	entries, err := q.store.Entries(ctx, storage.EntryQuery{From: w.Start, To: w.End})
	if err != nil {
		return nil, apperr.Storage("load ranking failed", err)
	}

	byIdentity := make(map[string]*RankEntry)
	for _, e := range entries {
		if excludedFromRanking(e.Name) {
			continue
		}
		ref := e.Ref()
		row, ok := byIdentity[ref.Key()]
		if !ok {
			row = &RankEntry{IdentityID: ref.ID, Kind: ref.Kind, Name: strings.TrimSpace(e.Name)}
			byIdentity[ref.Key()] = row
		}
		row.Count++
	}

	ranking := make([]RankEntry, 0, len(byIdentity))
	for _, row := range byIdentity {
		ranking = append(ranking, *row)
	}
	sort.Slice(ranking, func(i, j int) bool {
		a, b := ranking[i], ranking[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.IdentityID < b.IdentityID
	})
	if limit > 0 && len(ranking) > limit {
		ranking = ranking[:limit]
	}
	return ranking, nil
}

func excludedFromRanking(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return true
	}
	if _, ok := placeholderNames[n]; ok {
		return true
	}
	for _, marker := range walkInMarkers {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}

func nonNil(entries []model.Entry) []model.Entry {
	if entries == nil {
		return []model.Entry{}
	}
	return entries
}
