package attendance

import (
	"context"
	"time"

	"fingerattend/internal/model"
	"fingerattend/internal/store"
)

const defaultListLimit = 50

// ListFilter mirrors the dashboard query string.
type ListFilter struct {
	Date    *time.Time // any instant of the wanted local day
	Subject string
	Search  string
}

// List returns attendance records newest first. Without any filter only the
// 50 most recent are returned.
func (s *Service) List(ctx context.Context, f ListFilter) ([]model.AttendanceRecord, error) {
	q := store.AttendanceFilter{Subject: f.Subject, Search: f.Search}
	if f.Date != nil {
		q.From = startOfDay(f.Date.In(s.resolver.Location()))
		q.To = q.From.AddDate(0, 0, 1)
	}
	if f.Date == nil && f.Subject == "" && f.Search == "" {
		q.Limit = defaultListLimit
	}
	return s.store.ListAttendance(ctx, q)
}

// Location is the zone used for day boundaries and the timetable.
func (s *Service) Location() *time.Location { return s.resolver.Location() }

// LatestID lets dashboards poll for new entries cheaply.
func (s *Service) LatestID(ctx context.Context) (int64, error) {
	return s.store.LatestAttendanceID(ctx)
}

// ActiveCount returns how many students are currently logged in, meaning
// their newest entry today, in any subject, is a LOGIN.
func (s *Service) ActiveCount(ctx context.Context) (int, error) {
	now := s.clock.Now().In(s.resolver.Location())
	entries, err := s.store.AttendanceSince(ctx, startOfDay(now))
	if err != nil {
		return 0, err
	}
	latest := map[int64]model.AttendanceEntry{}
	for _, e := range entries {
		prev, ok := latest[e.StudentID]
		if !ok || e.Timestamp.After(prev.Timestamp) || (e.Timestamp.Equal(prev.Timestamp) && e.ID > prev.ID) {
			latest[e.StudentID] = e
		}
	}
	n := 0
	for _, e := range latest {
		if e.Status == model.StatusLogin {
			n++
		}
	}
	return n, nil
}

// DayCount is the number of entries on one local date.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DailyCounts returns entry counts for the last days local dates, oldest
// first, including days without entries.
func (s *Service) DailyCounts(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		days = 7
	}
	loc := s.resolver.Location()
	today := startOfDay(s.clock.Now().In(loc))
	first := today.AddDate(0, 0, -(days - 1))
	entries, err := s.store.AttendanceSince(ctx, first)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, days)
	for _, e := range entries {
		counts[e.Timestamp.In(loc).Format(time.DateOnly)]++
	}
	out := make([]DayCount, 0, days)
	for d := first; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		out = append(out, DayCount{Date: key, Count: counts[key]})
	}
	return out, nil
}

// SemesterCounts returns entry counts keyed by the student's semester.
func (s *Service) SemesterCounts(ctx context.Context) (map[string]int, error) {
	return s.store.CountBySemester(ctx)
}
