package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fingerattend/internal/clock"
	"fingerattend/internal/model"
	"fingerattend/internal/queue"
	"fingerattend/internal/store"
	"fingerattend/internal/timetable"
)

type fixture struct {
	mem     *store.Memory
	clk     *clock.Fake
	events  *queue.InMemory
	svc     *Service
	student model.Student
}

// 2026-03-02 is a Monday; Math runs 09:00-10:00 and Physics 10:00-11:00 for
// semester 3.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, cs := range []model.ClassSession{
		{Day: time.Monday, Semester: "3", Start: 9 * 60, End: 10 * 60, Subject: "Math"},
		{Day: time.Monday, Semester: "3", Start: 10*60 + 1, End: 11 * 60, Subject: "Physics"},
	} {
		cs := cs
		if err := mem.CreateClassSession(ctx, &cs); err != nil {
			t.Fatal(err)
		}
	}
	st := model.Student{Name: "Asha", RollNo: "CS-07", Semester: "3", FingerprintID: 7}
	if err := mem.CreateStudent(ctx, &st); err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC))
	events := queue.NewInMemory(64)
	svc := NewService(mem, timetable.NewResolver(mem, time.UTC), clk, events, nil, nil)
	return &fixture{mem: mem, clk: clk, events: events, svc: svc, student: st}
}

func (f *fixture) scan(t *testing.T, fp int) Outcome {
	t.Helper()
	out, err := f.svc.RecordScan(context.Background(), fp)
	if err != nil {
		t.Fatalf("record scan: %v", err)
	}
	return out
}

func (f *fixture) entries(t *testing.T) []model.AttendanceEntry {
	t.Helper()
	es, err := f.mem.AttendanceSince(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	return es
}

func TestUnknownFingerprint(t *testing.T) {
	f := newFixture(t)
	out := f.scan(t, 99)
	if out.Result != ResultStudentNotFound || out.Message() != "Student not found" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if n := len(f.entries(t)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

// A known student scanning when no class is scheduled.
func TestNoActiveClassWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.clk.Set(time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC))
	out := f.scan(t, 7)
	if out.Result != ResultNoActiveClass || out.StudentName != "Asha" || out.Message() != "No Class" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if n := len(f.entries(t)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

// First scan logs in, second logs out.
func TestLoginThenLogout(t *testing.T) {
	f := newFixture(t)
	first := f.scan(t, 7)
	if first.Result != ResultSuccess || first.Status != model.StatusLogin || first.Subject != "Math" {
		t.Fatalf("expected Math LOGIN, got %+v", first)
	}
	second := f.scan(t, 7)
	if second.Status != model.StatusLogout {
		t.Fatalf("expected LOGOUT, got %+v", second)
	}
	if second.Message() != "LOGOUT Success" {
		t.Errorf("unexpected message %q", second.Message())
	}

	got := <-f.events.Messages()
	if got.Type != queue.TypeScanRecorded {
		t.Errorf("expected scan event, got %s", got.Type)
	}
}

func TestAlternationIsPerSubjectAndDay(t *testing.T) {
	f := newFixture(t)
	if out := f.scan(t, 7); out.Status != model.StatusLogin {
		t.Fatalf("expected Math LOGIN, got %s", out.Status)
	}

	// Physics has no entry yet, so it starts at LOGIN even though Math is open.
	f.clk.Set(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC))
	if out := f.scan(t, 7); out.Subject != "Physics" || out.Status != model.StatusLogin {
		t.Fatalf("expected Physics LOGIN, got %+v", out)
	}

	// Next Monday's Math starts fresh.
	f.clk.Set(time.Date(2026, 3, 9, 9, 5, 0, 0, time.UTC))
	if out := f.scan(t, 7); out.Status != model.StatusLogin {
		t.Fatalf("expected new-day LOGIN, got %s", out.Status)
	}
}

func TestSequenceStrictlyAlternates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 9; i++ {
		f.scan(t, 7)
		f.clk.Advance(time.Second)
	}
	assertAlternating(t, f.entries(t))
}

// Concurrent double scans of the same student must still alternate.
func TestConcurrentScansAlternate(t *testing.T) {
	f := newFixture(t)
	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RecordScan(context.Background(), 7); err != nil {
				t.Errorf("scan: %v", err)
			}
		}()
	}
	wg.Wait()
	es := f.entries(t)
	if len(es) != n {
		t.Fatalf("expected %d entries, got %d", n, len(es))
	}
	assertAlternating(t, es)
	if f.svc.locks.size() != 0 {
		t.Errorf("expected lock table to drain, got %d", f.svc.locks.size())
	}
}

func assertAlternating(t *testing.T, es []model.AttendanceEntry) {
	t.Helper()
	want := model.StatusLogin
	for i, e := range es {
		if e.Status != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, e.Status)
		}
		want = want.Next()
	}
}

type failingAppend struct{ *store.Memory }

func (failingAppend) AppendAttendance(context.Context, *model.AttendanceEntry) error {
	return errors.New("disk full")
}

func (f failingAppend) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx store.Store) error {
		return fn(failingAppend{tx.(*store.Memory)})
	})
}

func TestStoreFailureSurfacesAndWritesNothing(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingAppend{f.mem}, timetable.NewResolver(f.mem, time.UTC), f.clk, nil, nil, nil)
	if _, err := svc.RecordScan(context.Background(), 7); err == nil {
		t.Fatal("expected store failure")
	}
	if n := len(f.entries(t)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}
