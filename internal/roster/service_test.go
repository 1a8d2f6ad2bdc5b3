package roster

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fingerattend/internal/command"
	"fingerattend/internal/model"
	"fingerattend/internal/store"
)

func newService(st store.Store) (*Service, *command.Queue) {
	q := command.New(st, nil, nil)
	return NewService(st, q, nil, nil), q
}

func addStudent(t *testing.T, s *Service, roll string, fp int) model.Student {
	t.Helper()
	st, err := s.CreateStudent(context.Background(), model.Student{Name: "S " + roll, RollNo: roll, Semester: "3", FingerprintID: fp})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return st
}

// Deleting a student removes its entries and tells the sensor to drop the slot.
func TestDeleteStudentQueuesSensorDelete(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s, q := newService(mem)
	st := addStudent(t, s, "R42", 42)
	keep := addStudent(t, s, "R43", 43)
	for _, id := range []int64{st.ID, st.ID, keep.ID} {
		e := model.AttendanceEntry{StudentID: id, Subject: "Math", Status: model.StatusLogin, Timestamp: time.Now()}
		if err := mem.AppendAttendance(ctx, &e); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.DeleteStudent(ctx, st.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cmd, err := q.DequeueOldest(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if cmd.Kind != model.CommandDelete || cmd.Payload == nil || *cmd.Payload != "42" {
		t.Fatalf("expected DELETE 42, got %+v", cmd)
	}
	left, _ := mem.AttendanceSince(ctx, time.Time{})
	if len(left) != 1 || left[0].StudentID != keep.ID {
		t.Errorf("expected only the other student's entry left, got %+v", left)
	}
	if _, err := mem.GetStudent(ctx, st.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected student gone, got %v", err)
	}
}

func TestDeleteUnknownStudent(t *testing.T) {
	s, q := newService(store.NewMemory())
	if _, err := s.DeleteStudent(context.Background(), 404); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n, _ := q.Pending(context.Background()); n != 0 {
		t.Errorf("expected no command queued, got %d", n)
	}
}

// A reset empties every table and queues exactly one RESET.
func TestResetAll(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s, q := newService(mem)
	var ids []int64
	for i := 1; i <= 5; i++ {
		ids = append(ids, addStudent(t, s, fmt.Sprintf("R%d", i), i).ID)
	}
	for i := 0; i < 20; i++ {
		e := model.AttendanceEntry{StudentID: ids[i%5], Subject: "Math", Status: model.StatusLogin, Timestamp: time.Now()}
		if err := mem.AppendAttendance(ctx, &e); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := s.AddClass(ctx, model.ClassSession{Day: time.Monday, Semester: "3", Start: 540, End: 600, Subject: "Math"}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.ResetAll(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if stats != (store.WipeStats{Students: 5, Attendance: 20, Timetable: 3}) {
		t.Errorf("unexpected stats %+v", stats)
	}
	students, _ := mem.ListStudents(ctx)
	entries, _ := mem.AttendanceSince(ctx, time.Time{})
	classes, _ := mem.ListClassSessions(ctx, "")
	if len(students)+len(entries)+len(classes) != 0 {
		t.Errorf("expected empty stores, got %d/%d/%d", len(students), len(entries), len(classes))
	}
	if n, _ := q.Pending(ctx); n != 1 {
		t.Fatalf("expected exactly one command, got %d", n)
	}
	cmd, _ := q.DequeueOldest(ctx)
	if cmd.Kind != model.CommandReset {
		t.Errorf("expected RESET, got %s", cmd.Kind)
	}
}

type failingPush struct{ *store.Memory }

func (failingPush) PushCommand(context.Context, *model.Command) error {
	return errors.New("queue table locked")
}

func (f failingPush) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx store.Store) error {
		return fn(failingPush{tx.(*store.Memory)})
	})
}

// A reset whose RESET command cannot be queued must not delete anything.
func TestResetAllIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s, _ := newService(failingPush{mem})
	addStudent(t, s, "R1", 1)

	if _, err := s.ResetAll(ctx); err == nil {
		t.Fatal("expected reset to fail")
	}
	if students, _ := mem.ListStudents(ctx); len(students) != 1 {
		t.Errorf("expected student to survive failed reset, got %d", len(students))
	}
}

func TestDeleteStudentIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s, _ := newService(failingPush{mem})
	st := addStudent(t, s, "R1", 1)

	if _, err := s.DeleteStudent(ctx, st.ID); err == nil {
		t.Fatal("expected delete to fail")
	}
	if _, err := mem.GetStudent(ctx, st.ID); err != nil {
		t.Errorf("expected student to survive failed delete: %v", err)
	}
}

func TestValidation(t *testing.T) {
	s, _ := newService(store.NewMemory())
	ctx := context.Background()
	bad := []model.Student{
		{RollNo: "R", Semester: "1", FingerprintID: 1},
		{Name: "N", Semester: "1", FingerprintID: 1},
		{Name: "N", RollNo: "R", FingerprintID: 1},
		{Name: "N", RollNo: "R", Semester: "1"},
	}
	for i, st := range bad {
		if _, err := s.CreateStudent(ctx, st); !errors.Is(err, ErrInvalid) {
			t.Errorf("case %d: expected ErrInvalid, got %v", i, err)
		}
	}
	if _, err := s.AddClass(ctx, model.ClassSession{Semester: "1", Subject: "X", Start: 600, End: 540}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for reversed times, got %v", err)
	}
}

func TestUpdateStudent(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(store.NewMemory())
	st := addStudent(t, s, "R1", 1)
	st.Name = "Renamed"
	st.FingerprintID = 11
	got, err := s.UpdateStudent(ctx, st)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "Renamed" || got.FingerprintID != 11 {
		t.Errorf("unexpected student %+v", got)
	}
	other := addStudent(t, s, "R2", 2)
	other.FingerprintID = 11
	if _, err := s.UpdateStudent(ctx, other); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}
