package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fingerattend/internal/model"
)

type memState struct {
	seq        int64
	students   map[int64]model.Student
	attendance []model.AttendanceEntry
	sessions   map[int64]model.ClassSession
	commands   []model.Command
	admins     map[string]model.Admin
}

func newMemState() *memState {
	return &memState{
		students: map[int64]model.Student{},
		sessions: map[int64]model.ClassSession{},
		admins:   map[string]model.Admin{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:        s.seq,
		students:   make(map[int64]model.Student, len(s.students)),
		attendance: append([]model.AttendanceEntry(nil), s.attendance...),
		sessions:   make(map[int64]model.ClassSession, len(s.sessions)),
		commands:   append([]model.Command(nil), s.commands...),
		admins:     make(map[string]model.Admin, len(s.admins)),
	}
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.admins {
		c.admins[k] = v
	}
	return c
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

// Memory is a Store held in process memory, used for development and tests.
// All operations are serialized by one mutex, so LockStudent has nothing
// left to do.
type Memory struct {
	mu   *sync.Mutex
	st   *memState
	inTx bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{mu: &sync.Mutex{}, st: newMemState()}
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) Close() error { return nil }

// WithTx holds the store lock for the whole of fn and restores the previous
// state if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	if err := fn(&Memory{mu: m.mu, st: m.st, inTx: true}); err != nil {
		*m.st = *snapshot
		return err
	}
	return nil
}

func (m *Memory) LockStudent(context.Context, int64) error { return nil }

// -------- Students --------

func (m *Memory) uniqueStudent(st model.Student) error {
	for _, other := range m.st.students {
		if other.ID == st.ID {
			continue
		}
		if other.RollNo == st.RollNo {
			return fmt.Errorf("%w: students_roll_no_key", ErrConflict)
		}
		if other.FingerprintID == st.FingerprintID {
			return fmt.Errorf("%w: students_fingerprint_id_key", ErrConflict)
		}
	}
	return nil
}

func (m *Memory) CreateStudent(_ context.Context, st *model.Student) error {
	defer m.lock()()
	st.ID = 0
	if err := m.uniqueStudent(*st); err != nil {
		return err
	}
	st.ID = m.st.nextID()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	m.st.students[st.ID] = *st
	return nil
}

func (m *Memory) UpdateStudent(_ context.Context, st model.Student) error {
	defer m.lock()()
	old, ok := m.st.students[st.ID]
	if !ok {
		return ErrNotFound
	}
	if err := m.uniqueStudent(st); err != nil {
		return err
	}
	st.CreatedAt = old.CreatedAt
	m.st.students[st.ID] = st
	return nil
}

func (m *Memory) GetStudent(_ context.Context, id int64) (model.Student, error) {
	defer m.lock()()
	st, ok := m.st.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) StudentByFingerprint(_ context.Context, fingerprintID int) (model.Student, error) {
	defer m.lock()()
	for _, st := range m.st.students {
		if st.FingerprintID == fingerprintID {
			return st, nil
		}
	}
	return model.Student{}, ErrNotFound
}

func (m *Memory) ListStudents(context.Context) ([]model.Student, error) {
	defer m.lock()()
	res := make([]model.Student, 0, len(m.st.students))
	for _, st := range m.st.students {
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *Memory) DeleteStudent(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.st.students[id]; !ok {
		return ErrNotFound
	}
	delete(m.st.students, id)
	kept := m.st.attendance[:0]
	for _, e := range m.st.attendance {
		if e.StudentID != id {
			kept = append(kept, e)
		}
	}
	m.st.attendance = kept
	return nil
}

// -------- Attendance --------

func (m *Memory) AppendAttendance(_ context.Context, e *model.AttendanceEntry) error {
	defer m.lock()()
	if !e.Status.Valid() {
		return fmt.Errorf("invalid attendance status %q", e.Status)
	}
	if _, ok := m.st.students[e.StudentID]; !ok {
		return fmt.Errorf("attendance for unknown student %d: %w", e.StudentID, ErrNotFound)
	}
	e.ID = m.st.nextID()
	m.st.attendance = append(m.st.attendance, *e)
	return nil
}

// newer reports whether a sorts after b in (timestamp, id) order.
func newer(a, b model.AttendanceEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

func (m *Memory) LastAttendance(_ context.Context, studentID int64, subject string, since time.Time) (*model.AttendanceEntry, error) {
	defer m.lock()()
	var last *model.AttendanceEntry
	for i := range m.st.attendance {
		e := m.st.attendance[i]
		if e.StudentID != studentID || e.Subject != subject || e.Timestamp.Before(since) {
			continue
		}
		if last == nil || newer(e, *last) {
			found := e
			last = &found
		}
	}
	return last, nil
}

func (m *Memory) ListAttendance(_ context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error) {
	defer m.lock()()
	subject := strings.ToLower(f.Subject)
	search := strings.ToLower(f.Search)
	var res []model.AttendanceRecord
	for _, e := range m.st.attendance {
		st := m.st.students[e.StudentID]
		switch {
		case !f.From.IsZero() && e.Timestamp.Before(f.From):
			continue
		case !f.To.IsZero() && !e.Timestamp.Before(f.To):
			continue
		case subject != "" && !strings.Contains(strings.ToLower(e.Subject), subject):
			continue
		case search != "" && !strings.Contains(strings.ToLower(st.Name), search) &&
			!strings.Contains(strings.ToLower(st.RollNo), search):
			continue
		}
		res = append(res, model.AttendanceRecord{
			AttendanceEntry: e,
			StudentName:     st.Name,
			RollNo:          st.RollNo,
			Semester:        st.Semester,
		})
	}
	sort.Slice(res, func(i, j int) bool { return newer(res[i].AttendanceEntry, res[j].AttendanceEntry) })
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (m *Memory) AttendanceSince(_ context.Context, since time.Time) ([]model.AttendanceEntry, error) {
	defer m.lock()()
	var res []model.AttendanceEntry
	for _, e := range m.st.attendance {
		if !e.Timestamp.Before(since) {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return newer(res[j], res[i]) })
	return res, nil
}

func (m *Memory) LatestAttendanceID(context.Context) (int64, error) {
	defer m.lock()()
	var id int64
	for _, e := range m.st.attendance {
		if e.ID > id {
			id = e.ID
		}
	}
	return id, nil
}

func (m *Memory) CountBySemester(context.Context) (map[string]int, error) {
	defer m.lock()()
	res := map[string]int{}
	for _, e := range m.st.attendance {
		if st, ok := m.st.students[e.StudentID]; ok {
			res[st.Semester]++
		}
	}
	return res, nil
}

// -------- Timetable --------

func (m *Memory) CreateClassSession(_ context.Context, cs *model.ClassSession) error {
	defer m.lock()()
	cs.ID = m.st.nextID()
	m.st.sessions[cs.ID] = *cs
	return nil
}

func (m *Memory) sortedSessions(keep func(model.ClassSession) bool) []model.ClassSession {
	var res []model.ClassSession
	for _, cs := range m.st.sessions {
		if keep(cs) {
			res = append(res, cs)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})
	return res
}

func (m *Memory) ListClassSessions(_ context.Context, semester string) ([]model.ClassSession, error) {
	defer m.lock()()
	return m.sortedSessions(func(cs model.ClassSession) bool {
		return semester == "" || cs.Semester == semester
	}), nil
}

func (m *Memory) ClassSessionsOn(_ context.Context, day time.Weekday, semester string) ([]model.ClassSession, error) {
	defer m.lock()()
	return m.sortedSessions(func(cs model.ClassSession) bool {
		return cs.Day == day && cs.Semester == semester
	}), nil
}

func (m *Memory) DeleteClassSession(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.st.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.st.sessions, id)
	return nil
}

// -------- Commands --------

func (m *Memory) PushCommand(_ context.Context, cmd *model.Command) error {
	defer m.lock()()
	cmd.ID = m.st.nextID()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	m.st.commands = append(m.st.commands, *cmd)
	return nil
}

func (m *Memory) PopOldestCommand(context.Context) (*model.Command, error) {
	defer m.lock()()
	if len(m.st.commands) == 0 {
		return nil, nil
	}
	oldest := 0
	for i, c := range m.st.commands[1:] {
		o := m.st.commands[oldest]
		if c.CreatedAt.Before(o.CreatedAt) || (c.CreatedAt.Equal(o.CreatedAt) && c.ID < o.ID) {
			oldest = i + 1
		}
	}
	cmd := m.st.commands[oldest]
	m.st.commands = append(m.st.commands[:oldest:oldest], m.st.commands[oldest+1:]...)
	return &cmd, nil
}

func (m *Memory) CountCommands(context.Context) (int, error) {
	defer m.lock()()
	return len(m.st.commands), nil
}

// -------- Admins --------

func (m *Memory) CreateAdmin(_ context.Context, a *model.Admin) error {
	defer m.lock()()
	if _, ok := m.st.admins[a.Username]; ok {
		return fmt.Errorf("%w: admins_username_key", ErrConflict)
	}
	a.ID = m.st.nextID()
	a.CreatedAt = time.Now().UTC()
	m.st.admins[a.Username] = *a
	return nil
}

func (m *Memory) AdminByUsername(_ context.Context, username string) (model.Admin, error) {
	defer m.lock()()
	a, ok := m.st.admins[username]
	if !ok {
		return model.Admin{}, ErrNotFound
	}
	return a, nil
}

// -------- Bulk --------

func (m *Memory) Wipe(context.Context) (WipeStats, error) {
	defer m.lock()()
	stats := WipeStats{
		Students:   len(m.st.students),
		Attendance: len(m.st.attendance),
		Timetable:  len(m.st.sessions),
	}
	m.st.students = map[int64]model.Student{}
	m.st.attendance = nil
	m.st.sessions = map[int64]model.ClassSession{}
	return stats, nil
}
