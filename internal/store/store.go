package store

import (
	"context"
	"errors"
	"time"

	"fingerattend/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("store: conflict")
)

// Students persists student identities.
type Students interface {
	CreateStudent(ctx context.Context, st *model.Student) error
	UpdateStudent(ctx context.Context, st model.Student) error
	GetStudent(ctx context.Context, id int64) (model.Student, error)
	StudentByFingerprint(ctx context.Context, fingerprintID int) (model.Student, error)
	ListStudents(ctx context.Context) ([]model.Student, error)
	// DeleteStudent removes the student and every attendance entry it owns.
	DeleteStudent(ctx context.Context, id int64) error
}

// AttendanceFilter narrows ListAttendance. Zero values do not filter.
type AttendanceFilter struct {
	From    time.Time
	To      time.Time
	Subject string // case-insensitive substring
	Search  string // case-insensitive substring of name or roll number
	Limit   int
}

// Attendance persists the append-only scan log.
type Attendance interface {
	AppendAttendance(ctx context.Context, e *model.AttendanceEntry) error
	// LastAttendance returns the newest entry for the student and subject at
	// or after since, or nil when there is none.
	LastAttendance(ctx context.Context, studentID int64, subject string, since time.Time) (*model.AttendanceEntry, error)
	ListAttendance(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error)
	AttendanceSince(ctx context.Context, since time.Time) ([]model.AttendanceEntry, error)
	LatestAttendanceID(ctx context.Context) (int64, error)
	CountBySemester(ctx context.Context) (map[string]int, error)
}

// Timetable persists scheduled class sessions.
type Timetable interface {
	CreateClassSession(ctx context.Context, cs *model.ClassSession) error
	// ListClassSessions returns every session, or only those of semester when
	// it is non-empty.
	ListClassSessions(ctx context.Context, semester string) ([]model.ClassSession, error)
	// ClassSessionsOn returns the sessions of one weekday for a semester,
	// ordered by start time then id.
	ClassSessionsOn(ctx context.Context, day time.Weekday, semester string) ([]model.ClassSession, error)
	DeleteClassSession(ctx context.Context, id int64) error
}

// Commands persists the pending device command queue.
type Commands interface {
	PushCommand(ctx context.Context, cmd *model.Command) error
	// PopOldestCommand removes and returns the command with the smallest
	// (CreatedAt, ID), or nil when the queue is empty. The check and the
	// removal are one atomic step.
	PopOldestCommand(ctx context.Context) (*model.Command, error)
	CountCommands(ctx context.Context) (int, error)
}

// Admins persists operator accounts.
type Admins interface {
	CreateAdmin(ctx context.Context, a *model.Admin) error
	AdminByUsername(ctx context.Context, username string) (model.Admin, error)
}

// WipeStats reports how many rows Wipe removed.
type WipeStats struct {
	Students   int `json:"students"`
	Attendance int `json:"attendance"`
	Timetable  int `json:"timetable"`
}

// Store is the full persistence contract.
type Store interface {
	Students
	Attendance
	Timetable
	Commands
	Admins

	// Wipe deletes all students, attendance entries and class sessions.
	// Pending commands and admins are kept.
	Wipe(ctx context.Context) (WipeStats, error)

	// LockStudent serializes writers on one student until the enclosing
	// transaction ends. Outside WithTx it is a no-op.
	LockStudent(ctx context.Context, studentID int64) error

	// WithTx runs fn against a transactional view of the store. If fn
	// returns an error nothing it wrote is kept.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
