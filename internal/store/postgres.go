package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fingerattend/internal/model"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres implements Store with raw SQL over database/sql.
type Postgres struct {
	db *sql.DB
	q  queryer
	tx bool
}

// NewPostgres creates a store on an open pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// Close closes the pool. It is a no-op on a transactional view.
func (p *Postgres) Close() error {
	if p.tx || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// WithTx runs fn in a single transaction. Nested calls join the outer one.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if p.tx {
		return fn(p)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Postgres{db: p.db, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LockStudent takes a transaction-scoped advisory lock keyed by student id.
func (p *Postgres) LockStudent(ctx context.Context, studentID int64) error {
	if !p.tx {
		return nil
	}
	if _, err := p.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, studentID); err != nil {
		return fmt.Errorf("lock student %d: %w", studentID, err)
	}
	return nil
}

// mapErr converts driver errors into the package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func rowsAffected(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// -------- Students --------

const studentColumns = `id, name, roll_no, semester, fingerprint_id, created_at`

func scanStudent(row interface{ Scan(...any) error }) (model.Student, error) {
	var st model.Student
	err := row.Scan(&st.ID, &st.Name, &st.RollNo, &st.Semester, &st.FingerprintID, &st.CreatedAt)
	return st, err
}

func (p *Postgres) CreateStudent(ctx context.Context, st *model.Student) error {
	row := p.q.QueryRowContext(ctx, `
		INSERT INTO students (name, roll_no, semester, fingerprint_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, st.Name, st.RollNo, st.Semester, st.FingerprintID)
	return mapErr(row.Scan(&st.ID, &st.CreatedAt))
}

func (p *Postgres) UpdateStudent(ctx context.Context, st model.Student) error {
	return rowsAffected(p.q.ExecContext(ctx, `
		UPDATE students
		SET name = $2, roll_no = $3, semester = $4, fingerprint_id = $5
		WHERE id = $1
	`, st.ID, st.Name, st.RollNo, st.Semester, st.FingerprintID))
}

func (p *Postgres) GetStudent(ctx context.Context, id int64) (model.Student, error) {
	st, err := scanStudent(p.q.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	return st, mapErr(err)
}

func (p *Postgres) StudentByFingerprint(ctx context.Context, fingerprintID int) (model.Student, error) {
	st, err := scanStudent(p.q.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE fingerprint_id = $1`, fingerprintID))
	return st, mapErr(err)
}

func (p *Postgres) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// DeleteStudent relies on ON DELETE CASCADE for attendance entries.
func (p *Postgres) DeleteStudent(ctx context.Context, id int64) error {
	return rowsAffected(p.q.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id))
}

// -------- Attendance --------

func (p *Postgres) AppendAttendance(ctx context.Context, e *model.AttendanceEntry) error {
	if !e.Status.Valid() {
		return fmt.Errorf("invalid attendance status %q", e.Status)
	}
	row := p.q.QueryRowContext(ctx, `
		INSERT INTO attendance_entries (student_id, subject, status, occurred_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, e.StudentID, e.Subject, string(e.Status), e.Timestamp)
	return mapErr(row.Scan(&e.ID))
}

func (p *Postgres) LastAttendance(ctx context.Context, studentID int64, subject string, since time.Time) (*model.AttendanceEntry, error) {
	row := p.q.QueryRowContext(ctx, `
		SELECT id, student_id, subject, status, occurred_at
		FROM attendance_entries
		WHERE student_id = $1 AND subject = $2 AND occurred_at >= $3
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1
	`, studentID, subject, since)
	var e model.AttendanceEntry
	if err := row.Scan(&e.ID, &e.StudentID, &e.Subject, &e.Status, &e.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) ListAttendance(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error) {
	query := `
		SELECT a.id, a.student_id, a.subject, a.status, a.occurred_at, s.name, s.roll_no, s.semester
		FROM attendance_entries a
		JOIN students s ON s.id = a.student_id`
	args := []any{}
	clauses := []string{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "a.occurred_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "a.occurred_at < "+arg(f.To))
	}
	if f.Subject != "" {
		clauses = append(clauses, "a.subject ILIKE "+arg("%"+f.Subject+"%"))
	}
	if f.Search != "" {
		pattern := arg("%" + f.Search + "%")
		clauses = append(clauses, "(s.name ILIKE "+pattern+" OR s.roll_no ILIKE "+pattern+")")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.occurred_at DESC, a.id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.AttendanceRecord
	for rows.Next() {
		var r model.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.StudentID, &r.Subject, &r.Status, &r.Timestamp, &r.StudentName, &r.RollNo, &r.Semester); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (p *Postgres) AttendanceSince(ctx context.Context, since time.Time) ([]model.AttendanceEntry, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, student_id, subject, status, occurred_at
		FROM attendance_entries
		WHERE occurred_at >= $1
		ORDER BY occurred_at, id
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.AttendanceEntry
	for rows.Next() {
		var e model.AttendanceEntry
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Subject, &e.Status, &e.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (p *Postgres) LatestAttendanceID(ctx context.Context) (int64, error) {
	var id int64
	err := p.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM attendance_entries`).Scan(&id)
	return id, err
}

func (p *Postgres) CountBySemester(ctx context.Context) (map[string]int, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT s.semester, COUNT(a.id)
		FROM attendance_entries a
		JOIN students s ON s.id = a.student_id
		GROUP BY s.semester
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var sem string
		var n int
		if err := rows.Scan(&sem, &n); err != nil {
			return nil, err
		}
		res[sem] = n
	}
	return res, rows.Err()
}

// -------- Timetable --------

func scanClassSession(row interface{ Scan(...any) error }) (model.ClassSession, error) {
	var (
		cs         model.ClassSession
		day        int
		start, end string
	)
	if err := row.Scan(&cs.ID, &day, &cs.Semester, &start, &end, &cs.Subject, &cs.Resource); err != nil {
		return cs, err
	}
	cs.Day = time.Weekday(day)
	var err error
	if cs.Start, err = model.ParseTimeOfDay(start); err != nil {
		return cs, fmt.Errorf("class session %d: %w", cs.ID, err)
	}
	if cs.End, err = model.ParseTimeOfDay(end); err != nil {
		return cs, fmt.Errorf("class session %d: %w", cs.ID, err)
	}
	return cs, nil
}

func (p *Postgres) listSessions(ctx context.Context, query string, args ...any) ([]model.ClassSession, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.ClassSession
	for rows.Next() {
		cs, err := scanClassSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cs)
	}
	return res, rows.Err()
}

func (p *Postgres) CreateClassSession(ctx context.Context, cs *model.ClassSession) error {
	row := p.q.QueryRowContext(ctx, `
		INSERT INTO class_sessions (day, semester, start_time, end_time, subject, resource)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, int(cs.Day), cs.Semester, cs.Start.String(), cs.End.String(), cs.Subject, cs.Resource)
	return mapErr(row.Scan(&cs.ID))
}

const sessionColumns = `id, day, semester, start_time, end_time, subject, resource`

func (p *Postgres) ListClassSessions(ctx context.Context, semester string) ([]model.ClassSession, error) {
	if semester == "" {
		return p.listSessions(ctx, `SELECT `+sessionColumns+` FROM class_sessions ORDER BY day, start_time, id`)
	}
	return p.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE semester = $1
		ORDER BY day, start_time, id
	`, semester)
}

// ClassSessionsOn orders by the stored zero-padded start time; times are
// canonicalized on write so text order equals clock order.
func (p *Postgres) ClassSessionsOn(ctx context.Context, day time.Weekday, semester string) ([]model.ClassSession, error) {
	return p.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE day = $1 AND semester = $2
		ORDER BY start_time, id
	`, int(day), semester)
}

func (p *Postgres) DeleteClassSession(ctx context.Context, id int64) error {
	return rowsAffected(p.q.ExecContext(ctx, `DELETE FROM class_sessions WHERE id = $1`, id))
}

// -------- Commands --------

func (p *Postgres) PushCommand(ctx context.Context, cmd *model.Command) error {
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	row := p.q.QueryRowContext(ctx, `
		INSERT INTO pending_commands (kind, payload, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, string(cmd.Kind), cmd.Payload, cmd.CreatedAt)
	return mapErr(row.Scan(&cmd.ID))
}

// PopOldestCommand deletes and returns the head of the queue in one
// statement. SKIP LOCKED lets concurrent pollers take different rows
// instead of blocking on, and then both returning, the same one.
func (p *Postgres) PopOldestCommand(ctx context.Context) (*model.Command, error) {
	row := p.q.QueryRowContext(ctx, `
		DELETE FROM pending_commands
		WHERE id = (
			SELECT id FROM pending_commands
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, created_at
	`)
	var (
		cmd     model.Command
		payload sql.NullString
	)
	if err := row.Scan(&cmd.ID, &cmd.Kind, &payload, &cmd.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if payload.Valid {
		cmd.Payload = &payload.String
	}
	return &cmd, nil
}

func (p *Postgres) CountCommands(ctx context.Context) (int, error) {
	var n int
	err := p.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_commands`).Scan(&n)
	return n, err
}

// -------- Admins --------

func (p *Postgres) CreateAdmin(ctx context.Context, a *model.Admin) error {
	row := p.q.QueryRowContext(ctx, `
		INSERT INTO admins (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, a.Username, a.PasswordHash)
	return mapErr(row.Scan(&a.ID, &a.CreatedAt))
}

func (p *Postgres) AdminByUsername(ctx context.Context, username string) (model.Admin, error) {
	var a model.Admin
	err := p.q.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM admins WHERE username = $1
	`, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt)
	return a, mapErr(err)
}

// -------- Bulk --------

func (p *Postgres) Wipe(ctx context.Context) (WipeStats, error) {
	var stats WipeStats
	steps := []struct {
		query string
		n     *int
	}{
		{`DELETE FROM attendance_entries`, &stats.Attendance},
		{`DELETE FROM students`, &stats.Students},
		{`DELETE FROM class_sessions`, &stats.Timetable},
	}
	for _, s := range steps {
		res, err := p.q.ExecContext(ctx, s.query)
		if err != nil {
			return WipeStats{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return WipeStats{}, err
		}
		*s.n = int(n)
	}
	return stats, nil
}
