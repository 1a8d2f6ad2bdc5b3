package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	roll_no        TEXT NOT NULL UNIQUE,
	semester       TEXT NOT NULL DEFAULT '1',
	fingerprint_id INTEGER NOT NULL UNIQUE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance_entries (
	id          BIGSERIAL PRIMARY KEY,
	student_id  BIGINT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	subject     TEXT NOT NULL,
	status      TEXT NOT NULL CHECK (status IN ('LOGIN', 'LOGOUT')),
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attendance_student_subject
	ON attendance_entries (student_id, subject, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_attendance_occurred
	ON attendance_entries (occurred_at);

CREATE TABLE IF NOT EXISTS class_sessions (
	id         BIGSERIAL PRIMARY KEY,
	day        SMALLINT NOT NULL CHECK (day BETWEEN 0 AND 6),
	semester   TEXT NOT NULL DEFAULT '1',
	start_time TEXT NOT NULL,
	end_time   TEXT NOT NULL,
	subject    TEXT NOT NULL,
	resource   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_class_sessions_day_semester
	ON class_sessions (day, semester, start_time);

CREATE TABLE IF NOT EXISTS pending_commands (
	id         BIGSERIAL PRIMARY KEY,
	kind       TEXT NOT NULL CHECK (kind IN ('ENROLL', 'DELETE', 'RESET')),
	payload    TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_commands_order
	ON pending_commands (created_at, id);

CREATE TABLE IF NOT EXISTS admins (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// DropAll removes every table owned by the service.
func DropAll(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		DROP TABLE IF EXISTS attendance_entries, class_sessions, pending_commands, students, admins CASCADE
	`)
	if err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return nil
}
