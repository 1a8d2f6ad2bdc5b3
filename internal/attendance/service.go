package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fingerattend/internal/clock"
	"fingerattend/internal/metrics"
	"fingerattend/internal/model"
	"fingerattend/internal/queue"
	"fingerattend/internal/store"
	"fingerattend/internal/timetable"
)

// Result classifies a scan. Only ResultSuccess writes an entry.
type Result string

const (
	ResultSuccess         Result = "success"
	ResultStudentNotFound Result = "student_not_found"
	ResultNoActiveClass   Result = "no_active_class"
)

// Outcome is what the device gets back for a scan.
type Outcome struct {
	Result      Result           `json:"status"`
	StudentName string           `json:"student_name,omitempty"`
	Subject     string           `json:"subject,omitempty"`
	Status      model.ScanStatus `json:"scan_type,omitempty"`
	EntryID     int64            `json:"entry_id,omitempty"`
}

// Message is the short text shown on the device LCD.
func (o Outcome) Message() string {
	switch o.Result {
	case ResultStudentNotFound:
		return "Student not found"
	case ResultNoActiveClass:
		return "No Class"
	default:
		return string(o.Status) + " Success"
	}
}

// ScanEvent is the body of a scan.recorded event.
type ScanEvent struct {
	EntryID     int64            `json:"entry_id"`
	StudentID   int64            `json:"student_id"`
	StudentName string           `json:"student_name"`
	RollNo      string           `json:"roll_no"`
	Subject     string           `json:"subject"`
	Status      model.ScanStatus `json:"status"`
	At          time.Time        `json:"at"`
}

// Service turns fingerprint scans into alternating LOGIN/LOGOUT entries and
// serves the dashboard reads over the attendance log.
type Service struct {
	store     store.Store
	resolver  *timetable.Resolver
	locks     *keyedMutex
	clock     clock.Clock
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewService(st store.Store, resolver *timetable.Resolver, clk clock.Clock, pub queue.Publisher, logger *zap.Logger, m *metrics.Metrics) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if pub == nil {
		pub = queue.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     st,
		resolver:  resolver,
		locks:     newKeyedMutex(),
		clock:     clk,
		publisher: pub,
		logger:    logger,
		metrics:   m,
	}
}

// startOfDay returns local midnight of t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RecordScan handles one fingerprint match reported by the device.
//
// Scans of the same student are serialized, in process by a keyed mutex and
// across processes by the store's per-student transaction lock, so the
// read-latest-then-append step cannot interleave and the LOGIN/LOGOUT
// sequence for a subject and day stays alternating.
func (s *Service) RecordScan(ctx context.Context, fingerprintID int) (Outcome, error) {
	now := s.clock.Now().In(s.resolver.Location())

	student, err := s.store.StudentByFingerprint(ctx, fingerprintID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("scan for unknown fingerprint", zap.Int("fingerprint_id", fingerprintID))
		s.metrics.Scan(string(ResultStudentNotFound), "")
		return Outcome{Result: ResultStudentNotFound}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup fingerprint %d: %w", fingerprintID, err)
	}

	session, err := s.resolver.FindActive(ctx, student.Semester, now)
	if err != nil {
		return Outcome{}, err
	}
	if session == nil {
		s.logger.Info("scan outside any class",
			zap.Int64("student_id", student.ID),
			zap.String("semester", student.Semester),
			zap.String("day", now.Weekday().String()),
			zap.String("clock", model.ClockOf(now).String()))
		s.metrics.Scan(string(ResultNoActiveClass), "")
		return Outcome{Result: ResultNoActiveClass, StudentName: student.Name}, nil
	}

	unlock := s.locks.Lock(student.ID)
	defer unlock()

	entry := model.AttendanceEntry{StudentID: student.ID, Subject: session.Subject}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.LockStudent(ctx, student.ID); err != nil {
			return err
		}
		// Stamped under the lock so entry order matches commit order.
		entry.Timestamp = s.clock.Now().In(s.resolver.Location())
		last, err := tx.LastAttendance(ctx, student.ID, session.Subject, startOfDay(now))
		if err != nil {
			return fmt.Errorf("last attendance: %w", err)
		}
		entry.Status = model.StatusLogin
		if last != nil {
			entry.Status = last.Status.Next()
		}
		if err := tx.AppendAttendance(ctx, &entry); err != nil {
			return fmt.Errorf("append attendance: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("record scan failed", zap.Int64("student_id", student.ID), zap.Error(err))
		return Outcome{}, err
	}

	s.metrics.Scan(string(ResultSuccess), string(entry.Status))
	s.logger.Info("attendance recorded",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("student_id", student.ID),
		zap.String("subject", entry.Subject),
		zap.String("status", string(entry.Status)))
	s.publish(ctx, ScanEvent{
		EntryID:     entry.ID,
		StudentID:   student.ID,
		StudentName: student.Name,
		RollNo:      student.RollNo,
		Subject:     entry.Subject,
		Status:      entry.Status,
		At:          entry.Timestamp,
	})

	return Outcome{
		Result:      ResultSuccess,
		StudentName: student.Name,
		Subject:     session.Subject,
		Status:      entry.Status,
		EntryID:     entry.ID,
	}, nil
}

func (s *Service) publish(ctx context.Context, evt ScanEvent) {
	msg, err := queue.NewMessage(queue.TypeScanRecorded, evt.At, evt)
	if err == nil {
		err = s.publisher.Publish(ctx, msg)
	}
	if err != nil {
		s.logger.Warn("publish scan event failed", zap.Int64("entry_id", evt.EntryID), zap.Error(err))
	}
}
