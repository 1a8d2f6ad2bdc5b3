// Package roster holds the operator-side writes: students, the timetable and
// the full reset. Writes that affect the physical sensor queue the matching
// device command in the same transaction.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fingerattend/internal/command"
	"fingerattend/internal/metrics"
	"fingerattend/internal/model"
	"fingerattend/internal/store"
)

// ErrInvalid wraps validation failures of operator input.
var ErrInvalid = errors.New("invalid input")

type Service struct {
	store   store.Store
	queue   *command.Queue
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewService(st store.Store, q *command.Queue, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, queue: q, logger: logger, metrics: m}
}

func validateStudent(st model.Student) error {
	switch {
	case strings.TrimSpace(st.Name) == "":
		return fmt.Errorf("%w: name required", ErrInvalid)
	case strings.TrimSpace(st.RollNo) == "":
		return fmt.Errorf("%w: roll number required", ErrInvalid)
	case strings.TrimSpace(st.Semester) == "":
		return fmt.Errorf("%w: semester required", ErrInvalid)
	case st.FingerprintID <= 0:
		return fmt.Errorf("%w: fingerprint id must be positive", ErrInvalid)
	}
	return nil
}

func (s *Service) CreateStudent(ctx context.Context, st model.Student) (model.Student, error) {
	if err := validateStudent(st); err != nil {
		return model.Student{}, err
	}
	if err := s.store.CreateStudent(ctx, &st); err != nil {
		return model.Student{}, err
	}
	s.logger.Info("student created", zap.Int64("student_id", st.ID), zap.Int("fingerprint_id", st.FingerprintID))
	return st, nil
}

// UpdateStudent changes a student's details. Changing the fingerprint id does
// not touch the sensor; the operator is expected to have enrolled the new
// finger already.
func (s *Service) UpdateStudent(ctx context.Context, st model.Student) (model.Student, error) {
	if err := validateStudent(st); err != nil {
		return model.Student{}, err
	}
	if err := s.store.UpdateStudent(ctx, st); err != nil {
		return model.Student{}, err
	}
	return s.store.GetStudent(ctx, st.ID)
}

func (s *Service) ListStudents(ctx context.Context) ([]model.Student, error) {
	return s.store.ListStudents(ctx)
}

// DeleteStudent removes the student with its attendance entries and queues a
// DELETE for its fingerprint slot so the sensor forgets it too. Either all of
// that commits or none of it does.
func (s *Service) DeleteStudent(ctx context.Context, id int64) (model.Student, error) {
	var deleted model.Student
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		st, err := tx.GetStudent(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteStudent(ctx, id); err != nil {
			return fmt.Errorf("delete student %d: %w", id, err)
		}
		payload := strconv.Itoa(st.FingerprintID)
		if _, err := s.queue.Bind(tx).Enqueue(ctx, model.CommandDelete, &payload); err != nil {
			return err
		}
		deleted = st
		return nil
	})
	if err != nil {
		return model.Student{}, err
	}
	s.metrics.CommandEnqueued(string(model.CommandDelete))
	s.logger.Info("student deleted; sensor deletion queued",
		zap.Int64("student_id", deleted.ID), zap.Int("fingerprint_id", deleted.FingerprintID))
	return deleted, nil
}

// AddClass stores a timetable row. Overlaps with existing rows are not
// checked.
func (s *Service) AddClass(ctx context.Context, cs model.ClassSession) (model.ClassSession, error) {
	switch {
	case strings.TrimSpace(cs.Subject) == "":
		return model.ClassSession{}, fmt.Errorf("%w: subject required", ErrInvalid)
	case strings.TrimSpace(cs.Semester) == "":
		return model.ClassSession{}, fmt.Errorf("%w: semester required", ErrInvalid)
	case cs.End < cs.Start:
		return model.ClassSession{}, fmt.Errorf("%w: end %s is before start %s", ErrInvalid, cs.End, cs.Start)
	}
	if err := s.store.CreateClassSession(ctx, &cs); err != nil {
		return model.ClassSession{}, err
	}
	return cs, nil
}

func (s *Service) ListClasses(ctx context.Context, semester string) ([]model.ClassSession, error) {
	return s.store.ListClassSessions(ctx, semester)
}

func (s *Service) DeleteClass(ctx context.Context, id int64) error {
	return s.store.DeleteClassSession(ctx, id)
}

// ResetAll wipes students, attendance and the timetable and queues one RESET
// so the sensor clears its templates. Nothing is deleted unless the RESET is
// queued as well.
func (s *Service) ResetAll(ctx context.Context) (store.WipeStats, error) {
	var stats store.WipeStats
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if stats, err = tx.Wipe(ctx); err != nil {
			return fmt.Errorf("wipe: %w", err)
		}
		_, err = s.queue.Bind(tx).Enqueue(ctx, model.CommandReset, nil)
		return err
	})
	if err != nil {
		s.logger.Error("system reset failed", zap.Error(err))
		return store.WipeStats{}, err
	}
	s.metrics.CommandEnqueued(string(model.CommandReset))
	s.logger.Warn("system reset",
		zap.Int("students", stats.Students),
		zap.Int("attendance", stats.Attendance),
		zap.Int("timetable", stats.Timetable))
	return stats, nil
}
