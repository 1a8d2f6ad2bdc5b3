// Package timetable answers which class is running for a semester at a given
// moment.
package timetable

import (
	"context"
	"fmt"
	"time"

	"fingerattend/internal/model"
)

// Source lists the sessions of one weekday for a semester, ordered by start
// time then id.
type Source interface {
	ClassSessionsOn(ctx context.Context, day time.Weekday, semester string) ([]model.ClassSession, error)
}

// Resolver finds the active class session. Wall-clock values are taken in
// loc, the timezone the timetable is written in.
type Resolver struct {
	src Source
	loc *time.Location
}

func NewResolver(src Source, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{src: src, loc: loc}
}

// Location returns the timezone of the timetable.
func (r *Resolver) Location() *time.Location { return r.loc }

// FindActive returns the session of semester whose [start, end] window
// contains now, or nil if none does. Sessions of a semester and day are not
// supposed to overlap; if they do, the one with the earliest start (then the
// lowest id) wins.
func (r *Resolver) FindActive(ctx context.Context, semester string, now time.Time) (*model.ClassSession, error) {
	local := now.In(r.loc)
	sessions, err := r.src.ClassSessionsOn(ctx, local.Weekday(), semester)
	if err != nil {
		return nil, fmt.Errorf("load sessions for %s: %w", local.Weekday(), err)
	}
	clock := model.ClockOf(local)
	for i := range sessions {
		if sessions[i].Covers(clock) {
			found := sessions[i]
			return &found, nil
		}
	}
	return nil, nil
}
