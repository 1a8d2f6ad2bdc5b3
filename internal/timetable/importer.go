package timetable

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fingerattend/internal/model"
	"fingerattend/internal/store"
)

// File is the YAML layout accepted by LoadFile:
//
//	semesters:
//	  "3":
//	    - day: Monday
//	      start: "09:00"
//	      end: "10:00"
//	      subject: Math
//	      lab: Lab 1
type File struct {
	Semesters map[string][]Entry `yaml:"semesters"`
}

type Entry struct {
	Day     string          `yaml:"day"`
	Start   model.TimeOfDay `yaml:"start"`
	End     model.TimeOfDay `yaml:"end"`
	Subject string          `yaml:"subject"`
	Lab     string          `yaml:"lab"`
}

// LoadFile parses a timetable file into class sessions.
func LoadFile(path string) ([]model.ClassSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates timetable YAML.
func Parse(data []byte) ([]model.ClassSession, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse timetable: %w", err)
	}
	var out []model.ClassSession
	for semester, entries := range f.Semesters {
		for i, e := range entries {
			day, err := model.ParseWeekday(e.Day)
			if err != nil {
				return nil, fmt.Errorf("semester %s entry %d: %w", semester, i, err)
			}
			if e.Subject == "" {
				return nil, fmt.Errorf("semester %s entry %d: subject required", semester, i)
			}
			if e.End < e.Start {
				return nil, fmt.Errorf("semester %s entry %d: end %s before start %s", semester, i, e.End, e.Start)
			}
			out = append(out, model.ClassSession{
				Day: day, Semester: semester, Start: e.Start, End: e.End, Subject: e.Subject, Resource: e.Lab,
			})
		}
	}
	return out, nil
}

// Import stores every session in one transaction and returns how many were
// written. Sessions identical to one already stored are skipped, so a file can
// be imported again without doubling the timetable. If any row fails nothing
// is kept.
func Import(ctx context.Context, st store.Store, sessions []model.ClassSession) (int, error) {
	written := 0
	err := st.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.ListClassSessions(ctx, "")
		if err != nil {
			return err
		}
		seen := make(map[sessionKey]bool, len(existing))
		for _, cs := range existing {
			seen[keyOf(cs)] = true
		}
		for i := range sessions {
			k := keyOf(sessions[i])
			if seen[k] {
				continue
			}
			if err := tx.CreateClassSession(ctx, &sessions[i]); err != nil {
				return fmt.Errorf("store %s %s %s: %w", sessions[i].Day, sessions[i].Start, sessions[i].Subject, err)
			}
			seen[k] = true
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

type sessionKey struct {
	day        time.Weekday
	semester   string
	start, end model.TimeOfDay
	subject    string
}

func keyOf(cs model.ClassSession) sessionKey {
	return sessionKey{day: cs.Day, semester: cs.Semester, start: cs.Start, end: cs.End, subject: cs.Subject}
}
