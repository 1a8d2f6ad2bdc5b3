package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ScanStatus is the direction of an attendance entry.
type ScanStatus string

const (
	StatusLogin  ScanStatus = "LOGIN"
	StatusLogout ScanStatus = "LOGOUT"
)

// Next returns the status that follows s in the alternating sequence.
func (s ScanStatus) Next() ScanStatus {
	if s == StatusLogin {
		return StatusLogout
	}
	return StatusLogin
}

// Valid reports whether s is a known status.
func (s ScanStatus) Valid() bool {
	return s == StatusLogin || s == StatusLogout
}

// CommandKind identifies a hardware-bound instruction for the sensor.
type CommandKind string

const (
	CommandEnroll CommandKind = "ENROLL"
	CommandDelete CommandKind = "DELETE"
	CommandReset  CommandKind = "RESET"
)

// Student is an enrolled identity mapped 1:1 to a sensor fingerprint slot.
type Student struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	RollNo        string    `json:"roll_no"`
	Semester      string    `json:"semester"`
	FingerprintID int       `json:"fingerprint_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttendanceEntry is an immutable scan outcome.
type AttendanceEntry struct {
	ID        int64      `json:"id"`
	StudentID int64      `json:"student_id"`
	Subject   string     `json:"subject"`
	Status    ScanStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// AttendanceRecord is an entry joined with the student it belongs to.
type AttendanceRecord struct {
	AttendanceEntry
	StudentName string `json:"student_name"`
	RollNo      string `json:"roll_no"`
	Semester    string `json:"semester"`
}

// ClassSession is one timetable row.
type ClassSession struct {
	ID       int64        `json:"id"`
	Day      time.Weekday `json:"day"`
	Semester string       `json:"semester"`
	Start    TimeOfDay    `json:"start_time"`
	End      TimeOfDay    `json:"end_time"`
	Subject  string       `json:"subject"`
	Resource string       `json:"lab_name"`
}

// MarshalJSON writes Day as its English name, the form the timetable
// endpoints accept.
func (c ClassSession) MarshalJSON() ([]byte, error) {
	type plain ClassSession
	return json.Marshal(struct {
		plain
		Day string `json:"day"`
	}{plain(c), c.Day.String()})
}

func (c *ClassSession) UnmarshalJSON(b []byte) error {
	type plain ClassSession
	var v struct {
		plain
		Day string `json:"day"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	day, err := ParseWeekday(v.Day)
	if err != nil {
		return err
	}
	*c = ClassSession(v.plain)
	c.Day = day
	return nil
}

// Covers reports whether clock falls inside [Start, End].
func (c ClassSession) Covers(clock TimeOfDay) bool {
	return c.Start <= clock && clock <= c.End
}

// Command is a pending instruction waiting to be polled by the device.
type Command struct {
	ID        int64       `json:"id"`
	Kind      CommandKind `json:"kind"`
	Payload   *string     `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// PayloadInt returns the payload as an integer when it holds one.
func (c Command) PayloadInt() (int, bool) {
	if c.Payload == nil {
		return 0, false
	}
	n, err := strconv.Atoi(*c.Payload)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Admin is an operator account for the management API.
type Admin struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
