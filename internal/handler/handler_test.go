package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fingerattend/internal/attendance"
	"fingerattend/internal/auth"
	"fingerattend/internal/clock"
	"fingerattend/internal/command"
	"fingerattend/internal/device"
	"fingerattend/internal/model"
	"fingerattend/internal/queue"
	"fingerattend/internal/registration"
	"fingerattend/internal/roster"
	"fingerattend/internal/store"
	"fingerattend/internal/timetable"
)

const (
	testKey    = "handler-test-key"
	testIssuer = "fingerattend-test"
)

type env struct {
	router *gin.Engine
	mem    *store.Memory
	clk    *clock.Fake
	events *queue.InMemory
	token  string
}

// Monday 2026-03-02 09:15 UTC, Math 09:00-10:00 for semester 3.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	mem := store.NewMemory()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC))
	events := queue.NewInMemory(64)

	hash, err := auth.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.CreateAdmin(ctx, &model.Admin{Username: "root", PasswordHash: hash}); err != nil {
		t.Fatal(err)
	}

	cmds := command.New(mem, clk, nil)
	h := New(Deps{
		Admins:       mem,
		Commands:     cmds,
		Registration: registration.New(cmds, clk, time.Minute, nil, nil),
		Monitor:      device.NewMonitor(clk, 5*time.Second),
		Display:      device.NewDisplay(),
		Attendance:   attendance.NewService(mem, timetable.NewResolver(mem, time.UTC), clk, events, nil, nil),
		Roster:       roster.NewService(mem, cmds, nil, nil),
		Publisher:    events,
		Clock:        clk,
		Health: []HealthCheck{
			{Name: "db", Check: func(context.Context) bool { return true }},
		},
	}, AuthConfig{SigningKey: testKey, Issuer: testIssuer, AccessTTL: time.Hour})

	r := gin.New()
	h.Mount(r, nil)
	e := &env{router: r, mem: mem, clk: clk, events: events}
	e.token = e.login(t)
	return e
}

func (e *env) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (e *env) login(t *testing.T) string {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/api/login", gin.H{"username": "root", "password": "s3cret-pass"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %s", w.Code, w.Body.String())
	}
	return out["access_token"].(string)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newEnv(t)
	for _, body := range []gin.H{
		{"username": "root", "password": "wrong-pass"},
		{"username": "nobody", "password": "s3cret-pass"},
	} {
		if w, _ := e.do(t, http.MethodPost, "/api/login", body, ""); w.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for %v, got %d", body, w.Code)
		}
	}
}

func TestAdminRoutesNeedToken(t *testing.T) {
	e := newEnv(t)
	if w, _ := e.do(t, http.MethodGet, "/api/students", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if w, _ := e.do(t, http.MethodGet, "/api/students", nil, e.token); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
}

func TestHeartbeatAndDeviceStatus(t *testing.T) {
	e := newEnv(t)
	_, out := e.do(t, http.MethodGet, "/api/device_status", nil, "")
	if out["connected"] != false || out["last_heartbeat"] != nil {
		t.Fatalf("expected never-seen device, got %v", out)
	}
	if w, _ := e.do(t, http.MethodPost, "/api/heartbeat", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("heartbeat: %d", w.Code)
	}
	_, out = e.do(t, http.MethodGet, "/api/device_status", nil, "")
	if out["connected"] != true {
		t.Errorf("expected connected after heartbeat, got %v", out)
	}
	e.clk.Advance(6 * time.Second)
	_, out = e.do(t, http.MethodGet, "/api/device_status", nil, "")
	if out["connected"] != false {
		t.Errorf("expected disconnected after silence, got %v", out)
	}
}

func TestLCDStatus(t *testing.T) {
	e := newEnv(t)
	_, out := e.do(t, http.MethodGet, "/api/lcd_status", nil, "")
	if out["message"] != "Initializing..." {
		t.Errorf("expected initial text, got %v", out["message"])
	}
	e.do(t, http.MethodPost, "/api/lcd_status", gin.H{"message": "Place finger"}, "")
	_, out = e.do(t, http.MethodGet, "/api/lcd_status", nil, "")
	if out["message"] != "Place finger" {
		t.Errorf("expected updated text, got %v", out["message"])
	}
}

func TestRegistrationHandshake(t *testing.T) {
	e := newEnv(t)
	_, out := e.do(t, http.MethodGet, "/api/get_command", nil, "")
	if out["type"] != nil {
		t.Fatalf("expected empty queue, got %v", out)
	}

	if w, _ := e.do(t, http.MethodPost, "/api/start_registration", nil, e.token); w.Code != http.StatusOK {
		t.Fatalf("start: %d", w.Code)
	}
	_, out = e.do(t, http.MethodGet, "/api/registration_status", nil, e.token)
	if out["status"] != "waiting" || out["message"] != "Request sent to sensor..." {
		t.Fatalf("unexpected status %v", out)
	}

	_, out = e.do(t, http.MethodGet, "/api/get_command", nil, "")
	if out["type"] != "REGISTER" || out["id"] != nil {
		t.Fatalf("expected REGISTER without id, got %v", out)
	}
	_, out = e.do(t, http.MethodGet, "/api/get_command", nil, "")
	if out["type"] != nil {
		t.Fatalf("expected command to be delivered once, got %v", out)
	}

	_, out = e.do(t, http.MethodPost, "/api/registration_result", gin.H{"status": "success", "fingerprint_id": 12}, "")
	if out["ack"] != true {
		t.Fatalf("expected ack, got %v", out)
	}
	_, out = e.do(t, http.MethodGet, "/api/registration_status", nil, e.token)
	if out["status"] != "success" || out["fingerprint_id"] != float64(12) {
		t.Errorf("unexpected final status %v", out)
	}
	// A new attempt right after the report must not leak into its event.
	e.do(t, http.MethodPost, "/api/start_registration", nil, e.token)
	select {
	case msg := <-e.events.Messages():
		if msg.Type != queue.TypeRegistrationReported {
			t.Fatalf("expected registration event, got %s", msg.Type)
		}
		var evt registration.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			t.Fatal(err)
		}
		if evt.State != registration.StateSuccess || evt.FingerprintID == nil || *evt.FingerprintID != 12 {
			t.Errorf("expected event for the reported success, got %+v", evt)
		}
	default:
		t.Error("expected a registration event")
	}
}

func TestRegistrationFailureDefaultsMessage(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/start_registration", nil, e.token)
	e.do(t, http.MethodPost, "/api/registration_result", gin.H{"status": "failed"}, "")
	_, out := e.do(t, http.MethodGet, "/api/registration_status", nil, e.token)
	if out["status"] != "failed" || out["message"] != "Unknown error" {
		t.Errorf("unexpected status %v", out)
	}
}

func TestScanFlow(t *testing.T) {
	e := newEnv(t)
	w, out := e.do(t, http.MethodPost, "/api/scan", gin.H{}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without fingerprint id, got %d", w.Code)
	}

	_, out = e.do(t, http.MethodPost, "/api/scan", gin.H{"fingerprint_id": 5}, "")
	if out["status"] != "error" || out["message"] != "Student not found" || out["student_name"] != "Unknown" {
		t.Errorf("unexpected unknown-student response %v", out)
	}

	e.do(t, http.MethodPost, "/api/students", gin.H{"name": "Asha", "roll_no": "CS-07", "semester": "3", "fingerprint_id": 5}, e.token)
	_, out = e.do(t, http.MethodPost, "/api/scan", gin.H{"fingerprint_id": 5}, "")
	if out["status"] != "error" || out["message"] != "No Class" || out["student_name"] != "Asha" {
		t.Errorf("unexpected no-class response %v", out)
	}

	w, _ = e.do(t, http.MethodPost, "/api/timetable", gin.H{
		"day": "Monday", "start_time": "9:00", "end_time": "10:00", "subject": "Math", "lab_name": "Lab 1", "semester": "3",
	}, e.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create class: %d %s", w.Code, w.Body.String())
	}
	_, out = e.do(t, http.MethodPost, "/api/scan", gin.H{"fingerprint_id": 5}, "")
	if out["status"] != "success" || out["scan_type"] != "LOGIN" || out["message"] != "LOGIN Success" || out["subject"] != "Math" {
		t.Errorf("unexpected first scan %v", out)
	}
	_, out = e.do(t, http.MethodPost, "/api/scan", gin.H{"fingerprint_id": 5}, "")
	if out["scan_type"] != "LOGOUT" {
		t.Errorf("expected LOGOUT on second scan, got %v", out)
	}

	_, out = e.do(t, http.MethodGet, "/api/latest_log_id", nil, "")
	if out["last_id"] == float64(0) {
		t.Errorf("expected non-zero latest id, got %v", out)
	}
	_, out = e.do(t, http.MethodGet, "/api/active_count", nil, "")
	if out["active_count"] != float64(0) {
		t.Errorf("expected nobody active after logout, got %v", out)
	}
	_, out = e.do(t, http.MethodGet, "/api/attendance?date=2026-03-02&subject=math", nil, "")
	if recs, _ := out["records"].([]any); len(recs) != 2 {
		t.Errorf("expected 2 records, got %v", out["records"])
	}
	if w, _ := e.do(t, http.MethodGet, "/api/attendance?date=02/03/2026", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", w.Code)
	}
}

func TestTimetableValidation(t *testing.T) {
	e := newEnv(t)
	bad := []gin.H{
		{"day": "Funday", "start_time": "09:00", "end_time": "10:00", "subject": "Math", "semester": "3"},
		{"day": "Monday", "start_time": "9am", "end_time": "10:00", "subject": "Math", "semester": "3"},
		{"day": "Monday", "start_time": "10:00", "end_time": "09:00", "subject": "Math", "semester": "3"},
	}
	for _, body := range bad {
		if w, _ := e.do(t, http.MethodPost, "/api/timetable", body, e.token); w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for %v, got %d", body, w.Code)
		}
	}
}

func TestTimetableRoundTripsDayName(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(t, http.MethodPost, "/api/timetable", gin.H{
		"day": "thu", "start_time": "14:00", "end_time": "15:00", "subject": "Networks", "semester": "5",
	}, e.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create class: %d %s", w.Code, w.Body.String())
	}
	_, out := e.do(t, http.MethodGet, "/api/timetable?semester=5", nil, e.token)
	entries, _ := out["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %v", out)
	}
	got := entries[0].(map[string]any)
	if got["day"] != "Thursday" {
		t.Errorf("expected day Thursday, got %v", got["day"])
	}

	// What the list returns is accepted back by create.
	delete(got, "id")
	got["semester"] = "6"
	if w, _ := e.do(t, http.MethodPost, "/api/timetable", got, e.token); w.Code != http.StatusCreated {
		t.Errorf("expected listed entry to be accepted, got %d %s", w.Code, w.Body.String())
	}
}

func TestDeleteStudentQueuesDelete(t *testing.T) {
	e := newEnv(t)
	w, out := e.do(t, http.MethodPost, "/api/students", gin.H{"name": "Ravi", "roll_no": "CS-42", "semester": "3", "fingerprint_id": 42}, e.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	id := int64(out["id"].(float64))

	if w, _ := e.do(t, http.MethodPost, "/api/students", gin.H{"name": "Dup", "roll_no": "CS-43", "semester": "3", "fingerprint_id": 42}, e.token); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate fingerprint, got %d", w.Code)
	}

	path := "/api/students/" + strconv.FormatInt(id, 10)
	if w, _ := e.do(t, http.MethodDelete, path, nil, e.token); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	if w, _ := e.do(t, http.MethodDelete, path, nil, e.token); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}
	_, out = e.do(t, http.MethodGet, "/api/get_command", nil, "")
	if out["type"] != "DELETE" || out["id"] != float64(42) {
		t.Errorf("expected DELETE 42, got %v", out)
	}
}

func TestResetSystemData(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/students", gin.H{"name": "Ravi", "roll_no": "CS-42", "semester": "3", "fingerprint_id": 42}, e.token)
	w, out := e.do(t, http.MethodPost, "/api/reset_system_data", nil, e.token)
	if w.Code != http.StatusOK || out["message"] != "System Reset Complete. Deleted 1 students, 0 logs." {
		t.Fatalf("unexpected reset response %d %v", w.Code, out)
	}
	_, out = e.do(t, http.MethodGet, "/api/get_command", nil, "")
	if out["type"] != "EMPTY_DB" {
		t.Errorf("expected EMPTY_DB, got %v", out)
	}
	_, out = e.do(t, http.MethodGet, "/api/students", nil, e.token)
	if s, _ := out["students"].([]any); len(s) != 0 {
		t.Errorf("expected no students, got %v", out["students"])
	}
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	_, out := e.do(t, http.MethodGet, "/api/daily_stats", nil, e.token)
	dates, _ := out["dates"].([]any)
	if len(dates) != 7 || dates[6] != "2026-03-02" {
		t.Errorf("expected 7 dates ending today, got %v", out["dates"])
	}
	_, out = e.do(t, http.MethodGet, "/api/semester_stats", nil, e.token)
	if labels, _ := out["labels"].([]any); len(labels) != 0 {
		t.Errorf("expected no semesters, got %v", out)
	}

	for i, sem := range []string{"10", "2"} {
		e.do(t, http.MethodPost, "/api/timetable", gin.H{
			"day": "Monday", "start_time": "09:00", "end_time": "10:00", "subject": "Math", "semester": sem,
		}, e.token)
		fp := i + 1
		e.do(t, http.MethodPost, "/api/students", gin.H{"name": "S" + sem, "roll_no": "R" + sem, "semester": sem, "fingerprint_id": fp}, e.token)
		e.do(t, http.MethodPost, "/api/scan", gin.H{"fingerprint_id": fp}, "")
	}
	_, out = e.do(t, http.MethodGet, "/api/semester_stats", nil, e.token)
	labels, _ := out["labels"].([]any)
	if len(labels) != 2 || labels[0] != "Semester 2" || labels[1] != "Semester 10" {
		t.Errorf("expected numeric semester order, got %v", out["labels"])
	}
}

func TestSortSemesters(t *testing.T) {
	nums := []string{"10", "2", "1"}
	sortSemesters(nums)
	if strings.Join(nums, ",") != "1,2,10" {
		t.Errorf("expected 1,2,10, got %v", nums)
	}
	mixed := []string{"b", "10", "2"}
	sortSemesters(mixed)
	if strings.Join(mixed, ",") != "10,2,b" {
		t.Errorf("expected text order for mixed labels, got %v", mixed)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w, out := e.do(t, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK || out["db"] != true {
		t.Errorf("unexpected health %d %v", w.Code, out)
	}
}
