package handler

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fingerattend/internal/attendance"
	"fingerattend/internal/auth"
	"fingerattend/internal/model"
	"fingerattend/internal/store"
)

// ListAttendance serves the dashboard table. Query: date=YYYY-MM-DD,
// subject, search.
func (h *Handler) ListAttendance(c *gin.Context) {
	f := attendance.ListFilter{
		Subject: c.Query("subject"),
		Search:  c.Query("search"),
	}
	if d := c.Query("date"); d != "" {
		day, err := time.ParseInLocation(time.DateOnly, d, h.Attendance.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		f.Date = &day
	}
	records, err := h.Attendance.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []model.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) LatestLogID(c *gin.Context) {
	id, err := h.Attendance.LatestID(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_id": id})
}

func (h *Handler) ActiveCount(c *gin.Context) {
	n, err := h.Attendance.ActiveCount(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_count": n})
}

func (h *Handler) DailyStats(c *gin.Context) {
	days, err := h.Attendance.DailyCounts(c.Request.Context(), 7)
	if err != nil {
		h.fail(c, err)
		return
	}
	dates := make([]string, 0, len(days))
	counts := make([]int, 0, len(days))
	for _, d := range days {
		dates = append(dates, d.Date)
		counts = append(counts, d.Count)
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates, "counts": counts})
}

func (h *Handler) SemesterStats(c *gin.Context) {
	bySem, err := h.Attendance.SemesterCounts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	sems := make([]string, 0, len(bySem))
	for s := range bySem {
		sems = append(sems, s)
	}
	sortSemesters(sems)
	labels := make([]string, 0, len(sems))
	data := make([]int, 0, len(sems))
	for _, s := range sems {
		labels = append(labels, fmt.Sprintf("Semester %s", s))
		data = append(data, bySem[s])
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels, "data": data})
}

// sortSemesters orders numerically when every label is a number, so "10"
// follows "2", and as text otherwise.
func sortSemesters(sems []string) {
	nums := make(map[string]int, len(sems))
	for _, s := range sems {
		n, err := strconv.Atoi(s)
		if err != nil {
			sort.Strings(sems)
			return
		}
		nums[s] = n
	}
	sort.Slice(sems, func(i, j int) bool { return nums[sems[i]] < nums[sems[j]] })
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	admin, err := h.Admins.AdminByUsername(c.Request.Context(), req.Username)
	if err == nil {
		err = auth.CheckPassword(admin.PasswordHash, req.Password)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, auth.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrBadCredentials.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	// jwt validates expiry against the wall clock, so tokens are stamped with it.
	tok, err := auth.Issue(admin.Username, auth.RoleAdmin, h.auth.Issuer, h.auth.SigningKey, h.auth.AccessTTL, time.Now())
	if err != nil {
		h.fail(c, fmt.Errorf("issue token: %w", err))
		return
	}
	c.JSON(http.StatusOK, tok)
}
