package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fingerattend/internal/model"
)

func (h *Handler) StartRegistration(c *gin.Context) {
	if err := h.Registration.Start(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *Handler) RegistrationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registration.Status())
}

// ---------- Students ----------

type studentRequest struct {
	Name          string `json:"name" binding:"required"`
	RollNo        string `json:"roll_no" binding:"required"`
	Semester      string `json:"semester" binding:"required"`
	FingerprintID int    `json:"fingerprint_id" binding:"required,min=1"`
}

func (r studentRequest) toStudent(id int64) model.Student {
	return model.Student{
		ID:            id,
		Name:          r.Name,
		RollNo:        r.RollNo,
		Semester:      r.Semester,
		FingerprintID: r.FingerprintID,
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.Roster.ListStudents(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if students == nil {
		students = []model.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) CreateStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.Roster.CreateStudent(c.Request.Context(), req.toStudent(0))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.Roster.UpdateStudent(c.Request.Context(), req.toStudent(id))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// DeleteStudent removes the student and queues the sensor-side deletion.
func (h *Handler) DeleteStudent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	st, err := h.Roster.DeleteStudent(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "fingerprint_id": st.FingerprintID})
}

// ---------- Timetable ----------

type classRequest struct {
	Day      string `json:"day" binding:"required,weekday"`
	Start    string `json:"start_time" binding:"required,hhmm"`
	End      string `json:"end_time" binding:"required,hhmm"`
	Subject  string `json:"subject" binding:"required"`
	Lab      string `json:"lab_name"`
	Semester string `json:"semester" binding:"required"`
}

func (h *Handler) ListTimetable(c *gin.Context) {
	classes, err := h.Roster.ListClasses(c.Request.Context(), c.Query("semester"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if classes == nil {
		classes = []model.ClassSession{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": classes})
}

func (h *Handler) CreateTimetable(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// The validators already accepted these.
	day, _ := model.ParseWeekday(req.Day)
	start, _ := model.ParseTimeOfDay(req.Start)
	end, _ := model.ParseTimeOfDay(req.End)
	cs, err := h.Roster.AddClass(c.Request.Context(), model.ClassSession{
		Day:      day,
		Semester: req.Semester,
		Start:    start,
		End:      end,
		Subject:  req.Subject,
		Resource: req.Lab,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

func (h *Handler) DeleteTimetable(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Roster.DeleteClass(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ResetSystemData wipes students, attendance and timetable and queues the
// sensor reset.
func (h *Handler) ResetSystemData(c *gin.Context) {
	stats, err := h.Roster.ResetAll(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		h.Logger.Error("reset failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "reset failed, nothing was deleted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("System Reset Complete. Deleted %d students, %d logs.", stats.Students, stats.Attendance),
		"deleted": gin.H{
			"students":   stats.Students,
			"attendance": stats.Attendance,
			"timetable":  stats.Timetable,
		},
	})
}
