package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fingerattend/internal/attendance"
	"fingerattend/internal/command"
	"fingerattend/internal/model"
	"fingerattend/internal/queue"
	"fingerattend/internal/registration"
)

// deviceCommandType is the command name the firmware switches on.
func deviceCommandType(k model.CommandKind) string {
	switch k {
	case model.CommandEnroll:
		return "REGISTER"
	case model.CommandReset:
		return "EMPTY_DB"
	default:
		return string(k)
	}
}

func (h *Handler) Heartbeat(c *gin.Context) {
	h.Monitor.RecordHeartbeat()
	h.Metrics.Heartbeat()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type scanRequest struct {
	FingerprintID *int `json:"fingerprint_id" binding:"required"`
}

func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "No fingerprint ID provided"})
		return
	}
	out, err := h.Attendance.RecordScan(c.Request.Context(), *req.FingerprintID)
	if err != nil {
		_ = c.Error(err)
		h.Logger.Error("scan failed", zap.Int("fingerprint_id", *req.FingerprintID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Server error"})
		return
	}
	switch out.Result {
	case attendance.ResultStudentNotFound:
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": out.Message(), "student_name": "Unknown"})
	case attendance.ResultNoActiveClass:
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": out.Message(), "student_name": out.StudentName})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":       "success",
			"message":      out.Message(),
			"student_name": out.StudentName,
			"subject":      out.Subject,
			"scan_type":    out.Status,
		})
	}
}

// GetCommand hands the oldest pending command to the device. The command is
// gone once returned.
func (h *Handler) GetCommand(c *gin.Context) {
	cmd, err := h.Commands.DequeueOldest(c.Request.Context())
	if errors.Is(err, command.ErrEmpty) {
		c.JSON(http.StatusOK, gin.H{"type": nil})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := gin.H{"type": deviceCommandType(cmd.Kind), "id": nil}
	if id, ok := cmd.PayloadInt(); ok {
		resp["id"] = id
	}
	h.Logger.Info("command delivered",
		zap.Int64("command_id", cmd.ID),
		zap.String("kind", string(cmd.Kind)))
	c.JSON(http.StatusOK, resp)
}

type registrationResult struct {
	Status        string `json:"status"`
	FingerprintID *int   `json:"fingerprint_id"`
	Message       string `json:"message"`
}

func (h *Handler) RegistrationResult(c *gin.Context) {
	var req registrationResult
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := h.Registration.Report(req.Status == "success", req.FingerprintID, req.Message)
	msg, err := queue.NewMessage(queue.TypeRegistrationReported, h.Clock.Now(),
		registration.Event{State: st.State, FingerprintID: st.FingerprintID, Message: st.Message})
	if err == nil {
		err = h.Publisher.Publish(c.Request.Context(), msg)
	}
	if err != nil {
		h.Logger.Warn("publish registration event failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ack": true})
}

func (h *Handler) GetLCD(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": h.Display.Text()})
}

func (h *Handler) SetLCD(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Display.Set(req.Message)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) DeviceStatus(c *gin.Context) {
	var last *time.Time
	if t := h.Monitor.LastHeartbeat(); !t.IsZero() {
		last = &t
	}
	c.JSON(http.StatusOK, gin.H{
		"connected":      h.Monitor.IsConnected(),
		"last_heartbeat": last,
		"lcd_message":    h.Display.Text(),
	})
}
