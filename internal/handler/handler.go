// Package handler binds the attendance services to HTTP. Device routes keep
// the response shapes the sensor firmware already parses; admin routes sit
// behind a bearer token.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fingerattend/internal/attendance"
	"fingerattend/internal/auth"
	"fingerattend/internal/clock"
	"fingerattend/internal/command"
	"fingerattend/internal/device"
	"fingerattend/internal/metrics"
	"fingerattend/internal/queue"
	"fingerattend/internal/registration"
	"fingerattend/internal/roster"
	"fingerattend/internal/store"
)

// HealthCheck is one dependency reported by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

// Deps are the collaborators of Handler.
type Deps struct {
	Admins       store.Admins
	Commands     *command.Queue
	Registration *registration.Machine
	Monitor      *device.Monitor
	Display      *device.Display
	Attendance   *attendance.Service
	Roster       *roster.Service
	Publisher    queue.Publisher
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Health       []HealthCheck
}

// AuthConfig configures admin tokens.
type AuthConfig struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
}

type Handler struct {
	Deps
	auth AuthConfig
}

func New(d Deps, a AuthConfig) *Handler {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Publisher == nil {
		d.Publisher = queue.Nop{}
	}
	if a.AccessTTL <= 0 {
		a.AccessTTL = 12 * time.Hour
	}
	RegisterValidators()
	return &Handler{Deps: d, auth: a}
}

// Mount registers every route on r. limit, when not nil, guards the public
// and admin routes; the device routes are polled continuously and stay
// unlimited.
func (h *Handler) Mount(r gin.IRouter, limit gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")

	// Device.
	api.POST("/heartbeat", h.Heartbeat)
	api.POST("/scan", h.Scan)
	api.GET("/get_command", h.GetCommand)
	api.POST("/registration_result", h.RegistrationResult)
	api.GET("/lcd_status", h.GetLCD)
	api.POST("/lcd_status", h.SetLCD)

	public := api.Group("")
	if limit != nil {
		public.Use(limit)
	}
	public.GET("/device_status", h.DeviceStatus)
	public.GET("/attendance", h.ListAttendance)
	public.GET("/latest_log_id", h.LatestLogID)
	public.GET("/active_count", h.ActiveCount)
	public.POST("/login", h.Login)

	admin := public.Group("", auth.AdminAuth(h.auth.SigningKey, h.auth.Issuer))
	admin.POST("/start_registration", h.StartRegistration)
	admin.GET("/registration_status", h.RegistrationStatus)
	admin.GET("/students", h.ListStudents)
	admin.POST("/students", h.CreateStudent)
	admin.PUT("/students/:id", h.UpdateStudent)
	admin.DELETE("/students/:id", h.DeleteStudent)
	admin.GET("/timetable", h.ListTimetable)
	admin.POST("/timetable", h.CreateTimetable)
	admin.DELETE("/timetable/:id", h.DeleteTimetable)
	admin.GET("/daily_stats", h.DailyStats)
	admin.GET("/semester_stats", h.SemesterStats)
	admin.POST("/reset_system_data", h.ResetSystemData)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, hc := range h.Health {
		ok := hc.Check(ctx)
		body[hc.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Errors ----------

// fail maps service errors onto status codes. Unknown errors are logged and
// hidden from the client.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, roster.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		h.Logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
