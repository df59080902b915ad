package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ScheduleInfo exposes the state of the daily job, if one is running.
type ScheduleInfo interface {
	Spec() string
	Next() time.Time
	LastRun() (time.Time, error)
}

type HealthHandler struct {
	schedule ScheduleInfo
	started  time.Time
}

func NewHealthHandler(schedule ScheduleInfo) *HealthHandler {
	return &HealthHandler{schedule: schedule, started: time.Now()}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Schedule reports the cron expression and the next and last run times.
func (h *HealthHandler) Schedule(c *gin.Context) {
	if h.schedule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no schedule running"})
		return
	}

	resp := gin.H{
		"spec": h.schedule.Spec(),
		"next": h.schedule.Next(),
	}
	last, err := h.schedule.LastRun()
	if !last.IsZero() {
		resp["last_run"] = last
	}
	if err != nil {
		resp["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
