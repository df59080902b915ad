package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/ledger"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

type RunsHandler struct {
	ledger ledger.Recorder
	logger zerolog.Logger
}

func NewRunsHandler(l ledger.Recorder, logger zerolog.Logger) *RunsHandler {
	return &RunsHandler{ledger: l, logger: logger}
}

// List returns the most recent runs, newest first.
func (h *RunsHandler) List(c *gin.Context) {
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.ledger.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load recent runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}
