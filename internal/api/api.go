// internal/api/api.go
package api

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/api/handlers"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/api/middleware"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/ledger"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/metrics"
)

type Services struct {
	Ledger   ledger.Recorder
	Metrics  *metrics.Recorder
	Schedule handlers.ScheduleInfo
}

func NewRouter(services *Services, allowedOrigins []string, logger zerolog.Logger) *gin.Engine {
	router := gin.New()

	// Add middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:  defaultOrigins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	if services == nil {
		services = &Services{}
	}
	if services.Ledger == nil {
		services.Ledger = ledger.Noop{}
	}

	health := handlers.NewHealthHandler(services.Schedule)
	router.GET("/health", health.Health)
	// Only a process that runs the pipeline has counters worth scraping.
	if services.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(services.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	apiGroup := router.Group("/api/v1")
	{
		runs := handlers.NewRunsHandler(services.Ledger, logger)
		apiGroup.GET("/runs", runs.List)
		apiGroup.GET("/schedule", health.Schedule)
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
