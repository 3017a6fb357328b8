// Package api exposes the attendance workflows over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/feed"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/ws"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps wires the router to the rest of the application.
type Deps struct {
	Service *attendance.Service
	Feed    feed.Feed
	Hub     *ws.Hub
	// Issuer is nil when operator auth is disabled.
	Issuer   *auth.Issuer
	Passcode string
	Health   map[string]HealthCheck
	Logger   *zap.Logger

	RateLimitPerMin int
	MaxUploadBytes  int64
	AllowOrigins    []string
}

// NewRouter builds the gin engine serving the HTTP API.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &handler{
		svc:      d.Service,
		feed:     d.Feed,
		issuer:   d.Issuer,
		passcode: d.Passcode,
		health:   d.Health,
		maxBytes: d.MaxUploadBytes,
		logger:   d.Logger,
	}

	origins := d.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.Logger(d.Logger),
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
			ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
			MaxAge:        12 * time.Hour,
		}),
		httpmiddleware.SecurityHeaders(),
	)
	if d.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin).GinMiddleware())
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	r.POST("/v1/auth/token", h.issueToken)
	r.POST("/v1/auth/refresh", h.refreshToken)

	v1 := r.Group("/v1", auth.OperatorAuth(d.Issuer))
	v1.POST("/students", h.enroll)
	v1.GET("/students", h.listStudents)
	v1.GET("/students/:id", h.getStudent)
	v1.GET("/students/:id/photo", h.studentPhoto)
	v1.DELETE("/students/:id", h.deleteStudent)
	v1.GET("/students/:id/attendance", h.studentAttendance)
	v1.POST("/students/:id/attendance", h.markManual)

	v1.POST("/attendance/scan", h.scan)
	v1.GET("/attendance/today", h.today)
	v1.GET("/attendance", h.attendanceOn)
	v1.GET("/attendance/export", h.export)

	v1.GET("/feed", h.recentFeed)
	if d.Hub != nil {
		v1.GET("/ws", d.Hub.HandleWS)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no such route"})
	})
	return r
}
