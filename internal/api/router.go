// Package api wires together the HTTP routes of the operator API.
//
// Route grouping philosophy:
//   - /health is unauthenticated so load balancers and orchestrators can probe
//     liveness without credentials.
//   - Everything under /v1/audit requires a bearer JWT. The trail is the
//     system's security record; there is no anonymous read access.
//
// The audit-recording middleware sits inside the authenticated group, so
// operator mutations land in the same trail they operate on, and rejected
// authentications are recorded as failed logins for the detector.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/audit-sentinel/audit-sentinel/internal/api/admin"
	"github.com/audit-sentinel/audit-sentinel/internal/config"
	"github.com/audit-sentinel/audit-sentinel/internal/db/repositories"
	"github.com/audit-sentinel/audit-sentinel/internal/middleware"
)

// Deps carries the wired components the router exposes over HTTP.
type Deps struct {
	Repo     *repositories.AuditRepository
	Recorder middleware.ActionRecorder
	Cleaner  admin.Cleaner
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	auditHandler := admin.NewAuditHandler(deps.Repo, deps.Cleaner, cfg.Retention.Days)

	v1 := router.Group("/v1/audit")
	// Audit wraps Auth: it records after the rest of the chain has run, so a
	// 401 abort inside Auth is still observed and recorded as a failed login.
	v1.Use(middleware.AuditMiddleware(deps.Recorder))
	v1.Use(middleware.AuthMiddleware())
	{
		v1.GET("", auditHandler.List)
		v1.GET("/stats", auditHandler.Stats)
		v1.GET("/:id", auditHandler.Get)
		v1.POST("/cleanup", auditHandler.Cleanup)
	}

	return router
}
