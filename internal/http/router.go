// README: HTTP router registration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"pharmadispatch/internal/http/handlers"
	"pharmadispatch/internal/http/middleware"
)

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(s.logger), middleware.Recovery(s.logger), cors.New(s.corsConfig()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", middleware.Identity())

	dispatches := handlers.NewDispatchHandler(s.dispatch, s.logger)
	auditLog := handlers.NewAuditHandler(s.audit)
	d := api.Group("/dispatches")
	d.POST("", dispatches.Create)
	d.GET("/active", dispatches.ListActive)
	d.GET("/pending-returns", dispatches.PendingReturns)
	d.GET("/code/:code", dispatches.GetByCode)
	d.GET("/:id", dispatches.Get)
	d.GET("/:id/movements", dispatches.Movements)
	d.POST("/:id/movements", dispatches.RecordMovement)
	d.PUT("/:id/prescription", dispatches.UpdatePrescription)
	d.POST("/:id/prescription/return", dispatches.MarkReturned)
	d.POST("/:id/incident", dispatches.ReportIncident)
	d.POST("/:id/corrections", dispatches.RequestCorrection)
	d.GET("/:id/corrections", dispatches.CorrectionStatus)
	d.POST("/:id/corrections/approve", middleware.RequireRole(middleware.RoleSupervisor), dispatches.ApproveCorrection)
	d.GET("/:id/audit", auditLog.DispatchHistory)

	reports := handlers.NewReportHandler(s.report)
	api.GET("/reports/summary", reports.Summary)

	api.POST("/notices", auditLog.Notify)
	api.GET("/notices", auditLog.Notices)
	api.POST("/notices/:id/read", auditLog.MarkNoticeRead)

	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", middleware.HeaderUserID, middleware.HeaderUserRole, middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(s.corsOrigins) == 0 || (len(s.corsOrigins) == 1 && s.corsOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.corsOrigins
	}
	return cfg
}
