package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/manager"
	"github.com/steemit/pinmind/internal/models"
	"github.com/steemit/pinmind/pkg/telemetry"
)

// HealthCheck pings a dependency
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

// MaintenanceLog lists recorded maintenance runs, newest first
type MaintenanceLog interface {
	History(ctx context.Context, limit int) ([]models.MaintenanceRun, error)
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithHealthCheck adds a dependency check to the health endpoint
func WithHealthCheck(name string, check HealthCheck) RouterOption {
	return func(r *Router) {
		r.checks = append(r.checks, namedCheck{name: name, check: check})
	}
}

// WithMaintenanceLog serves pins.get_maintenance_history from log
func WithMaintenanceLog(log MaintenanceLog) RouterOption {
	return func(r *Router) { r.history = log }
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	service *manager.Service
	history MaintenanceLog
	checks  []namedCheck
	logger  *zap.Logger
}

// NewRouter creates a new API router over the pin manager service
func NewRouter(service *manager.Service, logger *zap.Logger, opts ...RouterOption) *Router {
	router := &Router{
		handler: NewJSONRPCHandler(logger),
		service: service,
		logger:  logger.With(zap.String("component", "api-router")),
	}
	for _, opt := range opts {
		opt(router)
	}

	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	pins := NewPinsAPI(r.service, r.history)

	// Views
	r.handler.RegisterMethod("pins.get_filtered", pins.GetFiltered)
	r.handler.RegisterMethod("pins.get_counts", pins.GetCounts)
	r.handler.RegisterMethod("pins.get_active_tab", pins.GetActiveTab)
	r.handler.RegisterMethod("pins.set_active_tab", pins.SetActiveTab)

	// Stats
	r.handler.RegisterMethod("pins.get_lifecycle_stats", pins.GetLifecycleStats)
	r.handler.RegisterMethod("pins.get_maintenance_stats", pins.GetMaintenanceStats)
	r.handler.RegisterMethod("pins.get_insights", pins.GetInsights)
	r.handler.RegisterMethod("pins.get_maintenance_history", pins.GetMaintenanceHistory)

	// Snapshot
	r.handler.RegisterMethod("pins.refresh", pins.Refresh)
	r.handler.RegisterMethod("pins.trigger_maintenance", pins.TriggerMaintenance)
	r.handler.RegisterMethod("pins.create", pins.Create)
	r.handler.RegisterMethod("pins.endorse", pins.Endorse)
	r.handler.RegisterMethod("pins.downvote", pins.Downvote)
}

// healthHandler reports liveness, dependency health and sweep freshness
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "OK", http.StatusOK
	deps := make(map[string]string, len(r.checks))
	for _, dep := range r.checks {
		if err := dep.check(ctx); err != nil {
			r.logger.Warn("Health check failed", zap.String("dependency", dep.name), zap.Error(err))
			deps[dep.name] = err.Error()
			status, code = "UNAVAILABLE", http.StatusServiceUnavailable
			continue
		}
		deps[dep.name] = "OK"
	}

	var stats manager.MaintenanceStats
	err := r.service.Do(ctx, func(m *manager.Manager) error {
		stats = m.MaintenanceStats(r.service.Now())
		return nil
	})
	if err != nil {
		deps["pin-manager"] = err.Error()
		status, code = "UNAVAILABLE", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":              status,
		"service":             "pinmind-api",
		"version":             telemetry.Version,
		"dependencies":        deps,
		"lifecycle_enabled":   stats.Enabled,
		"maintenance_overdue": stats.IsOverdue,
	})
}
