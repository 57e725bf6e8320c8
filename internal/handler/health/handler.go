package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker is a named dependency probe.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// DegradedReporter is implemented by components that keep serving in a
// reduced mode, such as the audit logger buffering in memory.
type DegradedReporter interface {
	Degraded() bool
	Pending() int
}

type Handler struct {
	checkers []Checker
	audit    DegradedReporter
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

func NewHandler(gatherer prometheus.Gatherer, audit DegradedReporter, checkers ...Checker) *Handler {
	return &Handler{
		checkers: checkers,
		audit:    audit,
		gatherer: gatherer,
		timeout:  2 * time.Second,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

// MetricsHandler serves the registry the application registered on.
func (h *Handler) MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// ReadinessCheck fails when any dependency is down. A degraded audit logger
// is reported but does not fail readiness, since events are still buffered.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checkers)+1)
	for _, chk := range h.checkers {
		if err := chk.Check(ctx); err != nil {
			checks[chk.Name] = "DOWN"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[chk.Name] = "UP"
	}

	body := gin.H{"status": "UP", "checks": checks}
	if h.audit != nil {
		if h.audit.Degraded() {
			checks["audit"] = "DEGRADED"
			body["audit_pending"] = h.audit.Pending()
		} else {
			checks["audit"] = "UP"
		}
	}
	if status != http.StatusOK {
		body["status"] = "DOWN"
	}
	c.JSON(status, body)
}
