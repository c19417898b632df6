// Package httpapi exposes ranking runs, lists and item mutations over HTTP.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SpectrumRanker/internal/memo"
	"SpectrumRanker/internal/ports"
	"SpectrumRanker/internal/usecase"
)

// Deps wires the use cases behind the handlers.
type Deps struct {
	Ranker      *usecase.Ranker
	Items       *usecase.Items
	Lists       ports.SpectrumStore
	Comparisons ports.ComparisonRepository
	Memo        *memo.Cache
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

// Handlers implements the HTTP endpoints.
type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandlers builds handlers over deps.
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{deps: deps, logger: logger.With("component", "http")}
}

// NewRouter returns a gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	h := NewHandlers(deps)

	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/healthz", h.HandleHealth)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

// RegisterRoutes mounts the API under rg.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rankings := rg.Group("/rankings")
	{
		rankings.POST("", h.HandleStartRanking)
		rankings.GET("/runs", h.HandleListRuns)
		rankings.GET("/runs/:id", h.HandleGetRun)
		rankings.DELETE("/runs/:id", h.HandleCancelRun)
	}

	rg.GET("/lists/:id", h.HandleGetList)
	rg.PATCH("/items/:id", h.HandlePatchItem)
	rg.POST("/comparisons/human", h.HandleHumanComparison)
	rg.GET("/alignment", h.HandleAlignment)
}

func (h *Handlers) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		h.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(started))
	}
}
