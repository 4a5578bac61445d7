package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/wallet-events/internal/config"
	"go.uber.org/zap"
)

// NewRouter wires middleware, the API and /metrics served from gatherer.
func NewRouter(h *Handler, rl config.RateLimitConfig, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(log))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/", RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(api, h)
	return r
}
