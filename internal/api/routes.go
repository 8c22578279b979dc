// Package api exposes the scheduler over HTTP: health, Prometheus metrics
// and an /api/v1 mirror of the gRPC query service.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/macsched/internal/logging"
)

// NewRouter builds the gin engine. metrics may be nil to leave /metrics
// unrouted.
func NewRouter(h *Handler, metrics http.Handler, log logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/healthz", h.Health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", h.Status)
		v1.GET("/actions", h.Actions)

		frames := v1.Group("/frames/:frame")
		{
			frames.GET("/schedule", h.Schedule)
			frames.GET("/ues/:ue", h.UE)
			frames.POST("/csi", h.PublishCSI)
		}
	}
	return router
}

// requestLogger tags each request with a request id, echoed back in the
// X-Request-ID header, and logs it once served.
func requestLogger(base logging.Logger) gin.HandlerFunc {
	if base == nil {
		base = logging.Noop()
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader("X-Request-ID"); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, base)
		ctx = logging.ContextWithLogger(ctx, log)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", logging.RequestIDFromContext(ctx))

		start := time.Now()
		c.Next()

		log.Debug(ctx, "http request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}
