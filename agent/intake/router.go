package intake

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
	metricsx "github.com/tanpawarit/legal-lead-agents/pkg/metrics"
)

// NewRouter builds the HTTP surface: lead intake, health and Prometheus metrics.
func NewRouter(h *Handler, rec *metricsx.Recorder) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if rec != nil {
		r.GET("/metrics", gin.WrapH(rec.Handler()))
	}
	h.Register(r)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logx.FromContext(c.Request.Context()).Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request completed")
	}
}
