// Package api is the thin HTTP control surface mirroring the cobra CLI
// (status, consensus, budget, health, patterns) for operators who
// prefer HTTP to a terminal session. Grounded on
// internal/api/routes/routes.go's route-group layout and
// internal/api/middleware/middleware.go's Logger/Metrics middleware,
// scaled down to match this kernel's scope: there is no HTTP login
// surface here (agents are addressed by id, never by authenticated
// user session), so the teacher's auth/activity-log/static-file stack
// has no equivalent — only request logging, panic recovery, and CORS
// survive the trim.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/config"
	"github.com/moai-flow/swarm-kernel/internal/swarmkernel"
)

// NewRouter builds a gin.Engine exposing the kernel's read/control
// surface. Callers run it with http.ListenAndServe or gin's own Run.
func NewRouter(k *swarmkernel.Kernel, cfg config.APIConfig, logger *logrus.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.AllowedOrigins
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type"}
	corsCfg.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsCfg))

	h := newHandlers(k, logger)

	router.GET("/health", h.liveness)
	router.GET("/events", h.events)

	v1 := router.Group("/api/v1")
	{
		agents := v1.Group("/agents")
		{
			agents.POST("", h.registerAgent)
			agents.DELETE("/:id", h.unregisterAgent)
		}
		v1.POST("/topology/init", h.initTopology)
		v1.GET("/status", h.status)
		v1.POST("/consensus/propose", h.proposeConsensus)
		v1.GET("/budget", h.budget)
		v1.GET("/health", h.healthReport)
		v1.GET("/patterns/analyze", h.patternsAnalyze)
	}

	return router
}

// requestLogger mirrors the teacher's Logger middleware: one structured
// log line per request via gin's own formatter hook.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logger.WithFields(logrus.Fields{
			"status_code": param.StatusCode,
			"latency":     param.Latency,
			"client_ip":   param.ClientIP,
			"method":      param.Method,
			"path":        param.Path,
			"error":       param.ErrorMessage,
		}).Info("http request")
		return ""
	})
}

func errorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
