// Package httpapi exposes the execution engine over HTTP.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runlet/runlet/internal/docstore"
	"github.com/runlet/runlet/internal/engine"
)

// Server holds the handler dependencies.
type Server struct {
	docs     *docstore.Store
	executor *engine.Executor
}

// NewServer creates the HTTP server over the given collaborators.
func NewServer(docs *docstore.Store, executor *engine.Executor) *Server {
	return &Server{docs: docs, executor: executor}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/documents", s.handleCreateDocument)
		v1.GET("/documents/:id", s.handleGetDocument)
		v1.POST("/documents/:id/execute", s.handleExecute)
		v1.GET("/documents/:id/history", s.handleHistory)
	}

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
