package server

import (
	"context"
	"fmt"
	"net/http"

	v1 "formbase/api/v1"
	"formbase/internal/handler"
	"formbase/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// HTTPServer is the gin engine plus its net/http server, with graceful stop.
type HTTPServer struct {
	engine *gin.Engine
	srv    *http.Server
	logger *zap.Logger
}

// NewHTTPServer builds the engine and registers every route.
func NewHTTPServer(
	conf *viper.Viper,
	logger *zap.Logger,
	syncHandler *handler.SyncHandler,
	submissionHandler *handler.SubmissionHandler,
	instanceHandler *handler.InstanceHandler,
) *HTTPServer {
	if conf.GetString("env") == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogMiddleware(logger))

	engine.GET("/health", func(ctx *gin.Context) {
		v1.HandleSuccess(ctx, map[string]string{"status": "up"})
	})
	engine.NoRoute(func(ctx *gin.Context) {
		v1.HandleError(ctx, http.StatusNotFound, v1.ErrNotFound, nil)
	})

	group := engine.Group("/api/v1")
	{
		group.POST("/sync/jobs", syncHandler.CreateJob)
		group.GET("/sync/jobs/:id", syncHandler.GetJob)
		group.POST("/sync/jobs/:id/process", syncHandler.ProcessBatch)
		group.POST("/sync/import-csv", syncHandler.ImportCSV)
		group.POST("/locations/enrich", syncHandler.EnrichOrgUnits)

		group.POST("/submissions/:id/retry", submissionHandler.Retry)
		group.GET("/submissions/:id/logs", submissionHandler.Logs)

		group.GET("/instances", instanceHandler.List)
		group.POST("/instances", instanceHandler.Create)
		group.PUT("/instances", instanceHandler.Upsert)
		group.DELETE("/instances/:key", instanceHandler.Delete)
		group.POST("/instances/:key/test", instanceHandler.TestConnection)
	}

	return &HTTPServer{
		engine: engine,
		srv: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", conf.GetString("http.host"), conf.GetInt("http.port")),
			Handler: engine,
			// The finalizing import call of a large job can run for minutes
			WriteTimeout: conf.GetDuration("dhis2.import_timeout"),
		},
		logger: logger,
	}
}

// Start serves until the listener fails or Stop is called.
func (s *HTTPServer) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}
