// Package server exposes the query engine over HTTP with Gin.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appconfig "cryptolens/config"
	"cryptolens/evidence"
	"cryptolens/logger"
	"cryptolens/metrics"
	"cryptolens/resolver"
	"cryptolens/tools"
)

// Server hosts the query API: tool discovery, query execution and health.
type Server struct {
	cfg        appconfig.ServerConfig
	app        appconfig.CryptolensConfig
	engine     *resolver.Engine
	registry   *tools.Registry
	metrics    *metrics.Metrics
	evidence   *evidence.Store
	log        *logger.Log
	httpServer *http.Server
}

func New(cfg appconfig.ServerConfig, app appconfig.CryptolensConfig, engine *resolver.Engine, registry *tools.Registry, m *metrics.Metrics, ev *evidence.Store, log *logger.Log) *Server {
	return &Server{
		cfg:      cfg,
		app:      app,
		engine:   engine,
		registry: registry,
		metrics:  m,
		evidence: ev,
		log:      log,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	s.log.WithComponent("server").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// queryRequest is the body of POST /tools/:name.
type queryRequest struct {
	Symbol        string   `json:"symbol"`
	Chain         string   `json:"chain"`
	TokenAddress  string   `json:"token_address"`
	VsCurrency    string   `json:"vs_currency"`
	Include       []string `json:"include"`
	MaxAgeSeconds int      `json:"max_age_seconds"`
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"name":    s.app.Name,
			"version": s.app.Version,
		})
	})

	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.metrics.Snapshot())
	})

	router.GET("/tools", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tools": s.registry.List()})
	})

	router.POST("/tools/:name", s.handleQuery)

	return router
}

func (s *Server) handleQuery(c *gin.Context) {
	tool := c.Param("name")

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	params := map[string]string{}
	if req.Symbol != "" {
		params["symbol"] = req.Symbol
	}
	if req.Chain != "" {
		params["chain"] = req.Chain
	}
	if req.TokenAddress != "" {
		params["token_address"] = req.TokenAddress
	}
	if req.VsCurrency != "" {
		params["vs_currency"] = req.VsCurrency
	}

	groups, err := s.registry.ValidateQuery(tool, req.Include, params)
	if err != nil {
		var invalid *tools.InvalidRequestError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.New().String()
	ctx := c.Request.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	result := s.engine.Execute(ctx, resolver.Query{
		Tool:      tool,
		Groups:    groups,
		Params:    params,
		MaxAge:    time.Duration(req.MaxAgeSeconds) * time.Second,
		RequestID: requestID,
	})

	s.evidence.Record(result)

	c.JSON(http.StatusOK, result)
}
