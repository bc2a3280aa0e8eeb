// Package api provides the gin-based HTTP surface for the gateway: the
// ingest/interact/events entry points, the timeline and stream
// subscription surfaces, the provider-facing user-context endpoint, and
// the health/metrics/manifest surfaces from spec §6.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniassist/gateway/pkg/broker"
	"github.com/uniassist/gateway/pkg/config"
	"github.com/uniassist/gateway/pkg/database"
	"github.com/uniassist/gateway/pkg/ingest"
	"github.com/uniassist/gateway/pkg/metrics"
	"github.com/uniassist/gateway/pkg/outbox"
	"github.com/uniassist/gateway/pkg/security"
	"github.com/uniassist/gateway/pkg/timeline"
	"github.com/uniassist/gateway/pkg/usercontext"
)

// Server is the gateway's HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	cfg           *config.Config
	dbClient      *database.Client
	pipeline      *ingest.Pipeline
	timelineStore *timeline.Store
	broker        *broker.Broker
	outboxPool    *outbox.Pool
	userContext   *usercontext.Cache
	verifier      *security.SignatureVerifier

	metrics *metrics.Registry // nil until set
}

// NewServer creates a new API server wired over the core components every
// handler needs. metrics is wired separately via SetMetrics, after
// construction.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	pipeline *ingest.Pipeline,
	timelineStore *timeline.Store,
	brk *broker.Broker,
	outboxPool *outbox.Pool,
	userContext *usercontext.Cache,
	verifier *security.SignatureVerifier,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:        router,
		cfg:           cfg,
		dbClient:      dbClient,
		pipeline:      pipeline,
		timelineStore: timelineStore,
		broker:        brk,
		outboxPool:    outboxPool,
		userContext:   userContext,
		verifier:      verifier,
	}

	s.setupRoutes()
	return s
}

// SetMetrics wires the metrics registry for GET /v0/metrics and /metrics.
func (s *Server) SetMetrics(registry *metrics.Registry) {
	s.metrics = registry
}

// ValidateWiring checks that every Set*-wired dependency has been
// supplied. Call this after all Set* calls and before Start/StartWithListener,
// so a wiring gap surfaces at startup rather than as a 500 at request time.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.metrics == nil {
		errs = append(errs, fmt.Errorf("metrics not set (call SetMetrics)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers the full HTTP surface table from spec §6.
func (s *Server) setupRoutes() {
	s.router.Use(securityHeaders())
	s.router.MaxMultipartMemory = 2 << 20

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/v0/metrics", s.metricsJSONHandler)
	s.router.GET("/metrics", s.metricsPrometheusHandler)
	s.router.GET("/.well-known/uniassist/manifest.json", s.manifestHandler)

	v0 := s.router.Group("/v0")
	v0.POST("/ingest", s.ingestHandler)
	v0.POST("/interact", s.interactHandler)
	v0.POST("/events", s.eventsHandler)
	v0.GET("/stream", s.streamHandler)
	v0.GET("/timeline", s.timelineHandler)
	v0.GET("/context/users/:profileRef", s.userContextHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by cmd/gateway, which creates the listener itself.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server, per spec §5's graceful
// shutdown sequence (stop accepting new requests before draining the rest
// of the process).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
