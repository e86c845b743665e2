// Package agentserver serves local host metrics over the JSON agent
// protocol that the collector's httpjson client speaks.
package agentserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/httpserver"
	"github.com/vitalis-app/collector/internal/probe"
	"github.com/vitalis-app/collector/internal/transport"
	"github.com/vitalis-app/collector/internal/transport/httpjson"
)

// Fault codes returned in error bodies.
const (
	FaultNoData   = 1
	FaultInternal = 2
)

// Collector gathers raw probe results.
type Collector interface {
	CollectAll(ctx context.Context) map[string]interface{}
}

// Server answers ping and metrics requests.
type Server struct {
	collector Collector
	hostname  string
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Server. timeout bounds one metrics collection.
func New(collector Collector, hostname string, timeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		collector: collector,
		hostname:  hostname,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Handler returns the gin engine with the protocol routes.
func (s *Server) Handler() *gin.Engine {
	r := httpserver.NewEngine(s.logger)
	r.GET(httpjson.PathPing, s.ping)
	r.GET(httpjson.PathMetrics, s.metrics)
	r.NoRoute(func(c *gin.Context) {
		fault(c, http.StatusNotFound, FaultInternal, "no such route")
	})
	return r
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, httpjson.PingResponse{Reply: transport.PingAck})
}

func (s *Server) metrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	results := s.collector.CollectAll(ctx)
	if len(results) == 0 {
		fault(c, http.StatusInternalServerError, FaultNoData, "no probe produced data")
		return
	}

	c.JSON(http.StatusOK, probe.Assemble(results, s.hostname, s.now()))
}

func fault(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, httpjson.ErrorResponse{
		Error: httpjson.ErrorBody{Code: code, Message: msg},
	})
}
