// Package adminapi exposes the endpoint registry, the latest-results cache
// and stored history over HTTP.
package adminapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/cache"
	"github.com/vitalis-app/collector/internal/httpserver"
	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/registry"
	"github.com/vitalis-app/collector/internal/storage"
)

// DefaultHistoryLimit caps history queries that do not set a limit.
const DefaultHistoryLimit = 500

// Registry is the subset of the endpoint registry the API mutates.
type Registry interface {
	Add(name, host string, port int, protocol string) (models.Endpoint, error)
	Remove(name string) error
	SetEnabled(name string, enabled bool) error
	Get(name string) (models.Endpoint, bool)
	List() []models.Endpoint
}

// StateSource reports live connection state per endpoint.
type StateSource interface {
	States() map[string]models.ConnectionState
}

// History is the read side of a storage backend.
type History interface {
	Query(ctx context.Context, q storage.Query) ([]storage.Record, error)
	ListEndpoints(ctx context.Context) ([]string, error)
}

// Deps wires the API to the running collector. Metrics may be nil.
type Deps struct {
	Registry Registry
	States   StateSource
	Cache    *cache.Latest
	History  History
	Metrics  http.Handler
	Logger   *zap.Logger
}

// API serves the admin routes.
type API struct {
	deps    Deps
	started time.Time
}

// New creates the API.
func New(deps Deps) *API {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &API{deps: deps, started: time.Now()}
}

// EndpointView is an endpoint with its live connection state.
type EndpointView struct {
	models.Endpoint
	State *models.ConnectionState `json:"state,omitempty"`
}

type addRequest struct {
	Name     string `json:"name" binding:"required"`
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port" binding:"required"`
	Protocol string `json:"protocol"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// Handler returns the gin engine with every admin route registered.
func (a *API) Handler() *gin.Engine {
	r := httpserver.NewEngine(a.deps.Logger)

	api := r.Group("/api")
	api.GET("/health", a.health)
	api.GET("/endpoints", a.listEndpoints)
	api.POST("/endpoints", a.addEndpoint)
	api.DELETE("/endpoints/:name", a.removeEndpoint)
	api.PUT("/endpoints/:name/enabled", a.setEnabled)
	api.GET("/metrics/latest", a.latest)
	api.GET("/metrics/latest/:name", a.latestOne)
	api.GET("/metrics", a.historyEndpoints)
	api.GET("/metrics/:name", a.history)

	if a.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(a.deps.Metrics))
	}
	return r
}

func (a *API) health(c *gin.Context) {
	body := gin.H{
		"status":    "ok",
		"uptime":    time.Since(a.started).Round(time.Second).String(),
		"endpoints": len(a.deps.Registry.List()),
	}
	if last, ok := a.deps.Cache.LastCycle(); ok {
		body["last_cycle"] = last
	}
	c.JSON(http.StatusOK, body)
}

func (a *API) listEndpoints(c *gin.Context) {
	var states map[string]models.ConnectionState
	if a.deps.States != nil {
		states = a.deps.States.States()
	}

	endpoints := a.deps.Registry.List()
	views := make([]EndpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		v := EndpointView{Endpoint: ep}
		if st, ok := states[ep.Name]; ok {
			st := st
			v.State = &st
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, views)
}

func (a *API) addEndpoint(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, err := a.deps.Registry.Add(req.Name, req.Host, req.Port, req.Protocol)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ep)
}

func (a *API) removeEndpoint(c *gin.Context) {
	name := c.Param("name")
	if err := a.deps.Registry.Remove(name); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) setEnabled(c *gin.Context) {
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := c.Param("name")
	if err := a.deps.Registry.SetEnabled(name, *req.Enabled); err != nil {
		a.fail(c, err)
		return
	}
	ep, _ := a.deps.Registry.Get(name)
	c.JSON(http.StatusOK, ep)
}

func (a *API) latest(c *gin.Context) {
	c.JSON(http.StatusOK, a.deps.Cache.All())
}

func (a *API) latestOne(c *gin.Context) {
	entry, ok := a.deps.Cache.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result for endpoint"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) historyEndpoints(c *gin.Context) {
	names, err := a.deps.History.ListEndpoints(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, names)
}

func (a *API) history(c *gin.Context) {
	q := storage.Query{
		Endpoint:   c.Param("name"),
		MetricType: c.Query("type"),
		Limit:      DefaultHistoryLimit,
	}

	var err error
	if q.Start, err = parseTime(c.Query("since")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since: " + err.Error()})
		return
	}
	if q.End, err = parseTime(c.Query("until")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until: " + err.Error()})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		q.Limit = n
	}

	records, err := a.deps.History.Query(c.Request.Context(), q)
	if err != nil {
		a.fail(c, err)
		return
	}
	if records == nil {
		records = []storage.Record{}
	}
	c.JSON(http.StatusOK, records)
}

// fail maps registry sentinels to status codes; anything else is a 500.
func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrInvalidEndpoint):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicate):
		status = http.StatusConflict
	default:
		a.deps.Logger.Error("Admin request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// parseTime accepts RFC 3339 or unix seconds. Empty means unbounded.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
