// Package registry holds the set of monitored endpoints. Every mutation is
// persisted before it becomes visible; readers always get a consistent copy.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/config"
	"github.com/vitalis-app/collector/internal/models"
)

var (
	// ErrDuplicate is returned when the name or the host:port is already registered.
	ErrDuplicate = errors.New("endpoint already registered")
	// ErrNotFound is returned for operations on an unknown name.
	ErrNotFound = errors.New("endpoint not found")
	// ErrInvalidEndpoint is returned when the record fails validation.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Registry is the in-memory endpoint set backed by a Store.
type Registry struct {
	mu        sync.RWMutex
	endpoints []models.Endpoint
	store     Store
	logger    *zap.Logger
	now       func() time.Time
}

// Open loads the registry from store.
func Open(store Store, logger *zap.Logger) (*Registry, error) {
	endpoints, err := store.Load()
	if err != nil {
		return nil, err
	}
	for i := range endpoints {
		ep := &endpoints[i]
		ep.Protocol = normalizeProtocol(ep.Protocol)
		if err := validate(*ep); err != nil {
			return nil, fmt.Errorf("registry record %q: %w", ep.Name, err)
		}
	}
	return &Registry{
		endpoints: endpoints,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Seed adds configured endpoints whose name is not yet registered. Existing
// records win, so administrative changes survive a restart.
func (r *Registry) Seed(seeds []config.EndpointConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.clone()
	added := 0
	for _, s := range seeds {
		ep := models.Endpoint{
			Name:     s.Name,
			Host:     s.Host,
			Port:     s.Port,
			Protocol: normalizeProtocol(s.Protocol),
			Enabled:  !s.Disabled,
			AddedAt:  r.now().UTC(),
		}
		if indexOf(next, ep.Name) >= 0 {
			continue
		}
		if err := validate(ep); err != nil {
			return fmt.Errorf("seed endpoint %q: %w", s.Name, err)
		}
		if conflict(next, ep) {
			r.logger.Warn("Skipping seed endpoint with duplicate address",
				zap.String("endpoint", ep.Name),
				zap.String("address", ep.Address()))
			continue
		}
		next = append(next, ep)
		added++
	}
	if added == 0 {
		return nil
	}
	if err := r.store.Save(next); err != nil {
		return fmt.Errorf("persisting registry: %w", err)
	}
	r.endpoints = next
	r.logger.Info("Seeded endpoints from config", zap.Int("added", added))
	return nil
}

// Add registers a new enabled endpoint.
func (r *Registry) Add(name, host string, port int, protocol string) (models.Endpoint, error) {
	ep := models.Endpoint{
		Name:     strings.TrimSpace(name),
		Host:     strings.TrimSpace(host),
		Port:     port,
		Protocol: normalizeProtocol(protocol),
		Enabled:  true,
	}
	if err := validate(ep); err != nil {
		return models.Endpoint{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if indexOf(r.endpoints, ep.Name) >= 0 {
		return models.Endpoint{}, fmt.Errorf("%w: name %q", ErrDuplicate, ep.Name)
	}
	if conflict(r.endpoints, ep) {
		return models.Endpoint{}, fmt.Errorf("%w: address %s", ErrDuplicate, ep.Address())
	}

	ep.AddedAt = r.now().UTC()
	next := append(r.clone(), ep)
	if err := r.commit(next); err != nil {
		return models.Endpoint{}, err
	}
	r.logger.Info("Endpoint added", zap.String("endpoint", ep.Name), zap.String("address", ep.Address()))
	return ep, nil
}

// Remove unregisters an endpoint.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.endpoints, name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	next := r.clone()
	next = append(next[:i], next[i+1:]...)
	if err := r.commit(next); err != nil {
		return err
	}
	r.logger.Info("Endpoint removed", zap.String("endpoint", name))
	return nil
}

// SetEnabled toggles whether an endpoint is polled.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.endpoints, name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if r.endpoints[i].Enabled == enabled {
		return nil
	}
	next := r.clone()
	next[i].Enabled = enabled
	if err := r.commit(next); err != nil {
		return err
	}
	r.logger.Info("Endpoint toggled", zap.String("endpoint", name), zap.Bool("enabled", enabled))
	return nil
}

// Get returns one endpoint by name.
func (r *Registry) Get(name string) (models.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := indexOf(r.endpoints, name)
	if i < 0 {
		return models.Endpoint{}, false
	}
	return r.endpoints[i], true
}

// List returns a copy of all endpoints in registration order. The poller
// calls it once per cycle, so the result is a consistent snapshot.
func (r *Registry) List() []models.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clone()
}

// commit persists next and swaps it in. On failure the in-memory set is left
// untouched. Must be called with r.mu held.
func (r *Registry) commit(next []models.Endpoint) error {
	if err := r.store.Save(next); err != nil {
		return fmt.Errorf("persisting registry: %w", err)
	}
	r.endpoints = next
	return nil
}

func (r *Registry) clone() []models.Endpoint {
	return append(make([]models.Endpoint, 0, len(r.endpoints)+1), r.endpoints...)
}

func indexOf(endpoints []models.Endpoint, name string) int {
	for i, ep := range endpoints {
		if ep.Name == name {
			return i
		}
	}
	return -1
}

func conflict(endpoints []models.Endpoint, ep models.Endpoint) bool {
	for _, existing := range endpoints {
		if strings.EqualFold(existing.Host, ep.Host) && existing.Port == ep.Port {
			return true
		}
	}
	return false
}

func normalizeProtocol(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return models.ProtocolHTTP
	}
	return p
}

// validate expects ep.Protocol to be normalized already.
func validate(ep models.Endpoint) error {
	switch {
	case ep.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidEndpoint)
	case ep.Host == "":
		return fmt.Errorf("%w: host is required", ErrInvalidEndpoint)
	case ep.Port <= 0 || ep.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, ep.Port)
	}
	switch ep.Protocol {
	case models.ProtocolHTTP, models.ProtocolXMLRPC:
		return nil
	default:
		return fmt.Errorf("%w: unsupported protocol %q", ErrInvalidEndpoint, ep.Protocol)
	}
}
