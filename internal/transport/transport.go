// Package transport defines the typed request/response contract between the
// collector and a remote agent. Each supported wire protocol provides a
// Dialer in its own subpackage.
package transport

import (
	"context"
	"fmt"

	"github.com/vitalis-app/collector/internal/models"
)

// PingAck is the acknowledgement token a healthy agent returns from Ping.
const PingAck = "pong"

// Client is an established transport handle to one agent.
type Client interface {
	// Ping performs a cheap round trip and returns the agent's reply.
	Ping(ctx context.Context) (string, error)

	// GetMetrics fetches one metrics payload.
	GetMetrics(ctx context.Context) (*models.MetricsPayload, error)

	// Close releases the handle. It is safe to call more than once.
	Close() error
}

// Dialer establishes a Client for an endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep models.Endpoint) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, ep models.Endpoint) (Client, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, ep models.Endpoint) (Client, error) {
	return f(ctx, ep)
}

// Fault is an error response returned by the agent itself, as opposed to a
// transport-level failure.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("remote fault %d: %s", f.Code, f.Message)
}

// Mux dispatches Dial to a per-protocol Dialer based on Endpoint.Protocol.
// An empty protocol selects models.ProtocolHTTP.
type Mux map[string]Dialer

// Dial implements Dialer.
func (m Mux) Dial(ctx context.Context, ep models.Endpoint) (Client, error) {
	proto := ep.Protocol
	if proto == "" {
		proto = models.ProtocolHTTP
	}
	d, ok := m[proto]
	if !ok {
		return nil, fmt.Errorf("unsupported protocol %q for endpoint %s", proto, ep.Name)
	}
	return d.Dial(ctx, ep)
}
