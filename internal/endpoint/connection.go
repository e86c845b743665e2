// Package endpoint owns the transport handle to a single agent and the
// connection bookkeeping that goes with it.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/transport"
)

// DetailTimeout is the FetchError detail used when the deadline expires.
const DetailTimeout = "timeout"

// Connection fetches metrics from one endpoint, reconnecting when the
// existing handle is dead. Only one Fetch may run at a time.
type Connection struct {
	ep      models.Endpoint
	dialer  transport.Dialer
	timeout time.Duration
	now     func() time.Time

	inFlight atomic.Bool

	mu          sync.Mutex
	client      transport.Client
	failures    int
	lastSuccess *time.Time
	lastError   string
}

// NewConnection creates a Connection. No network traffic happens until Fetch.
func NewConnection(ep models.Endpoint, dialer transport.Dialer, timeout time.Duration) *Connection {
	return &Connection{
		ep:      ep,
		dialer:  dialer,
		timeout: timeout,
		now:     time.Now,
	}
}

// Endpoint returns the endpoint this connection was built for.
func (c *Connection) Endpoint() models.Endpoint {
	return c.ep
}

// Fetch returns one sample or a *FetchError. The whole call, including a
// reconnect, is bounded by the connection timeout.
func (c *Connection) Fetch(ctx context.Context) (*models.MetricSample, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, &FetchError{Kind: RemoteFault, Endpoint: c.ep.Name, Detail: "fetch already in flight"}
	}
	defer c.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.ensureClient(ctx)
	if err != nil {
		ferr := &FetchError{Kind: ConnectionFailure, Endpoint: c.ep.Name, Detail: "connect", Err: err}
		if ctx.Err() != nil {
			ferr.Detail = DetailTimeout
		}
		c.recordFailure(ferr)
		return nil, ferr
	}

	payload, err := client.GetMetrics(ctx)
	if err != nil {
		c.dropClient()
		ferr := &FetchError{Kind: RemoteFault, Endpoint: c.ep.Name, Detail: "get_metrics", Err: err}
		var fault *transport.Fault
		switch {
		case errors.As(err, &fault):
			ferr.Detail = "agent fault"
		case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
			ferr.Detail = DetailTimeout
		}
		c.recordFailure(ferr)
		return nil, ferr
	}
	if payload == nil {
		ferr := &FetchError{Kind: RemoteFault, Endpoint: c.ep.Name, Detail: "empty payload"}
		c.recordFailure(ferr)
		return nil, ferr
	}

	now := c.now()
	sample := payload.ToSample(c.ep.Name, now)

	c.mu.Lock()
	c.failures = 0
	c.lastSuccess = &now
	c.lastError = ""
	c.mu.Unlock()

	return sample, nil
}

// ensureClient probes the existing handle and makes one reconnect attempt
// when the probe fails or no handle exists.
func (c *Connection) ensureClient(ctx context.Context) (transport.Client, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client != nil {
		if err := probe(ctx, client); err == nil {
			return client, nil
		}
		c.dropClient()
	}

	client, err := c.dialer.Dial(ctx, c.ep)
	if err != nil {
		return nil, err
	}
	if err := probe(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return client, nil
}

func probe(ctx context.Context, client transport.Client) error {
	reply, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if reply != transport.PingAck {
		return fmt.Errorf("unexpected ping reply %q", reply)
	}
	return nil
}

func (c *Connection) dropClient() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
}

func (c *Connection) recordFailure(err *FetchError) {
	c.mu.Lock()
	c.failures++
	c.lastError = err.Reason()
	c.mu.Unlock()
}

// ConsecutiveFailures returns the number of failed fetches since the last success.
func (c *Connection) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// State returns a copy of the connection bookkeeping.
func (c *Connection) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := models.ConnectionState{
		Connected:           c.client != nil,
		ConsecutiveFailures: c.failures,
		LastError:           c.lastError,
	}
	if c.lastSuccess != nil {
		t := *c.lastSuccess
		st.LastSuccess = &t
	}
	return st
}

// Close releases the transport handle.
func (c *Connection) Close() error {
	c.dropClient()
	return nil
}
