// Package httpjson implements the agent protocol as JSON over HTTP.
//
//	GET /v1/ping     -> {"reply":"pong"}
//	GET /v1/metrics  -> models.MetricsPayload
//
// Agents report faults with a non-2xx status and an ErrorResponse body.
package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/transport"
)

const (
	// PathPing is the liveness probe route.
	PathPing = "/v1/ping"

	// PathMetrics is the metrics route.
	PathMetrics = "/v1/metrics"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 1 << 20

	// dialTimeout bounds TCP connection establishment.
	dialTimeout = 5 * time.Second
)

// PingResponse is the body of a successful ping.
type PingResponse struct {
	Reply string `json:"reply"`
}

// ErrorBody describes a fault reported by the agent.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of a non-2xx response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Dialer creates HTTP clients for endpoints. The zero value is usable.
type Dialer struct {
	// Scheme is "http" unless set.
	Scheme string
}

// NewDialer returns a Dialer for plain HTTP agents.
func NewDialer() *Dialer {
	return &Dialer{Scheme: "http"}
}

// Dial builds a client with its own connection pool. No network traffic
// happens until the first call.
func (d *Dialer) Dial(_ context.Context, ep models.Endpoint) (transport.Client, error) {
	if ep.Host == "" || ep.Port <= 0 {
		return nil, fmt.Errorf("endpoint %s has no usable address", ep.Name)
	}
	scheme := d.Scheme
	if scheme == "" {
		scheme = "http"
	}

	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL:   fmt.Sprintf("%s://%s", scheme, ep.Address()),
		transport: tr,
		client:    &http.Client{Transport: tr},
	}, nil
}

// Client speaks the JSON protocol to one agent.
type Client struct {
	baseURL   string
	transport *http.Transport
	client    *http.Client
}

// Ping implements transport.Client.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var resp PingResponse
	if err := c.get(ctx, PathPing, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

// GetMetrics implements transport.Client.
func (c *Client) GetMetrics(ctx context.Context) (*models.MetricsPayload, error) {
	var payload models.MetricsPayload
	if err := c.get(ctx, PathMetrics, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Close drops pooled connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// get performs a single GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var fault ErrorResponse
		if err := json.Unmarshal(body, &fault); err == nil && fault.Error.Message != "" {
			return &transport.Fault{Code: fault.Error.Code, Message: fault.Error.Message}
		}
		return &statusError{statusCode: resp.StatusCode}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError indicates a non-2xx response without a fault body.
type statusError struct {
	statusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("agent returned %d", e.statusCode)
}

// IsStatus reports whether err is a bare HTTP status failure with the given code.
func IsStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.statusCode == code
}
