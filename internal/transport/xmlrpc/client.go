// Package xmlrpc implements the agent protocol as XML-RPC over HTTP, for
// legacy agents that expose ping and get_metrics through an XML-RPC server.
package xmlrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	kolo "github.com/kolo/xmlrpc"

	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/transport"
)

const (
	// Path is the conventional XML-RPC route.
	Path = "/RPC2"

	maxBodyBytes = 1 << 20
	dialTimeout  = 5 * time.Second
)

// Dialer creates XML-RPC clients for endpoints.
type Dialer struct {
	// Zone is where the agents' zoneless timestamps are read. Legacy agents
	// report local wall-clock time.
	Zone *time.Location
}

// NewDialer returns a Dialer that reads zoneless agent timestamps in the
// collector's local zone.
func NewDialer() *Dialer {
	return &Dialer{Zone: time.Local}
}

// Dial builds a client. No network traffic happens until the first call.
func (d *Dialer) Dial(_ context.Context, ep models.Endpoint) (transport.Client, error) {
	if ep.Host == "" || ep.Port <= 0 {
		return nil, fmt.Errorf("endpoint %s has no usable address", ep.Name)
	}
	zone := d.Zone
	if zone == nil {
		zone = time.Local
	}
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		url:       "http://" + ep.Address() + Path,
		zone:      zone,
		transport: tr,
		client:    &http.Client{Transport: tr},
	}, nil
}

// Client speaks XML-RPC to one agent. Calls are encoded and decoded with
// kolo/xmlrpc; the HTTP exchange is done here so that each call carries its
// context deadline.
type Client struct {
	url       string
	zone      *time.Location
	transport *http.Transport
	client    *http.Client
}

// Ping implements transport.Client. Legacy agents answer "pong" or
// "PONG from <host>"; both are normalized to transport.PingAck.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var reply string
	if err := c.call(ctx, "ping", &reply); err != nil {
		return "", err
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), transport.PingAck) {
		return transport.PingAck, nil
	}
	return reply, nil
}

// GetMetrics implements transport.Client.
func (c *Client) GetMetrics(ctx context.Context) (*models.MetricsPayload, error) {
	var m map[string]interface{}
	if err := c.call(ctx, "get_metrics", &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("get_metrics: empty reply")
	}
	return decodePayload(m, c.zone), nil
}

// Close drops pooled connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// call invokes a parameterless method and decodes its result into out.
// A <fault> reply becomes a *transport.Fault.
func (c *Client) call(ctx context.Context, method string, out interface{}) error {
	req, err := kolo.NewRequest(c.url, method, nil)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: agent returned %d", method, resp.StatusCode)
	}

	result := kolo.Response(data)
	if err := result.Err(); err != nil {
		var fault kolo.FaultError
		if errors.As(err, &fault) {
			return &transport.Fault{Code: fault.Code, Message: fault.String}
		}
		return fmt.Errorf("decode %s fault: %w", method, err)
	}
	if err := result.Unmarshal(out); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"20060102T15:04:05",
	"2006-01-02T15:04:05",
}

// parseTime accepts RFC 3339 and the naive ISO forms legacy agents emit.
// Times without an offset are read in zone.
func parseTime(s string, zone *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, zone); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// inZone reinterprets a dateTime.iso8601 value, which the decoder reads as
// UTC, as wall-clock time in zone.
func inZone(t time.Time, zone *time.Location) time.Time {
	if t.Location() != time.UTC {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// decodePayload maps the loosely typed legacy get_metrics struct onto the
// typed payload. Missing or mistyped fields are left at their zero value,
// except cpu_temperature which stays nil.
func decodePayload(m map[string]interface{}, zone *time.Location) *models.MetricsPayload {
	p := &models.MetricsPayload{}

	if h, ok := m["hostname"].(string); ok {
		p.Hostname = h
	}
	switch ts := m["timestamp"].(type) {
	case string:
		if t, ok := parseTime(ts, zone); ok {
			p.Timestamp = &t
		}
	case time.Time:
		t := inZone(ts, zone)
		p.Timestamp = &t
	}

	if v, ok := number(m["cpu_usage"]); ok {
		p.CPUUsage = v
	}
	if v, ok := number(m["cpu_temperature"]); ok {
		p.CPUTemperature = &v
	}

	if load, ok := m["system_load"].(map[string]interface{}); ok {
		p.Load.Load1, _ = number(load["1min"])
		p.Load.Load5, _ = number(load["5min"])
		p.Load.Load15, _ = number(load["15min"])
	}

	p.Memory = usage(firstOf(m, "memory", "memory_usage"))
	p.Disk = usage(firstOf(m, "disk", "disk_usage"))
	p.SecurityIssues = securityIssues(m["security_threats"])

	return p
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func usage(v interface{}) models.Usage {
	m, ok := v.(map[string]interface{})
	if !ok {
		return models.Usage{}
	}
	var u models.Usage
	u.Total, _ = number(m["total"])
	u.Used, _ = number(m["used"])
	u.Percent, _ = number(m["percent"])
	return u
}

// securityIssues accepts either a list of issues (strings or structs with a
// description) or a {status, issues} struct.
func securityIssues(v interface{}) []string {
	issues := []string{}
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if s := issueText(item); s != "" {
				issues = append(issues, s)
			}
		}
	case map[string]interface{}:
		if list, ok := t["issues"].([]interface{}); ok {
			for _, item := range list {
				if s := issueText(item); s != "" {
					issues = append(issues, s)
				}
			}
		}
	}
	return issues
}

func issueText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if d, ok := t["description"].(string); ok {
			return d
		}
		if typ, ok := t["type"].(string); ok {
			return typ
		}
	}
	return ""
}
