package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/transport"
)

func endpointFor(t *testing.T, srv *httptest.Server) models.Endpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return models.Endpoint{Name: "test", Host: host, Port: port, Protocol: models.ProtocolHTTP}
}

func dial(t *testing.T, srv *httptest.Server) transport.Client {
	t.Helper()
	c, err := NewDialer().Dial(context.Background(), endpointFor(t, srv))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_PingAndMetrics(t *testing.T) {
	temp := 55.5
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc(PathPing, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PingResponse{Reply: transport.PingAck})
	})
	mux.HandleFunc(PathMetrics, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.MetricsPayload{
			Hostname:       "box",
			Timestamp:      &ts,
			CPUUsage:       12.5,
			CPUTemperature: &temp,
			Load:           models.LoadAverage{Load1: 0.5, Load5: 0.4, Load15: 0.3},
			Memory:         models.Usage{Total: 8, Used: 2, Percent: 25},
			Disk:           models.Usage{Total: 100, Used: 50, Percent: 50},
			SecurityIssues: []string{"x"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := dial(t, srv)

	reply, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.PingAck, reply)

	payload, err := c.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "box", payload.Hostname)
	assert.Equal(t, 12.5, payload.CPUUsage)
	require.NotNil(t, payload.CPUTemperature)
	assert.Equal(t, 55.5, *payload.CPUTemperature)
	assert.Equal(t, []string{"x"}, payload.SecurityIssues)
	require.NotNil(t, payload.Timestamp)
	assert.True(t, ts.Equal(*payload.Timestamp))
}

func TestClient_NullTemperatureStaysAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cpu_usage": 3, "cpu_temperature": null}`))
	}))
	defer srv.Close()

	payload, err := dial(t, srv).GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Nil(t, payload.CPUTemperature)
}

func TestClient_FaultResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorBody{Code: 7, Message: "sensor exploded"}})
	}))
	defer srv.Close()

	_, err := dial(t, srv).GetMetrics(context.Background())
	require.Error(t, err)

	var fault *transport.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, 7, fault.Code)
	assert.Equal(t, "sensor exploded", fault.Message)
}

func TestClient_BareStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := dial(t, srv).Ping(context.Background())
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := dial(t, srv).GetMetrics(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDialer_RejectsMissingAddress(t *testing.T) {
	_, err := NewDialer().Dial(context.Background(), models.Endpoint{Name: "x"})
	assert.Error(t, err)
}
