package xmlrpc

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
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

const metricsResponse = `<?xml version="1.0"?>
<methodResponse><params><param><value><struct>
<member><name>hostname</name><value><string>legacy-1</string></value></member>
<member><name>timestamp</name><value><string>2026-03-04T05:06:07.250000</string></value></member>
<member><name>cpu_temperature</name><value><nil/></value></member>
<member><name>cpu_usage</name><value><double>42.5</double></value></member>
<member><name>system_load</name><value><struct>
  <member><name>1min</name><value><double>1.5</double></value></member>
  <member><name>5min</name><value><double>1.0</double></value></member>
  <member><name>15min</name><value><int>1</int></value></member>
</struct></value></member>
<member><name>memory_usage</name><value><struct>
  <member><name>total</name><value><double>16</double></value></member>
  <member><name>used</name><value><double>4</double></value></member>
  <member><name>percent</name><value><double>25</double></value></member>
</struct></value></member>
<member><name>disk</name><value><struct>
  <member><name>total</name><value><i8>1000</i8></value></member>
  <member><name>used</name><value><i4>900</i4></value></member>
  <member><name>percent</name><value><double>90</double></value></member>
</struct></value></member>
<member><name>security_threats</name><value><struct>
  <member><name>status</name><value><string>WARNING</string></value></member>
  <member><name>issues</name><value><array><data>
    <value><string>Suspicious process: x (PID: 1) from /tmp/x</string></value>
  </data></array></value></member>
</struct></value></member>
</struct></value></param></params></methodResponse>`

const faultResponse = `<?xml version="1.0"?>
<methodResponse><fault><value><struct>
<member><name>faultCode</name><value><int>1</int></value></member>
<member><name>faultString</name><value><string>boom</string></value></member>
</struct></value></fault></methodResponse>`

func pingResponse(reply string) string {
	return `<?xml version="1.0"?><methodResponse><params><param><value><string>` +
		reply + `</string></value></param></params></methodResponse>`
}

func newServer(t *testing.T, responses map[string]string) (*httptest.Server, models.Endpoint) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != Path || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var call struct {
			MethodName string `xml:"methodName"`
		}
		if err := xml.Unmarshal(body, &call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, ok := responses[call.MethodName]
		if !ok {
			resp = faultResponse
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return srv, models.Endpoint{Name: "legacy", Host: host, Port: port, Protocol: models.ProtocolXMLRPC}
}

func TestClient_PingNormalizesReply(t *testing.T) {
	for _, reply := range []string{"pong", "PONG from legacy-1"} {
		_, ep := newServer(t, map[string]string{"ping": pingResponse(reply)})
		c, err := NewDialer().Dial(context.Background(), ep)
		require.NoError(t, err)

		got, err := c.Ping(context.Background())
		require.NoError(t, err)
		assert.Equal(t, transport.PingAck, got, "reply %q", reply)
	}
}

func TestClient_PingUnexpectedReply(t *testing.T) {
	_, ep := newServer(t, map[string]string{"ping": pingResponse("hello")})
	c, err := NewDialer().Dial(context.Background(), ep)
	require.NoError(t, err)

	got, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

var agentZone = time.FixedZone("agent", 2*60*60)

func TestClient_GetMetricsMapsLegacyPayload(t *testing.T) {
	_, ep := newServer(t, map[string]string{"get_metrics": metricsResponse})
	c, err := (&Dialer{Zone: agentZone}).Dial(context.Background(), ep)
	require.NoError(t, err)

	p, err := c.GetMetrics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "legacy-1", p.Hostname)
	require.NotNil(t, p.Timestamp)
	// The agent's naive isoformat() stamp is its local wall clock.
	assert.True(t, p.Timestamp.Equal(time.Date(2026, 3, 4, 3, 6, 7, 250000000, time.UTC)),
		"timestamp %v", p.Timestamp)
	assert.Nil(t, p.CPUTemperature)
	assert.Equal(t, 42.5, p.CPUUsage)
	assert.Equal(t, models.LoadAverage{Load1: 1.5, Load5: 1.0, Load15: 1}, p.Load)
	assert.Equal(t, models.Usage{Total: 16, Used: 4, Percent: 25}, p.Memory)
	assert.Equal(t, models.Usage{Total: 1000, Used: 900, Percent: 90}, p.Disk)
	assert.Equal(t, []string{"Suspicious process: x (PID: 1) from /tmp/x"}, p.SecurityIssues)
}

func TestClient_FaultIsTyped(t *testing.T) {
	_, ep := newServer(t, map[string]string{})
	c, err := NewDialer().Dial(context.Background(), ep)
	require.NoError(t, err)

	_, err = c.GetMetrics(context.Background())
	var fault *transport.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, 1, fault.Code)
	assert.Equal(t, "boom", fault.Message)
}

func TestClient_DateTimeValueReadInAgentZone(t *testing.T) {
	resp := `<?xml version="1.0"?><methodResponse><params><param><value><struct>
<member><name>timestamp</name><value><dateTime.iso8601>20260304T05:06:07</dateTime.iso8601></value></member>
<member><name>cpu_usage</name><value><int>7</int></value></member>
</struct></value></param></params></methodResponse>`
	_, ep := newServer(t, map[string]string{"get_metrics": resp})
	c, err := (&Dialer{Zone: agentZone}).Dial(context.Background(), ep)
	require.NoError(t, err)

	p, err := c.GetMetrics(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p.Timestamp)
	assert.True(t, p.Timestamp.Equal(time.Date(2026, 3, 4, 3, 6, 7, 0, time.UTC)), "timestamp %v", p.Timestamp)
	assert.Equal(t, 7.0, p.CPUUsage)
}

func TestParseTime_OffsetWins(t *testing.T) {
	got, ok := parseTime("2026-03-04T05:06:07+00:00", agentZone)
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)))

	_, ok = parseTime("yesterday", agentZone)
	assert.False(t, ok)
}

func TestClient_HonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := NewDialer().Dial(context.Background(), models.Endpoint{Name: "slow", Host: host, Port: port})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Ping(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSecurityIssues_ListOfThreats(t *testing.T) {
	got := securityIssues([]interface{}{
		map[string]interface{}{"type": "brute_force", "description": "Multiple failed SSH login attempts detected (12)"},
		map[string]interface{}{"type": "unusual_port"},
		"plain",
	})
	assert.Equal(t, []string{
		"Multiple failed SSH login attempts detected (12)",
		"unusual_port",
		"plain",
	}, got)
}

func TestSecurityIssues_EmptyWhenAbsent(t *testing.T) {
	got := securityIssues(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
