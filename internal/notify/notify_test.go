package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/config"
	"github.com/vitalis-app/collector/internal/models"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATS_PublishesBySeverity(t *testing.T) {
	srv := runServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("vitalis.alerts.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	n, err := New(config.NotifyConfig{NATSURL: srv.ClientURL(), Subject: "vitalis.alerts"}, zap.NewNop())
	require.NoError(t, err)
	defer n.Close()

	alerts := []models.Alert{
		{Endpoint: "a", MetricType: models.MetricCPUUsage, Severity: models.SeverityCritical, Value: 97, Threshold: 95},
		{Endpoint: "b", MetricType: models.MetricDiskUsage, Severity: models.SeverityWarning, Value: 91, Threshold: 90},
	}
	require.NoError(t, n.Publish(context.Background(), alerts))

	got := map[string]models.Alert{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-msgs:
			var a models.Alert
			require.NoError(t, json.Unmarshal(m.Data, &a))
			got[m.Subject] = a
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for alert")
		}
	}
	assert.Equal(t, 97.0, got["vitalis.alerts.critical"].Value)
	assert.Equal(t, "b", got["vitalis.alerts.warning"].Endpoint)
}

func TestNew_WithoutURLIsNop(t *testing.T) {
	n, err := New(config.NotifyConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Publish(context.Background(), []models.Alert{{}}))
	assert.NoError(t, n.Close())
}
