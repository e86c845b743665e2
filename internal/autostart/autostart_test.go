package autostart

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemdUnit(t *testing.T) {
	unit, err := SystemdUnit(Unit{
		Name:        "vitalis-collector",
		Description: "Vitalis Collector",
		ExecPath:    "/opt/vitalis/bin/vitalis-collector",
		Args:        []string{"-config", "/etc/vitalis/collector config.yaml"},
		DataDir:     "/var/lib/vitalis",
	})
	require.NoError(t, err)

	assert.Contains(t, unit, "Description=Vitalis Collector\n")
	assert.Contains(t, unit, `ExecStart=/opt/vitalis/bin/vitalis-collector -config "/etc/vitalis/collector config.yaml"`+"\n")
	assert.Contains(t, unit, "SyslogIdentifier=vitalis-collector\n")
	assert.Contains(t, unit, "ReadWritePaths=/var/lib/vitalis\n")
	assert.True(t, strings.HasSuffix(unit, "WantedBy=multi-user.target\n"))
}

func TestSystemdUnit_NoDataDir(t *testing.T) {
	unit, err := SystemdUnit(Unit{Name: "a", ExecPath: "/bin/a"})
	require.NoError(t, err)
	assert.NotContains(t, unit, "ReadWritePaths")
	assert.Contains(t, unit, "ExecStart=/bin/a\n")
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "plain", quote("plain"))
	assert.Equal(t, `""`, quote(""))
	assert.Equal(t, `"a \"b\""`, quote(`a "b"`))
}
