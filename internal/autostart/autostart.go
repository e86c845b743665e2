// Package autostart registers a Vitalis binary to start at boot: a systemd
// unit on Linux, an SCM service on Windows.
package autostart

import (
	"bytes"
	"errors"
	"strings"
	"text/template"
)

// ErrUnsupported is returned on platforms without a boot integration.
var ErrUnsupported = errors.New("autostart is not supported on this platform")

// Unit describes the service to register.
type Unit struct {
	// Name is the systemd unit or SCM service name.
	Name        string
	DisplayName string
	Description string
	ExecPath    string
	Args        []string
	// DataDir is created on install and left writable under systemd hardening.
	DataDir string
}

// Manager installs and removes a Unit.
type Manager interface {
	IsInstalled(name string) (bool, error)
	Install(u Unit) error
	Uninstall(name string) error
}

var systemdTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description={{.Description}}
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Command}}
Restart=always
RestartSec=10
StandardOutput=journal
StandardError=journal
SyslogIdentifier={{.Name}}
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=true
{{- if .DataDir}}
ReadWritePaths={{.DataDir}}
WorkingDirectory={{.DataDir}}
{{- end}}
PrivateTmp=true

[Install]
WantedBy=multi-user.target
`))

// SystemdUnit renders u as a systemd unit file.
func SystemdUnit(u Unit) (string, error) {
	var buf bytes.Buffer
	err := systemdTemplate.Execute(&buf, struct {
		Unit
		Command string
	}{u, commandLine(u)})
	return buf.String(), err
}

func commandLine(u Unit) string {
	parts := make([]string, 0, len(u.Args)+1)
	parts = append(parts, quote(u.ExecPath))
	for _, a := range u.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
