package models

import (
	"net"
	"strconv"
	"time"
)

// Wire protocols an endpoint can speak.
const (
	ProtocolHTTP   = "http"
	ProtocolXMLRPC = "xmlrpc"
)

// Endpoint is a remote host being monitored.
type Endpoint struct {
	Name     string    `json:"name" yaml:"name"`
	Host     string    `json:"host" yaml:"host"`
	Port     int       `json:"port" yaml:"port"`
	Protocol string    `json:"protocol" yaml:"protocol"`
	Enabled  bool      `json:"enabled" yaml:"enabled"`
	AddedAt  time.Time `json:"added_at" yaml:"added_at"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ConnectionState is the live connection bookkeeping for one endpoint.
type ConnectionState struct {
	Connected           bool       `json:"connected"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}
