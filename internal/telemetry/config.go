package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Config holds metric export configuration. Export is disabled by
// default; the instruments in this package stay no-ops until a
// MeterProvider is installed via Setup.
type Config struct {
	Enabled        bool          `koanf:"enabled"`
	Endpoint       string        `koanf:"endpoint"`
	Protocol       string        `koanf:"protocol"` // grpc or http/protobuf
	ServiceName    string        `koanf:"service_name"`
	ServiceVersion string        `koanf:"service_version"`
	Insecure       bool          `koanf:"insecure"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

// NewDefaultConfig returns telemetry defaults. Disabled unless the
// deployment has an OTLP collector to send to.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "surge",
		ServiceVersion: "0.1.0",
		Insecure:       true,
		ExportInterval: 15 * time.Second,
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	// Plaintext export is only acceptable on the loopback.
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false or use a local endpoint")
	}
	if c.ExportInterval <= 0 {
		return fmt.Errorf("export_interval must be positive")
	}
	return nil
}

func (c *Config) isLocalEndpoint() bool {
	host := c.Endpoint
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(c.Endpoint, "::1")
}
