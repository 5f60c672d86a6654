// Package config loads and validates surge configuration from YAML
// files and SURGE_* environment variables.
package config

import (
	"fmt"

	"github.com/AssortedFood/surge/internal/catalog"
	"github.com/AssortedFood/surge/internal/logging"
	"github.com/AssortedFood/surge/internal/mentions"
	"github.com/AssortedFood/surge/internal/oracle"
	"github.com/AssortedFood/surge/internal/telemetry"
)

// Catalog source kinds.
const (
	CatalogSourceHTTP = "http"
	CatalogSourceFile = "file"
)

// CatalogConfig selects and parameterizes the item catalog source.
type CatalogConfig struct {
	// Source is "http" or "file".
	Source string `koanf:"source"`

	// Path is the catalog JSON file, used when Source is "file".
	Path string `koanf:"path"`

	// HTTP parameterizes the remote catalog, used when Source is "http".
	HTTP catalog.HTTPConfig `koanf:"http"`
}

// Validate checks the catalog section.
func (c *CatalogConfig) Validate() error {
	switch c.Source {
	case CatalogSourceHTTP:
		if c.HTTP.URL == "" {
			return fmt.Errorf("catalog.http.url is required when catalog.source is %q", CatalogSourceHTTP)
		}
	case CatalogSourceFile:
		if c.Path == "" {
			return fmt.Errorf("catalog.path is required when catalog.source is %q", CatalogSourceFile)
		}
	default:
		return fmt.Errorf("catalog.source must be %q or %q, got %q", CatalogSourceHTTP, CatalogSourceFile, c.Source)
	}
	return nil
}

// Config is the root surge configuration.
type Config struct {
	Logging    *logging.Config   `koanf:"logging"`
	Oracle     oracle.Config     `koanf:"oracle"`
	Catalog    CatalogConfig     `koanf:"catalog"`
	Extraction mentions.Config   `koanf:"extraction"`
	Telemetry  *telemetry.Config `koanf:"telemetry"`
}

// New returns a Config populated with defaults. Loading merges file and
// environment values on top of this.
func New() *Config {
	return &Config{
		Logging:    logging.NewDefaultConfig(),
		Oracle:     oracle.DefaultConfig(),
		Catalog:    defaultCatalogConfig(),
		Extraction: mentions.DefaultConfig(),
		Telemetry:  telemetry.NewDefaultConfig(),
	}
}

func defaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Source: CatalogSourceHTTP,
		HTTP:   catalog.DefaultHTTPConfig(),
	}
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if c.Logging == nil {
		return fmt.Errorf("logging section is required")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}
