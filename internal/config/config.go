// Package config decodes the ServerConfiguration TOML document cmd/weave
// reads for the serve subcommand, using the same github.com/BurntSushi/toml
// decoder the declarative schema loader (internal/schema.ParseTOMLFile) uses.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ServerConfiguration names the bind address, URL path prefix, JWT secret,
// connector DSN (or the literal "memory"), and schema file path
// `weave serve` needs.
type ServerConfiguration struct {
	BindAddress  string `toml:"bind_address"`
	URLPrefix    string `toml:"url_prefix"`
	JWTSecret    string `toml:"jwt_secret"`
	ConnectorDSN string `toml:"connector_dsn"`
	SchemaFile   string `toml:"schema_file"`
}

// IsMemoryConnector reports whether ConnectorDSN names the in-memory
// connector rather than a MySQL DSN.
func (c ServerConfiguration) IsMemoryConnector() bool {
	return c.ConnectorDSN == "" || c.ConnectorDSN == "memory"
}

// Load decodes a ServerConfiguration from a TOML file at path, filling in
// defaults for absent keys.
func Load(path string) (*ServerConfiguration, error) {
	cfg := &ServerConfiguration{
		BindAddress: "127.0.0.1:8080",
		ConnectorDSN: "memory",
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	if cfg.SchemaFile == "" {
		return nil, fmt.Errorf("config: %q: schema_file is required", path)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: %q: jwt_secret is required", path)
	}
	return cfg, nil
}
