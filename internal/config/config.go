// Package config parses the HCL configuration file for the notices server.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the top-level configuration.
type Config struct {
	// BaseURL is the externally reachable URL of the service, exposed to
	// templates as the base_url context value.
	BaseURL string `hcl:"base_url,optional"`

	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `hcl:"listen_addr,optional"`

	// DefaultTemplateWeight seeds new templates that do not set a weight.
	DefaultTemplateWeight int `hcl:"default_template_weight,optional"`

	// AllowedTargetTypes restricts which object types may appear in
	// template scopes. Empty means all supported types.
	AllowedTargetTypes []string `hcl:"allowed_target_types,optional"`

	// InventoryPath is the YAML file holding events, impacts, parties and
	// contacts.
	InventoryPath string `hcl:"inventory_path,optional"`

	Postgres *Postgres `hcl:"postgres,block"`
	Journal  *Journal  `hcl:"journal,block"`
	LogLevel string    `hcl:"log_level,optional"`
}

// Postgres holds database connection settings.
type Postgres struct {
	Host     string `hcl:"host"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname"`
	SSLMode  string `hcl:"sslmode,optional"`
}

// Journal configures where lifecycle audit entries are delivered.
type Journal struct {
	// Sink is "db", "log", or "kafka".
	Sink    string   `hcl:"sink,optional"`
	Brokers []string `hcl:"brokers,optional"`
	Topic   string   `hcl:"topic,optional"`
}

// NewConfig parses the HCL file at path and applies defaults.
func NewConfig(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("error decoding configuration file: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Postgres == nil {
		return nil, fmt.Errorf("missing required postgres block")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8000"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://" + c.ListenAddr
	}
	if c.DefaultTemplateWeight == 0 {
		c.DefaultTemplateWeight = 1000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Postgres != nil {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
	}
	if c.Journal == nil {
		c.Journal = &Journal{}
	}
	if c.Journal.Sink == "" {
		c.Journal.Sink = "db"
	}
	if c.Journal.Topic == "" {
		c.Journal.Topic = "notices.journal"
	}
}
