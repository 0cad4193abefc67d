package gdpmcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromEnv builds a Config from environment variables.
//
// Host/port resolution order:
//  1. GDP_EXTERNAL_HOST / GDP_EXTERNAL_PORT (cloud / NAT / tunnel access)
//  2. GDP_HOST / GDP_PORT                   (direct appliance access)
func FromEnv() *Config {
	cfg := &Config{
		Appliance: ApplianceConfig{
			Host:         envOr("GDP_HOST", "localhost"),
			Port:         envOr("GDP_PORT", "8443"),
			ExternalHost: os.Getenv("GDP_EXTERNAL_HOST"),
			ExternalPort: os.Getenv("GDP_EXTERNAL_PORT"),
			ClientID:     os.Getenv("GDP_CLIENT_ID"),
			ClientSecret: os.Getenv("GDP_CLIENT_SECRET"),
			Username:     os.Getenv("GDP_USERNAME"),
			Password:     os.Getenv("GDP_PASSWORD"),
			VerifySSL:    strings.EqualFold(os.Getenv("GDP_VERIFY_SSL"), "true"),
		},
		Server: ServerConfig{
			Addr:          envOr("GDP_MCP_ADDR", ":8003"),
			RatePerMinute: envFloat("GDP_MCP_RATE_LIMIT"),
		},
		KeyStorePath:     envOr("GDP_MCP_KEY_STORE_PATH", DefaultKeyStorePath),
		CatalogCachePath: os.Getenv("GDP_MCP_CATALOG_CACHE"),
		Audit: AuditConfig{
			Backend: os.Getenv("GDP_MCP_AUDIT_BACKEND"),
			DSN:     os.Getenv("GDP_MCP_AUDIT_DSN"),
		},
	}
	return cfg
}

// LoadConfig reads and parses a config file from the given path, then fills
// any unset field from the environment. Supported formats: JSON (.json),
// YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	cfg.fillFromEnv()
	return &cfg, nil
}

// fillFromEnv overlays environment values onto unset fields so a partial
// config file can still be completed from the process environment.
func (c *Config) fillFromEnv() {
	env := FromEnv()
	if c.Appliance.Host == "" {
		c.Appliance.Host = env.Appliance.Host
	}
	if c.Appliance.Port == "" {
		c.Appliance.Port = env.Appliance.Port
	}
	if c.Appliance.ExternalHost == "" {
		c.Appliance.ExternalHost = env.Appliance.ExternalHost
	}
	if c.Appliance.ExternalPort == "" {
		c.Appliance.ExternalPort = env.Appliance.ExternalPort
	}
	if c.Appliance.ClientID == "" {
		c.Appliance.ClientID = env.Appliance.ClientID
	}
	if c.Appliance.ClientSecret == "" {
		c.Appliance.ClientSecret = env.Appliance.ClientSecret
	}
	if c.Appliance.Username == "" {
		c.Appliance.Username = env.Appliance.Username
	}
	if c.Appliance.Password == "" {
		c.Appliance.Password = env.Appliance.Password
	}
	if c.Server.Addr == "" {
		c.Server.Addr = env.Server.Addr
	}
	if c.Server.RatePerMinute == 0 {
		c.Server.RatePerMinute = env.Server.RatePerMinute
	}
	if c.KeyStorePath == "" {
		c.KeyStorePath = env.KeyStorePath
	}
	if c.CatalogCachePath == "" {
		c.CatalogCachePath = env.CatalogCachePath
	}
	if c.Audit.Backend == "" {
		c.Audit = env.Audit
	}
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	if cfg.Appliance.EffectiveHost() == "" {
		return fmt.Errorf("appliance host is required")
	}
	if cfg.Appliance.EffectivePort() == "" {
		return fmt.Errorf("appliance port is required")
	}
	if cfg.Appliance.ClientID == "" || cfg.Appliance.ClientSecret == "" {
		return fmt.Errorf("appliance client_id and client_secret are required")
	}
	if cfg.Appliance.Username == "" || cfg.Appliance.Password == "" {
		return fmt.Errorf("appliance username and password are required")
	}
	if cfg.KeyStorePath == "" {
		return fmt.Errorf("key store path is required")
	}
	if cfg.Server.RatePerMinute < 0 {
		return fmt.Errorf("rate_per_minute must not be negative")
	}
	switch cfg.Audit.Backend {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown audit backend: %q", cfg.Audit.Backend)
	}
	if cfg.Audit.Backend == "postgres" && cfg.Audit.DSN == "" {
		return fmt.Errorf("audit backend %q requires a dsn", cfg.Audit.Backend)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
