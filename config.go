// Package gdpmcp mediates AI-agent access to an IBM Guardium Data Protection
// appliance. It exposes the appliance's REST API catalog behind an
// API-key-gated HTTP surface and handles the OAuth2 credential exchange with
// the appliance itself.
package gdpmcp

import "fmt"

// DefaultKeyStorePath is where issued API keys are persisted unless
// overridden via config or GDP_MCP_KEY_STORE_PATH.
const DefaultKeyStorePath = "/data/keys.json"

// Config holds the server configuration.
type Config struct {
	// Appliance is the GDP appliance connection settings.
	Appliance ApplianceConfig `json:"appliance" yaml:"appliance"`
	// Server is the inbound HTTP listener settings.
	Server ServerConfig `json:"server" yaml:"server"`
	// KeyStorePath is the JSON file holding issued API keys.
	KeyStorePath string `json:"key_store_path,omitempty" yaml:"key_store_path,omitempty"`
	// CatalogCachePath is the endpoint catalog cache file (optional).
	CatalogCachePath string `json:"catalog_cache_path,omitempty" yaml:"catalog_cache_path,omitempty"`
	// Audit configures the optional SQL-backed audit trail.
	Audit AuditConfig `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// ApplianceConfig describes how to reach the GDP appliance and authenticate
// against its OAuth token endpoint.
//
// Host/Port address the appliance directly; ExternalHost/ExternalPort, when
// set, take precedence and address it through a NAT gateway or tunnel.
type ApplianceConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         string `json:"port" yaml:"port"`
	ExternalHost string `json:"external_host,omitempty" yaml:"external_host,omitempty"`
	ExternalPort string `json:"external_port,omitempty" yaml:"external_port,omitempty"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`
	// VerifySSL controls TLS certificate verification towards the appliance.
	// GDP appliances commonly ship self-signed certificates, so this
	// defaults to false.
	VerifySSL bool `json:"verify_ssl" yaml:"verify_ssl"`
}

// ServerConfig is the inbound listener configuration. RatePerMinute caps
// catalog and execute calls per API key; zero disables the limiter.
type ServerConfig struct {
	Addr          string  `json:"addr,omitempty" yaml:"addr,omitempty"`
	RatePerMinute float64 `json:"rate_per_minute,omitempty" yaml:"rate_per_minute,omitempty"`
}

// AuditConfig selects the audit trail backend. Backend is "sqlite",
// "postgres", or empty to disable auditing.
type AuditConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// EffectiveHost returns the host used for appliance calls, preferring the
// external override.
func (a ApplianceConfig) EffectiveHost() string {
	if a.ExternalHost != "" {
		return a.ExternalHost
	}
	return a.Host
}

// EffectivePort returns the port used for appliance calls, preferring the
// external override.
func (a ApplianceConfig) EffectivePort() string {
	if a.ExternalPort != "" {
		return a.ExternalPort
	}
	return a.Port
}

// BaseURL returns the appliance REST API root.
func (a ApplianceConfig) BaseURL() string {
	return fmt.Sprintf("https://%s:%s/restAPI", a.EffectiveHost(), a.EffectivePort())
}

// TokenURL returns the appliance OAuth token endpoint.
func (a ApplianceConfig) TokenURL() string {
	return fmt.Sprintf("https://%s:%s/oauth/token", a.EffectiveHost(), a.EffectivePort())
}
