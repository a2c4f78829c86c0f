package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/variant-interpretation-server/internal/domain"
)

// EnvPrefix is prepended to every environment variable override, e.g. VIS_LLM_API_KEY
const EnvPrefix = "VIS"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	file   string
	config *domain.Config
}

// NewManager creates a new configuration manager. When configFile is empty
// config.yaml is searched for in the usual locations and is optional.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{file: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from defaults, the config file and the environment
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.file != "" {
		v.SetConfigFile(m.file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/variant-interpretation-server/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.file != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values. Every key needs a default
// so that AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_upload_bytes", 64<<20)

	// Reference data
	v.SetDefault("reference.clinvar_path", "data/clinvar.vcf.gz")
	v.SetDefault("reference.validity_path", "data/clingen_gene_disease_validity.csv")

	// External API defaults
	v.SetDefault("external_api.gnomad.base_url", "https://gnomad.broadinstitute.org/api")
	v.SetDefault("external_api.gnomad.browser_url", "https://gnomad.broadinstitute.org")
	v.SetDefault("external_api.gnomad.dataset", "gnomad_r2_1")
	v.SetDefault("external_api.gnomad.query_shape", "exome_popmax")
	v.SetDefault("external_api.gnomad.timeout", "10s")

	v.SetDefault("external_api.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/")
	v.SetDefault("external_api.pubmed.api_key", "")
	v.SetDefault("external_api.pubmed.email", "")
	v.SetDefault("external_api.pubmed.tool", "variant-interpretation-server")
	v.SetDefault("external_api.pubmed.timeout", "10s")
	v.SetDefault("external_api.pubmed.max_citations", 5)
	v.SetDefault("external_api.pubmed.resolve_titles", true)
	v.SetDefault("external_api.pubmed.request_interval", "350ms")

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.pacing_interval", "300ms")
	v.SetDefault("pipeline.cache_size", 10000)
	v.SetDefault("pipeline.cache_ttl", "24h")

	// Text generation defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.rate_limit", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "variant-interpretation-server")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetExternalAPIConfig returns external API configuration
func (m *Manager) GetExternalAPIConfig() *domain.ExternalAPIConfig {
	return &m.config.ExternalAPI
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration. A missing LLM API key is not a
// configuration error; batches fail on it instead.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.ExternalAPI.GnomAD.BaseURL == "" {
		return fmt.Errorf("gnomAD base URL is required")
	}
	switch config.ExternalAPI.GnomAD.QueryShape {
	case "exome_popmax", "allele_frequency":
	default:
		return fmt.Errorf("invalid gnomAD query shape: %s", config.ExternalAPI.GnomAD.QueryShape)
	}
	if config.ExternalAPI.PubMed.BaseURL == "" {
		return fmt.Errorf("PubMed base URL is required")
	}
	if config.ExternalAPI.PubMed.MaxCitations <= 0 {
		return fmt.Errorf("invalid PubMed max citations: %d", config.ExternalAPI.PubMed.MaxCitations)
	}
	if config.ExternalAPI.PubMed.RequestInterval < 0 {
		return fmt.Errorf("invalid PubMed request interval: %s", config.ExternalAPI.PubMed.RequestInterval)
	}

	if config.Pipeline.Workers <= 0 {
		return fmt.Errorf("invalid pipeline workers: %d", config.Pipeline.Workers)
	}
	if config.Pipeline.PacingInterval < 0 {
		return fmt.Errorf("invalid pacing interval: %s", config.Pipeline.PacingInterval)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	switch strings.ToLower(config.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
