package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Reference   ReferenceConfig   `mapstructure:"reference"`
	ExternalAPI ExternalAPIConfig `mapstructure:"external_api"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	MCP         MCPConfig         `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// ReferenceConfig points at the local reference datasets loaded at startup
type ReferenceConfig struct {
	ClinVarPath  string `mapstructure:"clinvar_path"`
	ValidityPath string `mapstructure:"validity_path"`
}

// ExternalAPIConfig represents external API configuration
type ExternalAPIConfig struct {
	GnomAD GnomADConfig `mapstructure:"gnomad"`
	PubMed PubMedConfig `mapstructure:"pubmed"`
}

// GnomADConfig represents gnomAD API configuration
type GnomADConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	BrowserURL string        `mapstructure:"browser_url"`
	Dataset    string        `mapstructure:"dataset"`
	QueryShape string        `mapstructure:"query_shape"` // "exome_popmax", "allele_frequency"
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PubMedConfig represents NCBI E-utilities configuration
type PubMedConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Email        string        `mapstructure:"email"` // Requested by NCBI
	Tool         string        `mapstructure:"tool"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxCitations int           `mapstructure:"max_citations"`
	ResolveTitle bool          `mapstructure:"resolve_titles"`

	// Minimum spacing between E-utilities requests, elink and esummary alike. Zero disables pacing.
	RequestInterval time.Duration `mapstructure:"request_interval"`
}

// PipelineConfig controls batch scheduling
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"`
	PacingInterval time.Duration `mapstructure:"pacing_interval"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig represents text-generation service configuration
type LLMConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int64         `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json", "text"
	Output string `mapstructure:"output"` // "stdout", "stderr"
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
