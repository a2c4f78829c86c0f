package domain

import (
	"context"

	"gopkg.in/guregu/null.v3"
)

// FrequencySource looks up population frequency statistics for a variant.
// Implementations never return a Go error; failures are carried in the result.
type FrequencySource interface {
	FetchFrequency(ctx context.Context, variant Variant) FrequencyResult
}

// LiteratureSource resolves a clinical record identifier to citations
type LiteratureSource interface {
	FetchReferences(ctx context.Context, recordID null.String) LiteratureResult
}

// Generator is an opaque text-generation service
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetExternalAPIConfig() *ExternalAPIConfig
	Validate() error
}
