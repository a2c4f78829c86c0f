package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-interpretation-server/internal/domain"
)

func TestNewManager_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	m, err := NewManager("")
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gnomad_r2_1", cfg.ExternalAPI.GnomAD.Dataset)
	assert.Equal(t, "exome_popmax", cfg.ExternalAPI.GnomAD.QueryShape)
	assert.Equal(t, 10*time.Second, cfg.ExternalAPI.GnomAD.Timeout)
	assert.Equal(t, 5, cfg.ExternalAPI.PubMed.MaxCitations)
	assert.True(t, cfg.ExternalAPI.PubMed.ResolveTitle)
	assert.Equal(t, 350*time.Millisecond, cfg.ExternalAPI.PubMed.RequestInterval)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 300*time.Millisecond, cfg.Pipeline.PacingInterval)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.CacheTTL)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.True(t, m.IsDevelopment())
}

func TestNewManager_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
server:
  port: 9090
external_api:
  gnomad:
    query_shape: allele_frequency
pipeline:
  workers: 1
`), 0o644))

	t.Setenv("VIS_LLM_API_KEY", "secret")
	t.Setenv("VIS_PIPELINE_PACING_INTERVAL", "1s")

	m, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 9090, m.GetServerConfig().Port)
	assert.Equal(t, "allele_frequency", m.GetExternalAPIConfig().GnomAD.QueryShape)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.Equal(t, time.Second, cfg.Pipeline.PacingInterval)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.True(t, m.IsProduction())
}

func TestNewManager_MissingExplicitFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{name: "port out of range", mutate: func(c *domain.Config) { c.Server.Port = 70000 }},
		{name: "unknown query shape", mutate: func(c *domain.Config) { c.ExternalAPI.GnomAD.QueryShape = "exome" }},
		{name: "missing gnomAD url", mutate: func(c *domain.Config) { c.ExternalAPI.GnomAD.BaseURL = "" }},
		{name: "no citations", mutate: func(c *domain.Config) { c.ExternalAPI.PubMed.MaxCitations = 0 }},
		{name: "negative PubMed interval", mutate: func(c *domain.Config) { c.ExternalAPI.PubMed.RequestInterval = -time.Second }},
		{name: "no workers", mutate: func(c *domain.Config) { c.Pipeline.Workers = 0 }},
		{name: "bad log level", mutate: func(c *domain.Config) { c.Logging.Level = "verbose" }},
		{name: "bad log format", mutate: func(c *domain.Config) { c.Logging.Format = "xml" }},
	}

	t.Chdir(t.TempDir())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager("")
			require.NoError(t, err)
			tt.mutate(m.GetConfig())
			assert.Error(t, m.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)

	logger = NewLogger(domain.LoggingConfig{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
