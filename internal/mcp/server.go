// Package mcp exposes the annotation pipeline as Model Context Protocol tools
// over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/pipeline"
)

// BatchRunner runs annotation batches and answers validity lookups
type BatchRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.BatchResult, error)
	Classify(gene string) string
	LookupValidity(gene string) (domain.GeneDiseaseValidity, bool)
}

// Server represents the MCP server
type Server struct {
	config    domain.MCPConfig
	service   BatchRunner
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance with its tools registered
func NewServer(config domain.MCPConfig, service BatchRunner, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.ServerName == "" {
		config.ServerName = "variant-interpretation-server"
	}
	if config.ServerVersion == "" {
		config.ServerVersion = "1.0.0"
	}

	s := &Server{
		config:  config,
		service: service,
		logger:  logger,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    config.ServerName,
		Version: config.ServerVersion,
	}, nil)
	s.registerTools()

	return s
}

// registerTools registers the annotation tools with the MCP SDK
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "annotate_variants",
		Description: "Annotate genomic variants with ClinVar clinical significance, ClinGen gene-disease validity, " +
			"gnomAD population frequency and PubMed citations, then generate a clinical interpretation per variant. " +
			"Pass either a list of variants or the text of a VCF/CSV/TSV file.",
	}, s.handleAnnotateVariants)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "classify_gene",
		Description: "Look up the ClinGen gene-disease validity classification for a gene symbol.",
	}, s.handleClassifyGene)

	s.logger.WithField("tool_count", 2).Debug("Registered MCP tools")
}

// Start runs the MCP server over stdio until ctx is cancelled or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"name":    s.config.ServerName,
		"version": s.config.ServerVersion,
	}).Info("Starting MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// createErrorResult creates a standardized error result for tool calls
func createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
