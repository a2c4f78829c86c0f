package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/input"
	"github.com/variant-interpretation-server/internal/pipeline"
	"github.com/variant-interpretation-server/internal/reference"
)

// VariantParam is one variant passed inline to annotate_variants
type VariantParam struct {
	Chrom string `json:"chrom"`
	Pos   int    `json:"pos"`
	Ref   string `json:"ref"`
	Alt   string `json:"alt"`
}

// AnnotateVariantsParams defines parameters for the annotate_variants tool
type AnnotateVariantsParams struct {
	Variants []VariantParam `json:"variants,omitempty"`
	Content  string         `json:"content,omitempty"`
	Filename string         `json:"filename,omitempty"`
	APIKey   string         `json:"api_key,omitempty"`
}

// ClassifyGeneParams defines parameters for the classify_gene tool
type ClassifyGeneParams struct {
	Gene string `json:"gene"`
}

// ClassifyGeneResult defines the result structure for the classify_gene tool
type ClassifyGeneResult struct {
	Gene           string `json:"gene"`
	Symbol         string `json:"symbol"`
	Classification string `json:"classification"`
	DiseaseLabel   string `json:"disease_label,omitempty"`
}

// handleAnnotateVariants handles the annotate_variants tool invocation
func (s *Server) handleAnnotateVariants(ctx context.Context, req *mcp.CallToolRequest, params AnnotateVariantsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "annotate_variants").Info("Tool invoked")

	variants, err := params.variants()
	if err != nil {
		return createErrorResult("Invalid variants", err), nil, nil
	}

	batch, err := s.service.Run(ctx, pipeline.Request{Variants: variants, APIKey: params.APIKey})
	if err != nil && !(batch != nil && errors.Is(err, context.Canceled)) {
		if errors.Is(err, domain.ErrMissingCredential) {
			return createErrorResult("Text-generation API key is required", err), nil, nil
		}
		return createErrorResult("Annotation failed", err), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summarizeBatch(batch)},
		},
	}, batch, nil
}

// handleClassifyGene handles the classify_gene tool invocation
func (s *Server) handleClassifyGene(ctx context.Context, req *mcp.CallToolRequest, params ClassifyGeneParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "classify_gene").Info("Tool invoked")

	if strings.TrimSpace(params.Gene) == "" {
		return createErrorResult("Missing required parameter", fmt.Errorf("gene is required")), nil, nil
	}

	result := ClassifyGeneResult{
		Gene:           params.Gene,
		Symbol:         reference.CleanGeneSymbol(params.Gene),
		Classification: s.service.Classify(params.Gene),
	}
	if row, ok := s.service.LookupValidity(params.Gene); ok {
		result.DiseaseLabel = row.DiseaseLabel
	}

	text := fmt.Sprintf("%s: %s", result.Symbol, result.Classification)
	if result.DiseaseLabel != "" {
		text += fmt.Sprintf(" (%s)", result.DiseaseLabel)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, result, nil
}

// variants resolves the inline list or the file content into variants
func (p AnnotateVariantsParams) variants() ([]domain.Variant, error) {
	if len(p.Variants) > 0 && p.Content != "" {
		return nil, fmt.Errorf("pass either variants or content, not both")
	}
	if p.Content != "" {
		return input.ParseVariants(p.Filename, strings.NewReader(p.Content))
	}
	if len(p.Variants) == 0 {
		return nil, domain.ErrNoVariants
	}

	out := make([]domain.Variant, 0, len(p.Variants))
	for i, v := range p.Variants {
		variant := domain.Variant{Chromosome: v.Chrom, Position: v.Pos, Reference: v.Ref, Alternate: v.Alt}
		if err := variant.Validate(); err != nil {
			return nil, fmt.Errorf("variant %d: %w", i+1, err)
		}
		out = append(out, variant)
	}
	return out, nil
}

// summarizeBatch renders a short human readable report of a batch
func summarizeBatch(batch *domain.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Matched %d of %d variants", batch.Matched, batch.Total)
	if batch.Cancelled {
		fmt.Fprintf(&b, " (cancelled after %d rows)", len(batch.Records))
	}
	b.WriteString("\n")

	for _, rec := range batch.Records {
		row := rec.Row()
		fmt.Fprintf(&b, "\n%s %s\n", rec.Variant.String(), row["GENE"])
		fmt.Fprintf(&b, "  ClinVar: %s | ClinGen: %s | gnomAD: %s\n", row["CLNSIG"], row["ClinGen_Validity"], row["gnomAD_Status"])
		if pmids := rec.Literature.PMIDs(); len(pmids) > 0 {
			fmt.Fprintf(&b, "  PubMed: %s\n", strings.Join(pmids, ", "))
		}
		fmt.Fprintf(&b, "  %s\n", rec.Interpretation)
	}

	if len(batch.Unmatched) > 0 {
		b.WriteString("\nNo ClinVar match:\n")
		for _, v := range batch.Unmatched {
			fmt.Fprintf(&b, "  %s\n", v.String())
		}
	}
	return b.String()
}
