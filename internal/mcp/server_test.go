package mcp

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/pipeline"
)

type fakeRunner struct {
	lastRequest pipeline.Request
	err         error
	cancelled   bool
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (*domain.BatchResult, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	batch := &domain.BatchResult{ID: "batch-1", Total: len(req.Variants)}
	for _, v := range req.Variants {
		if v.Chromosome != "1" {
			batch.Unmatched = append(batch.Unmatched, v)
			continue
		}
		batch.Records = append(batch.Records, domain.AnnotatedRecord{
			Variant:  v,
			Matched:  true,
			Clinical: &domain.ClinicalRecord{Gene: null.StringFrom("BRCA1"), ClinicalSignificance: null.StringFrom("Pathogenic")},
			Validity: "Definitive",
			Literature: domain.LiteratureResult{
				Status:    domain.LiteratureFound,
				Citations: []domain.Citation{{PMID: "101"}, {PMID: "102"}},
			},
			Frequency:      domain.FrequencyNoDataResult(),
			Interpretation: "Likely pathogenic.",
		})
		batch.Matched++
	}
	if f.cancelled {
		batch.Cancelled = true
		return batch, context.Canceled
	}
	return batch, nil
}

func (f *fakeRunner) Classify(gene string) string {
	if gene == "BRCA1" {
		return "Definitive"
	}
	return domain.ValidityUnknown
}

func (f *fakeRunner) LookupValidity(gene string) (domain.GeneDiseaseValidity, bool) {
	if gene == "BRCA1" {
		return domain.GeneDiseaseValidity{GeneSymbol: "BRCA1", DiseaseLabel: "hereditary breast carcinoma", Classification: "Definitive"}, true
	}
	return domain.GeneDiseaseValidity{}, false
}

func newTestServer(runner BatchRunner) *Server {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewServer(domain.MCPConfig{}, runner, logger)
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer(t *testing.T) {
	server := newTestServer(&fakeRunner{})

	assert.NotNil(t, server.mcpServer)
	assert.Equal(t, "variant-interpretation-server", server.config.ServerName)
	assert.Equal(t, "1.0.0", server.config.ServerVersion)
}

func TestHandleAnnotateVariants_Inline(t *testing.T) {
	runner := &fakeRunner{}
	server := newTestServer(runner)

	result, out, err := server.handleAnnotateVariants(t.Context(), nil, AnnotateVariantsParams{
		Variants: []VariantParam{
			{Chrom: "1", Pos: 12345, Ref: "A", Alt: "G"},
			{Chrom: "2", Pos: 10, Ref: "C", Alt: "T"},
		},
		APIKey: "sk-test",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Matched 1 of 2 variants")
	assert.Contains(t, text, "PubMed: 101, 102")
	assert.Contains(t, text, "Likely pathogenic.")
	assert.Contains(t, text, "No ClinVar match")

	batch, ok := out.(*domain.BatchResult)
	require.True(t, ok)
	assert.Equal(t, 1, batch.Matched)
	assert.Equal(t, "sk-test", runner.lastRequest.APIKey)
}

func TestHandleAnnotateVariants_Content(t *testing.T) {
	runner := &fakeRunner{}
	server := newTestServer(runner)

	result, _, err := server.handleAnnotateVariants(t.Context(), nil, AnnotateVariantsParams{
		Content:  "CHROM,POS,REF,ALT\n1,12345,A,G\n",
		Filename: "variants.csv",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, runner.lastRequest.Variants, 1)
	assert.Equal(t, 12345, runner.lastRequest.Variants[0].Position)
}

func TestHandleAnnotateVariants_Errors(t *testing.T) {
	tests := []struct {
		name     string
		params   AnnotateVariantsParams
		runErr   error
		contains string
	}{
		{
			name:     "no input",
			params:   AnnotateVariantsParams{},
			contains: "Invalid variants",
		},
		{
			name: "both inputs",
			params: AnnotateVariantsParams{
				Variants: []VariantParam{{Chrom: "1", Pos: 1, Ref: "A", Alt: "G"}},
				Content:  "CHROM,POS,REF,ALT\n1,1,A,G\n",
			},
			contains: "not both",
		},
		{
			name:     "invalid variant",
			params:   AnnotateVariantsParams{Variants: []VariantParam{{Chrom: "1", Pos: 0, Ref: "A", Alt: "G"}}},
			contains: "variant 1",
		},
		{
			name:     "missing credential",
			params:   AnnotateVariantsParams{Variants: []VariantParam{{Chrom: "1", Pos: 1, Ref: "A", Alt: "G"}}},
			runErr:   domain.ErrMissingCredential,
			contains: "API key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(&fakeRunner{err: tt.runErr})

			result, out, err := server.handleAnnotateVariants(t.Context(), nil, tt.params)
			require.NoError(t, err)
			assert.Nil(t, out)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.contains)
		})
	}
}

func TestHandleAnnotateVariants_CancelledReturnsPartial(t *testing.T) {
	server := newTestServer(&fakeRunner{cancelled: true})

	result, out, err := server.handleAnnotateVariants(t.Context(), nil, AnnotateVariantsParams{
		Variants: []VariantParam{{Chrom: "1", Pos: 1, Ref: "A", Alt: "G"}},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cancelled after 1 rows")
	assert.NotNil(t, out)
}

func TestHandleClassifyGene(t *testing.T) {
	server := newTestServer(&fakeRunner{})

	result, out, err := server.handleClassifyGene(t.Context(), nil, ClassifyGeneParams{Gene: "BRCA1"})
	require.NoError(t, err)
	assert.Equal(t, "BRCA1: Definitive (hereditary breast carcinoma)", resultText(t, result))
	assert.Equal(t, ClassifyGeneResult{
		Gene:           "BRCA1",
		Symbol:         "BRCA1",
		Classification: "Definitive",
		DiseaseLabel:   "hereditary breast carcinoma",
	}, out)

	result, _, err = server.handleClassifyGene(t.Context(), nil, ClassifyGeneParams{Gene: "NOVEL1"})
	require.NoError(t, err)
	assert.Equal(t, "NOVEL1: unknown", resultText(t, result))

	result, _, err = server.handleClassifyGene(t.Context(), nil, ClassifyGeneParams{Gene: "  "})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
