package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/interpret"
	"github.com/variant-interpretation-server/internal/matcher"
	"github.com/variant-interpretation-server/internal/reference"
)

type stubFrequency struct {
	calls  int32
	result domain.FrequencyResult
	hook   func(call int32)
	delay  func(v domain.Variant) time.Duration
}

func (s *stubFrequency) FetchFrequency(ctx context.Context, v domain.Variant) domain.FrequencyResult {
	call := atomic.AddInt32(&s.calls, 1)
	if s.delay != nil {
		time.Sleep(s.delay(v))
	}
	if s.hook != nil {
		s.hook(call)
	}
	return s.result
}

type stubLiterature struct {
	result domain.LiteratureResult
}

func (s *stubLiterature) FetchReferences(ctx context.Context, id null.String) domain.LiteratureResult {
	return s.result
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func clinical(pos int, gene, id string) domain.ClinicalRecord {
	return domain.ClinicalRecord{
		Variant:              domain.Variant{Chromosome: "1", Position: pos, Reference: "A", Alternate: "G"},
		RecordID:             null.StringFrom(id),
		Gene:                 null.StringFrom(gene),
		ClinicalSignificance: null.StringFrom("Pathogenic"),
	}
}

func variant(pos int) domain.Variant {
	return domain.Variant{Chromosome: "1", Position: pos, Reference: "A", Alternate: "G"}
}

func fixtureTables() (*reference.ClinicalTable, *reference.ValidityTable) {
	clinicalTable := reference.NewClinicalTable("fixture", []domain.ClinicalRecord{
		clinical(12345, "BRCA1", "1001"),
		clinical(200, "TP53", "1002"),
		clinical(300, "MYH7", "1003"),
		clinical(400, "NOVEL1", "1004"),
	})
	validity := reference.NewValidityTable([]domain.GeneDiseaseValidity{
		{GeneSymbol: "BRCA1", DiseaseLabel: "hereditary breast carcinoma", Classification: "Definitive"},
		{GeneSymbol: "TP53", DiseaseLabel: "Li-Fraumeni syndrome", Classification: "Definitive"},
		{GeneSymbol: "MYH7", DiseaseLabel: "hypertrophic cardiomyopathy", Classification: "Strong"},
	})
	return clinicalTable, validity
}

func newService(freq domain.FrequencySource, gen domain.Generator, workers int) *Service {
	clinicalTable, validity := fixtureTables()
	return NewService(Dependencies{
		Reference:  clinicalTable,
		Validity:   validity,
		Frequency:  freq,
		Literature: &stubLiterature{result: domain.LiteratureResult{Status: domain.LiteratureNone, Citations: []domain.Citation{}}},
		Link:       func(v domain.Variant) string { return "https://gnomad.example/variant/" + v.GnomADID() },
		NewGenerator: func(apiKey string) (domain.Generator, error) {
			return gen, nil
		},
		APIKey: "test-key",
	}, domain.PipelineConfig{Workers: workers}, quietLogger())
}

func TestService_Run_ScenarioA(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("Likely pathogenic.", nil)

	svc := newService(&stubFrequency{result: domain.FrequencyNoDataResult()}, gen, 4)
	batch, err := svc.Run(context.Background(), Request{Variants: []domain.Variant{variant(12345)}})
	require.NoError(t, err)

	require.Len(t, batch.Records, 1)
	rec := batch.Records[0]
	assert.True(t, rec.Matched)
	assert.Equal(t, "BRCA1", rec.Clinical.Gene.String)
	assert.Equal(t, "Pathogenic", rec.Clinical.ClinicalSignificance.String)
	assert.Equal(t, "Definitive", rec.Validity)
	assert.Equal(t, domain.FrequencyNoData, rec.Frequency.Status)
	assert.Empty(t, rec.Literature.Citations)
	assert.Equal(t, "Likely pathogenic.", rec.Interpretation)
	assert.Equal(t, "https://gnomad.example/variant/1-12345-A-G", rec.GnomADLink)
	assert.Empty(t, rec.Warnings)
	assert.NotEmpty(t, batch.ID)
	assert.False(t, batch.Cancelled)
}

func TestService_Run_ScenarioB(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)

	svc := newService(&stubFrequency{result: domain.FrequencyNoDataResult()}, gen, 4)
	batch, err := svc.Run(context.Background(), Request{Variants: []domain.Variant{variant(12345), variant(999)}})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, 1, batch.Matched)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, []domain.Variant{variant(999)}, batch.Unmatched)
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestService_Run_ScenarioC(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "Pos: 200,")
	})).Return("", errors.New("model unavailable"))
	gen.On("Generate", mock.Anything, mock.Anything).Return("Benign.", nil)

	svc := newService(&stubFrequency{result: domain.FrequencyNoDataResult()}, gen, 2)
	batch, err := svc.Run(context.Background(), Request{Variants: []domain.Variant{variant(12345), variant(200), variant(300)}})
	require.NoError(t, err)

	require.Len(t, batch.Records, 3)
	assert.Equal(t, "Benign.", batch.Records[0].Interpretation)
	assert.True(t, strings.HasPrefix(batch.Records[1].Interpretation, interpret.FailurePrefix))
	assert.Contains(t, batch.Records[1].Interpretation, "model unavailable")
	assert.Equal(t, "Benign.", batch.Records[2].Interpretation)
	assert.Equal(t, "Strong", batch.Records[2].Validity)
}

func TestService_Run_MissingCredential(t *testing.T) {
	freq := &stubFrequency{result: domain.FrequencyNoDataResult()}
	clinicalTable, validity := fixtureTables()
	svc := NewService(Dependencies{
		Reference:  clinicalTable,
		Validity:   validity,
		Frequency:  freq,
		Literature: &stubLiterature{},
		NewGenerator: func(apiKey string) (domain.Generator, error) {
			return interpret.NewAnthropicGenerator(domain.LLMConfig{APIKey: apiKey})
		},
	}, domain.PipelineConfig{}, quietLogger())

	batch, err := svc.Run(context.Background(), Request{Variants: []domain.Variant{variant(12345)}})
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
	assert.Nil(t, batch)
	assert.Equal(t, int32(0), freq.calls, "no row work before the credential check")
}

func TestService_Run_RequestKeyOverridesConfig(t *testing.T) {
	var used string
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)

	clinicalTable, validity := fixtureTables()
	svc := NewService(Dependencies{
		Reference:  clinicalTable,
		Validity:   validity,
		Frequency:  &stubFrequency{result: domain.FrequencyNoDataResult()},
		Literature: &stubLiterature{},
		NewGenerator: func(apiKey string) (domain.Generator, error) {
			used = apiKey
			return gen, nil
		},
	}, domain.PipelineConfig{}, quietLogger())

	_, err := svc.Run(context.Background(), Request{Variants: []domain.Variant{variant(12345)}, APIKey: "from-request"})
	require.NoError(t, err)
	assert.Equal(t, "from-request", used)
}

func TestService_Run_NoVariants(t *testing.T) {
	svc := newService(&stubFrequency{}, new(mockGenerator), 1)
	_, err := svc.Run(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrNoVariants)
}

func TestService_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	freq := &stubFrequency{
		result: domain.FrequencyNoDataResult(),
		hook: func(call int32) {
			if call == 3 {
				cancel()
			}
		},
	}
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)

	svc := newService(freq, gen, 1)
	batch, err := svc.Run(ctx, Request{Variants: []domain.Variant{variant(12345), variant(200), variant(300), variant(400)}})

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, batch)
	assert.True(t, batch.Cancelled)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, variant(12345), batch.Records[0].Variant)
	assert.Equal(t, variant(200), batch.Records[1].Variant)
	assert.Equal(t, int32(3), freq.calls, "no rows start after cancellation")
	assert.Equal(t, 4, batch.Total)
}

func TestAggregator_OrderAndProgress(t *testing.T) {
	clinicalTable, validity := fixtureTables()
	freq := &stubFrequency{
		result: domain.FrequencyNoDataResult(),
		// earlier rows finish last
		delay: func(v domain.Variant) time.Duration {
			if v.Position == 12345 {
				return 60 * time.Millisecond
			}
			return time.Duration(400-v.Position) * time.Millisecond / 10
		},
	}
	aggregator := NewAggregator(validity, freq, &stubLiterature{}, quietLogger(), WithWorkers(4))

	uploaded := []domain.Variant{variant(12345), variant(999), variant(200), variant(300), variant(400)}
	joined := matcher.Match(uploaded, clinicalTable)

	var mu sync.Mutex
	var seen []int
	records, err := aggregator.Annotate(context.Background(), joined.Pairs, func(i int, rec domain.AnnotatedRecord) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, i)
	})
	require.NoError(t, err)

	require.Len(t, records, 4)
	for i, pos := range []int{12345, 200, 300, 400} {
		assert.Equal(t, pos, records[i].Variant.Position)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, seen)
	assert.Empty(t, records[0].Interpretation, "no interpreter configured")
}

func TestAggregator_RowWarnings(t *testing.T) {
	clinicalTable, validity := fixtureTables()
	aggregator := NewAggregator(validity,
		&stubFrequency{result: domain.FrequencyErrorResult(errors.New("gnomAD unavailable: timeout"))},
		&stubLiterature{result: domain.LiteratureResult{
			Status:     domain.LiteratureFound,
			Citations:  []domain.Citation{{PMID: "1"}},
			TitleError: "PubMed esummary unavailable: 429",
		}},
		quietLogger())

	joined := matcher.Match([]domain.Variant{variant(400)}, clinicalTable)
	records, err := aggregator.Annotate(context.Background(), joined.Pairs, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, domain.ValidityUnknown, rec.Validity)
	assert.Equal(t, domain.FrequencyError, rec.Frequency.Status)
	assert.Equal(t, []string{"1"}, rec.Literature.PMIDs())
	assert.Equal(t, []string{
		"gnomAD fetch error: gnomAD unavailable: timeout",
		"PubMed titles unavailable: PubMed esummary unavailable: 429",
	}, rec.Warnings)
}
