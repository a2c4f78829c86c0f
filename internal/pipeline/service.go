package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/interpret"
	"github.com/variant-interpretation-server/internal/matcher"
	"github.com/variant-interpretation-server/internal/reference"
)

// GeneratorFactory builds a text generator for an API key
type GeneratorFactory func(apiKey string) (domain.Generator, error)

// Dependencies are the collaborators of a Service. The reference tables are
// loaded once by the caller and shared read-only between batches.
type Dependencies struct {
	Reference    *reference.ClinicalTable
	Validity     *reference.ValidityTable
	Frequency    domain.FrequencySource
	Literature   domain.LiteratureSource
	Link         LinkFunc
	NewGenerator GeneratorFactory
	APIKey       string
}

// Request is one batch submitted to the service
type Request struct {
	Variants []domain.Variant
	// APIKey overrides the configured text-generation credential when set
	APIKey   string
	Progress ProgressFunc
}

// Service runs complete annotation batches
type Service struct {
	deps    Dependencies
	workers int
	logger  *logrus.Logger
}

// NewService creates a batch service
func NewService(deps Dependencies, config domain.PipelineConfig, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	workers := config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Service{deps: deps, workers: workers, logger: logger}
}

// Run matches the request's variants against the clinical reference, enriches
// and interprets every matched row and returns the batch result.
//
// A missing text-generation credential fails the batch before any row is
// processed. When ctx is cancelled Run returns the rows completed so far with
// Cancelled set, together with ctx.Err().
func (s *Service) Run(ctx context.Context, req Request) (*domain.BatchResult, error) {
	if len(req.Variants) == 0 {
		return nil, domain.ErrNoVariants
	}

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(s.deps.APIKey)
	}
	if apiKey == "" || s.deps.NewGenerator == nil {
		return nil, domain.ErrMissingCredential
	}
	generator, err := s.deps.NewGenerator(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create text generator: %w", err)
	}

	batch := &domain.BatchResult{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
	log := s.logger.WithField("batch_id", batch.ID)

	joined := matcher.Match(req.Variants, s.deps.Reference)
	batch.Total = joined.Total
	batch.Matched = joined.Matched
	batch.Unmatched = joined.Unmatched()

	log.WithFields(logrus.Fields{
		"total":   joined.Total,
		"matched": joined.Matched,
	}).Info("Variants matched against clinical reference")

	aggregator := NewAggregator(s.deps.Validity, s.deps.Frequency, s.deps.Literature, s.logger,
		WithWorkers(s.workers),
		WithLink(s.deps.Link),
		WithInterpreter(interpret.NewInterpreter(generator, s.logger)),
	)

	records, err := aggregator.Annotate(ctx, joined.Pairs, req.Progress)
	batch.Records = records
	batch.Duration = time.Since(batch.StartedAt)

	if err != nil {
		batch.Cancelled = true
		log.WithFields(logrus.Fields{
			"completed": len(records),
			"duration":  batch.Duration.String(),
		}).Warn("Batch cancelled")
		return batch, err
	}

	log.WithFields(logrus.Fields{
		"records":  len(records),
		"duration": batch.Duration.String(),
	}).Info("Batch completed")
	return batch, nil
}

// Classify returns the gene-disease validity classification for a gene symbol
func (s *Service) Classify(gene string) string {
	return s.deps.Validity.Classify(null.StringFrom(gene))
}

// LookupValidity returns the full validity row for a cleaned gene symbol
func (s *Service) LookupValidity(gene string) (domain.GeneDiseaseValidity, bool) {
	return s.deps.Validity.Lookup(reference.CleanGeneSymbol(gene))
}

// ReferenceSize reports the number of loaded clinical and validity rows
func (s *Service) ReferenceSize() (clinical, validity int) {
	return s.deps.Reference.Len(), s.deps.Validity.Len()
}
