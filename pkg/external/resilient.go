package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
)

const (
	defaultCacheSize = 10000
	defaultCacheTTL  = 24 * time.Hour
)

var errCircuitOpen = errors.New("circuit breaker open")

// ResilientClient wraps the frequency and literature sources with a circuit
// breaker, a pacing limiter and a memoization cache per upstream. It never
// retries a failed call.
type ResilientClient struct {
	frequency  domain.FrequencySource
	literature domain.LiteratureSource
	logger     *logrus.Logger

	frequencyBreaker  *gobreaker.CircuitBreaker
	literatureBreaker *gobreaker.CircuitBreaker

	frequencyLimiter  *rate.Limiter
	literatureLimiter *rate.Limiter

	frequencyCache  *expirable.LRU[string, domain.FrequencyResult]
	literatureCache *expirable.LRU[string, domain.LiteratureResult]
}

// NewResilientClient creates a resilient wrapper around the given sources.
// A zero pacing interval disables pacing.
func NewResilientClient(frequency domain.FrequencySource, literature domain.LiteratureSource, config domain.PipelineConfig, logger *logrus.Logger) *ResilientClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.CacheSize <= 0 {
		config.CacheSize = defaultCacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaultCacheTTL
	}

	return &ResilientClient{
		frequency:         frequency,
		literature:        literature,
		logger:            logger,
		frequencyBreaker:  newBreaker("gnomAD", logger),
		literatureBreaker: newBreaker("PubMed", logger),
		frequencyLimiter:  newLimiter(config.PacingInterval),
		literatureLimiter: newLimiter(config.PacingInterval),
		frequencyCache:    expirable.NewLRU[string, domain.FrequencyResult](config.CacheSize, nil, config.CacheTTL),
		literatureCache:   expirable.NewLRU[string, domain.LiteratureResult](config.CacheSize, nil, config.CacheTTL),
	}
}

func newBreaker(name string, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// FetchFrequency returns a memoized or freshly fetched frequency result.
// Error results are never cached.
func (r *ResilientClient) FetchFrequency(ctx context.Context, variant domain.Variant) domain.FrequencyResult {
	key := variant.Key().String()
	if cached, ok := r.frequencyCache.Get(key); ok {
		return cached
	}

	if err := r.frequencyLimiter.Wait(ctx); err != nil {
		return domain.FrequencyErrorResult(domain.NewUpstreamError("gnomAD", err))
	}

	out, err := r.frequencyBreaker.Execute(func() (interface{}, error) {
		result := r.frequency.FetchFrequency(ctx, variant)
		if result.Status == domain.FrequencyError {
			return result, errors.New(result.Cause)
		}
		return result, nil
	})
	if err != nil {
		if result, ok := out.(domain.FrequencyResult); ok {
			return result
		}
		return domain.FrequencyErrorResult(domain.NewUpstreamError("gnomAD", breakerError(err)))
	}

	result := out.(domain.FrequencyResult)
	r.frequencyCache.Add(key, result)
	return result
}

// FetchReferences returns memoized or freshly fetched citations for a record ID.
// Only complete results are cached; error results and results whose titles
// failed to resolve are fetched again next time.
func (r *ResilientClient) FetchReferences(ctx context.Context, recordID null.String) domain.LiteratureResult {
	if !recordID.Valid || recordID.String == "" {
		return r.literature.FetchReferences(ctx, recordID)
	}

	key := recordID.String
	if cached, ok := r.literatureCache.Get(key); ok {
		return cached
	}

	if err := r.literatureLimiter.Wait(ctx); err != nil {
		return domain.LiteratureResult{
			Status:    domain.LiteratureError,
			Citations: []domain.Citation{},
			Cause:     domain.NewUpstreamError("PubMed", err).Error(),
		}
	}

	out, err := r.literatureBreaker.Execute(func() (interface{}, error) {
		result := r.literature.FetchReferences(ctx, recordID)
		if result.Status == domain.LiteratureError {
			return result, errors.New(result.Cause)
		}
		return result, nil
	})
	if err != nil {
		if result, ok := out.(domain.LiteratureResult); ok {
			return result
		}
		return domain.LiteratureResult{
			Status:    domain.LiteratureError,
			Citations: []domain.Citation{},
			Cause:     domain.NewUpstreamError("PubMed", breakerError(err)).Error(),
		}
	}

	result := out.(domain.LiteratureResult)
	if result.TitleError == "" {
		r.literatureCache.Add(key, result)
	}
	return result
}

// breakerError maps gobreaker rejections to a stable cause
func breakerError(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errCircuitOpen
	}
	return fmt.Errorf("request rejected: %w", err)
}
