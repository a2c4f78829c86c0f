package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
)

// Query shapes supported by the gnomAD client
const (
	QueryShapeExomePopMax     = "exome_popmax"
	QueryShapeAlleleFrequency = "allele_frequency"
)

const (
	defaultGnomADURL     = "https://gnomad.broadinstitute.org/api"
	defaultGnomADBrowser = "https://gnomad.broadinstitute.org"
	defaultGnomADDataset = "gnomad_r2_1"
	defaultGnomADTimeout = 10 * time.Second
)

// populations that are not used when deriving a popmax from per-population counts
var popmaxExcluded = map[string]bool{
	"asj": true, "fin": true, "oth": true, "ami": true, "mid": true, "remaining": true,
}

const exomePopMaxQuery = `
query VariantFrequency($variantId: String!, $dataset: DatasetId!) {
	variant(variantId: $variantId, dataset: $dataset) {
		variantId
		exome {
			ac
			an
			af
			faf95 {
				popmax
			}
			populations {
				id
				ac
				an
			}
		}
	}
}`

const alleleFrequencyQuery = `
query VariantFrequency($variantId: String!, $dataset: DatasetId!) {
	variant(variantId: $variantId, dataset: $dataset) {
		variantId
		genome {
			ac
			an
			af
		}
		exome {
			ac
			an
			af
		}
	}
}`

// GnomADClient handles interactions with the gnomAD GraphQL API
type GnomADClient struct {
	baseURL    string
	browserURL string
	dataset    string
	queryShape string
	httpClient *http.Client
}

// NewGnomADClient creates a new gnomAD API client
func NewGnomADClient(config domain.GnomADConfig) *GnomADClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultGnomADURL
	}
	if config.BrowserURL == "" {
		config.BrowserURL = defaultGnomADBrowser
	}
	if config.Dataset == "" {
		config.Dataset = defaultGnomADDataset
	}
	if config.QueryShape == "" {
		config.QueryShape = QueryShapeExomePopMax
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultGnomADTimeout
	}

	return &GnomADClient{
		baseURL:    config.BaseURL,
		browserURL: strings.TrimSuffix(config.BrowserURL, "/"),
		dataset:    config.Dataset,
		queryShape: config.QueryShape,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// BrowserLink returns the gnomAD browser page for a variant
func (g *GnomADClient) BrowserLink(variant domain.Variant) string {
	return fmt.Sprintf("%s/variant/%s?dataset=%s", g.browserURL, url.PathEscape(variant.GnomADID()), url.QueryEscape(g.dataset))
}

// FetchFrequency queries gnomAD for population frequency data. It issues a
// single request and never retries. Failures are returned as an error result
// carrying the cause; a variant unknown to gnomAD is a no-data result.
func (g *GnomADClient) FetchFrequency(ctx context.Context, variant domain.Variant) domain.FrequencyResult {
	if err := variant.Validate(); err != nil {
		return domain.FrequencyErrorResult(fmt.Errorf("insufficient variant information for gnomAD query: %w", err))
	}

	body, err := g.queryGraphQL(ctx, variant.GnomADID())
	if err != nil {
		return domain.FrequencyErrorResult(domain.NewUpstreamError("gnomAD", err))
	}

	return g.parseResponse(body)
}

// queryGraphQL executes the configured GraphQL query and returns the raw body
func (g *GnomADClient) queryGraphQL(ctx context.Context, variantID string) ([]byte, error) {
	query := exomePopMaxQuery
	if g.queryShape == QueryShapeAlleleFrequency {
		query = alleleFrequencyQuery
	}

	requestBody := map[string]interface{}{
		"query": query,
		"variables": map[string]interface{}{
			"variantId": variantID,
			"dataset":   g.dataset,
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute GraphQL request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gnomAD API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read GraphQL response: %w", err)
	}
	return body, nil
}

// parseResponse converts a GraphQL body into a frequency result
func (g *GnomADClient) parseResponse(body []byte) domain.FrequencyResult {
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return domain.FrequencyErrorResult(domain.NewUpstreamError("gnomAD", fmt.Errorf("failed to parse GraphQL response: %w", err)))
	}

	if errs, _ := parsed.S("errors").Children(); len(errs) > 0 {
		messages := make([]string, 0, len(errs))
		notFound := false
		for _, e := range errs {
			msg, _ := e.S("message").Data().(string)
			if strings.Contains(strings.ToLower(msg), "variant not found") {
				notFound = true
			}
			messages = append(messages, msg)
		}
		if notFound {
			return domain.FrequencyNoDataResult()
		}
		return domain.FrequencyErrorResult(domain.NewUpstreamError("gnomAD", fmt.Errorf("GraphQL error: %s", strings.Join(messages, "; "))))
	}

	variant := parsed.Path("data.variant")
	if variant.Data() == nil {
		return domain.FrequencyNoDataResult()
	}

	var stats domain.PopulationFrequencyStats
	if g.queryShape == QueryShapeAlleleFrequency {
		stats = alleleFrequencyStats(variant)
	} else {
		stats = exomePopMaxStats(variant)
	}

	if !hasStats(stats) {
		return domain.FrequencyNoDataResult()
	}
	return domain.FrequencyFoundResult(stats)
}

func exomePopMaxStats(variant *gabs.Container) domain.PopulationFrequencyStats {
	exome := variant.S("exome")
	if exome.Data() == nil {
		return domain.PopulationFrequencyStats{}
	}

	stats := domain.PopulationFrequencyStats{
		ExomeAlleleCount:         intField(exome, "ac"),
		ExomeAlleleNumber:        intField(exome, "an"),
		ExomeAlleleFrequency:     floatField(exome, "af"),
		FilteringAlleleFrequency: floatField(exome.S("faf95"), "popmax"),
	}

	// PopMax is the highest raw allele frequency among the continental populations
	populations, _ := exome.S("populations").Children()
	best, bestPop := -1.0, ""
	for _, pop := range populations {
		id, _ := pop.S("id").Data().(string)
		if id == "" || strings.Contains(id, "_") || popmaxExcluded[strings.ToLower(id)] {
			continue
		}
		ac, an := intField(pop, "ac"), intField(pop, "an")
		if !ac.Valid || !an.Valid || an.Int64 == 0 {
			continue
		}
		if af := float64(ac.Int64) / float64(an.Int64); af > best {
			best, bestPop = af, id
		}
	}
	if bestPop != "" {
		stats.PopMaxAlleleFrequency = null.FloatFrom(best)
		stats.PopMaxPopulation = null.StringFrom(bestPop)
	}
	return stats
}

func alleleFrequencyStats(variant *gabs.Container) domain.PopulationFrequencyStats {
	return domain.PopulationFrequencyStats{
		ExomeAlleleCount:      intField(variant.S("exome"), "ac"),
		ExomeAlleleNumber:     intField(variant.S("exome"), "an"),
		ExomeAlleleFrequency:  floatField(variant.S("exome"), "af"),
		GenomeAlleleFrequency: floatField(variant.S("genome"), "af"),
	}
}

func hasStats(s domain.PopulationFrequencyStats) bool {
	return s.ExomeAlleleCount.Valid || s.ExomeAlleleNumber.Valid ||
		s.PopMaxAlleleFrequency.Valid || s.ExomeAlleleFrequency.Valid ||
		s.GenomeAlleleFrequency.Valid || s.FilteringAlleleFrequency.Valid
}

func intField(c *gabs.Container, key string) null.Int {
	if c == nil {
		return null.Int{}
	}
	if f, ok := c.S(key).Data().(float64); ok {
		return null.IntFrom(int64(f))
	}
	return null.Int{}
}

func floatField(c *gabs.Container, key string) null.Float {
	if c == nil {
		return null.Float{}
	}
	if f, ok := c.S(key).Data().(float64); ok {
		return null.FloatFrom(f)
	}
	return null.Float{}
}
