package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
)

const (
	defaultEUtilsURL     = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/"
	defaultPubMedTimeout = 10 * time.Second
	defaultMaxCitations  = 5
	pubMedArticleURL     = "https://pubmed.ncbi.nlm.nih.gov/%s/"
	titleCacheSize       = 4096
)

// PubMedClient resolves ClinVar records to PubMed citations via NCBI E-utilities.
// Stage one is elink (clinvar to pubmed), stage two is esummary for titles.
type PubMedClient struct {
	baseURL       string
	apiKey        string
	email         string
	tool          string
	maxCitations  int
	resolveTitles bool
	httpClient    *http.Client
	titles        *lru.Cache
	limiter       *rate.Limiter
}

// NewPubMedClient creates a new PubMed client
func NewPubMedClient(config domain.PubMedConfig) *PubMedClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultEUtilsURL
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultPubMedTimeout
	}
	if config.MaxCitations <= 0 {
		config.MaxCitations = defaultMaxCitations
	}

	// lru.New only fails for a non-positive size
	titles, _ := lru.New(titleCacheSize)

	limit := rate.Inf
	if config.RequestInterval > 0 {
		limit = rate.Every(config.RequestInterval)
	}

	return &PubMedClient{
		baseURL:       config.BaseURL,
		apiKey:        config.APIKey,
		email:         config.Email,
		tool:          config.Tool,
		maxCitations:  config.MaxCitations,
		resolveTitles: config.ResolveTitle,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		titles:  titles,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// FetchReferences returns up to the configured maximum of PubMed citations
// linked to a ClinVar record. A null or empty record ID yields no citations
// without a network call. A failure resolving titles keeps the citation IDs.
func (p *PubMedClient) FetchReferences(ctx context.Context, recordID null.String) domain.LiteratureResult {
	id := strings.TrimSpace(recordID.String)
	if !recordID.Valid || id == "" {
		return domain.LiteratureResult{Status: domain.LiteratureNone, Citations: []domain.Citation{}}
	}

	pmids, err := p.LinkedPMIDs(ctx, id)
	if err != nil {
		return domain.LiteratureResult{
			Status:    domain.LiteratureError,
			Citations: []domain.Citation{},
			Cause:     domain.NewUpstreamError("PubMed elink", err).Error(),
		}
	}
	if len(pmids) == 0 {
		return domain.LiteratureResult{Status: domain.LiteratureNone, Citations: []domain.Citation{}}
	}
	if len(pmids) > p.maxCitations {
		pmids = pmids[:p.maxCitations]
	}

	links := ResolveLinks(pmids)
	result := domain.LiteratureResult{
		Status:    domain.LiteratureFound,
		Citations: make([]domain.Citation, len(pmids)),
	}
	for i, pmid := range pmids {
		result.Citations[i] = domain.Citation{PMID: pmid, Link: links[i]}
	}

	if !p.resolveTitles {
		return result
	}

	titles, err := p.ResolveTitles(ctx, pmids)
	if err != nil {
		result.TitleError = domain.NewUpstreamError("PubMed esummary", err).Error()
	}
	for i := range result.Citations {
		if title, ok := titles[result.Citations[i].PMID]; ok && title != "" {
			result.Citations[i].Title = null.StringFrom(title)
		}
	}
	return result
}

// LinkedPMIDs returns the PubMed IDs elink associates with a ClinVar variation ID,
// in the order returned by the service.
func (p *PubMedClient) LinkedPMIDs(ctx context.Context, variationID string) ([]string, error) {
	params := url.Values{
		"dbfrom":  {"clinvar"},
		"db":      {"pubmed"},
		"id":      {variationID},
		"retmode": {"json"},
	}

	body, err := p.get(ctx, "elink.fcgi", params)
	if err != nil {
		return nil, err
	}

	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse elink response: %w", err)
	}
	if msg, ok := parsed.S("ERROR").Data().(string); ok && msg != "" {
		return nil, fmt.Errorf("elink error: %s", msg)
	}

	linksets, _ := parsed.S("linksets").Children()
	if len(linksets) == 0 {
		return nil, nil
	}
	linksetdbs, _ := linksets[0].S("linksetdbs").Children()

	var pmids []string
	seen := make(map[string]bool)
	for _, db := range linksetdbs {
		if dbto, _ := db.S("dbto").Data().(string); dbto != "pubmed" {
			continue
		}
		links, _ := db.S("links").Children()
		for _, link := range links {
			pmid := linkID(link.Data())
			if pmid == "" || seen[pmid] {
				continue
			}
			seen[pmid] = true
			pmids = append(pmids, pmid)
		}
	}
	return pmids, nil
}

// ResolveTitles looks up article titles for pmids with a single esummary call.
// Cached titles are not requested again.
func (p *PubMedClient) ResolveTitles(ctx context.Context, pmids []string) (map[string]string, error) {
	titles := make(map[string]string, len(pmids))
	var missing []string
	for _, pmid := range pmids {
		if cached, ok := p.titles.Get(pmid); ok {
			titles[pmid] = cached.(string)
			continue
		}
		missing = append(missing, pmid)
	}
	if len(missing) == 0 {
		return titles, nil
	}

	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(missing, ",")},
		"retmode": {"json"},
	}
	body, err := p.get(ctx, "esummary.fcgi", params)
	if err != nil {
		return titles, err
	}

	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return titles, fmt.Errorf("failed to parse esummary response: %w", err)
	}

	for _, pmid := range missing {
		title, ok := parsed.S("result", pmid, "title").Data().(string)
		if !ok || title == "" {
			continue
		}
		titles[pmid] = title
		p.titles.Add(pmid, title)
	}
	return titles, nil
}

// ResolveLinks converts PubMed IDs to article URLs, preserving order
func ResolveLinks(pmids []string) []string {
	links := make([]string, len(pmids))
	for i, pmid := range pmids {
		links[i] = fmt.Sprintf(pubMedArticleURL, pmid)
	}
	return links
}

// get issues an E-utilities GET request and returns the body.
// Every request waits its turn on the client's limiter.
func (p *PubMedClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s request not sent: %w", endpoint, err)
	}
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}
	if p.email != "" {
		params.Set("email", p.email)
	}
	if p.tool != "" {
		params.Set("tool", p.tool)
	}

	fullURL := fmt.Sprintf("%s%s?%s", p.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}
	return body, nil
}

// linkID renders an elink link entry, which NCBI emits as either a string or a number
func linkID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatInt(int64(id), 10)
	default:
		return ""
	}
}
