package external

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-interpretation-server/internal/domain"
)

var brca1 = domain.Variant{Chromosome: "17", Position: 43104121, Reference: "G", Alternate: "A"}

func gnomADServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "17-43104121-G-A", req.Variables["variantId"])
		assert.Equal(t, "gnomad_r2_1", req.Variables["dataset"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestGnomADClient_FetchFrequency(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   domain.FrequencyStatus
		validate func(t *testing.T, result domain.FrequencyResult)
	}{
		{
			name: "popmax comes from populations even when faf95 is present",
			body: `{"data":{"variant":{"variantId":"17-43104121-G-A","exome":{"ac":12,"an":251000,"af":0.0000478,
				"faf95":{"popmax":0.0001,"popmax_population":"afr"},"populations":[
				{"id":"afr","ac":10,"an":50000},
				{"id":"nfe","ac":30,"an":100000},
				{"id":"asj","ac":9,"an":1000}]}}}}`,
			status: domain.FrequencyFound,
			validate: func(t *testing.T, result domain.FrequencyResult) {
				require.NotNil(t, result.Stats)
				assert.Equal(t, int64(12), result.Stats.ExomeAlleleCount.Int64)
				assert.Equal(t, int64(251000), result.Stats.ExomeAlleleNumber.Int64)
				assert.InDelta(t, 0.0003, result.Stats.PopMaxAlleleFrequency.Float64, 1e-12)
				assert.Equal(t, "nfe", result.Stats.PopMaxPopulation.String)
				assert.True(t, result.Stats.FilteringAlleleFrequency.Valid)
				assert.Equal(t, 0.0001, result.Stats.FilteringAlleleFrequency.Float64)
				assert.Empty(t, result.Cause)
			},
		},
		{
			name: "found with popmax derived from populations",
			body: `{"data":{"variant":{"exome":{"ac":3,"an":300,"af":0.01,"faf95":null,"populations":[
				{"id":"afr","ac":1,"an":100},
				{"id":"fin","ac":5,"an":10},
				{"id":"eas","ac":2,"an":100},
				{"id":"eas_XX","ac":2,"an":10}]}}}}`,
			status: domain.FrequencyFound,
			validate: func(t *testing.T, result domain.FrequencyResult) {
				require.NotNil(t, result.Stats)
				assert.Equal(t, 0.02, result.Stats.PopMaxAlleleFrequency.Float64)
				assert.Equal(t, "eas", result.Stats.PopMaxPopulation.String)
				assert.False(t, result.Stats.FilteringAlleleFrequency.Valid)
			},
		},
		{
			name:   "variant is null",
			body:   `{"data":{"variant":null}}`,
			status: domain.FrequencyNoData,
		},
		{
			name:   "variant not found error",
			body:   `{"data":{"variant":null},"errors":[{"message":"Variant not found"}]}`,
			status: domain.FrequencyNoData,
		},
		{
			name:   "dataset not found is an upstream error",
			body:   `{"data":{"variant":null},"errors":[{"message":"Dataset not found"}]}`,
			status: domain.FrequencyError,
			validate: func(t *testing.T, result domain.FrequencyResult) {
				assert.Contains(t, result.Cause, "Dataset not found")
			},
		},
		{
			name:   "gene not found is an upstream error",
			body:   `{"errors":[{"message":"Gene not found"}]}`,
			status: domain.FrequencyError,
		},
		{
			name:   "variant without exome data",
			body:   `{"data":{"variant":{"variantId":"17-43104121-G-A","exome":null}}}`,
			status: domain.FrequencyNoData,
		},
		{
			name:   "other graphql error",
			body:   `{"errors":[{"message":"Unknown dataset"}]}`,
			status: domain.FrequencyError,
			validate: func(t *testing.T, result domain.FrequencyResult) {
				assert.Contains(t, result.Cause, "Unknown dataset")
				assert.Nil(t, result.Stats)
			},
		},
		{
			name:   "malformed body",
			body:   `{"data":`,
			status: domain.FrequencyError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := gnomADServer(t, tt.body)
			defer server.Close()

			client := NewGnomADClient(domain.GnomADConfig{BaseURL: server.URL})
			result := client.FetchFrequency(t.Context(), brca1)

			assert.Equal(t, tt.status, result.Status)
			if tt.status == domain.FrequencyError {
				assert.NotEmpty(t, result.Cause)
			}
			if tt.validate != nil {
				tt.validate(t, result)
			}
		})
	}
}

func TestGnomADClient_AlleleFrequencyShape(t *testing.T) {
	server := gnomADServer(t, `{"data":{"variant":{"genome":{"ac":1,"an":100,"af":0.01},"exome":{"ac":2,"an":400,"af":0.005}}}}`)
	defer server.Close()

	client := NewGnomADClient(domain.GnomADConfig{BaseURL: server.URL, QueryShape: QueryShapeAlleleFrequency})
	result := client.FetchFrequency(t.Context(), brca1)

	require.Equal(t, domain.FrequencyFound, result.Status)
	assert.Equal(t, 0.01, result.Stats.GenomeAlleleFrequency.Float64)
	assert.Equal(t, 0.005, result.Stats.ExomeAlleleFrequency.Float64)
	assert.False(t, result.Stats.PopMaxAlleleFrequency.Valid)
}

func TestGnomADClient_NoDataDistinctFromTimeout(t *testing.T) {
	noData := gnomADServer(t, `{"data":{"variant":null}}`)
	defer noData.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"data":{"variant":null}}`))
	}))
	defer slow.Close()

	noDataResult := NewGnomADClient(domain.GnomADConfig{BaseURL: noData.URL}).FetchFrequency(t.Context(), brca1)
	timeoutResult := NewGnomADClient(domain.GnomADConfig{BaseURL: slow.URL, Timeout: 20 * time.Millisecond}).FetchFrequency(t.Context(), brca1)

	assert.Equal(t, domain.FrequencyNoData, noDataResult.Status)
	assert.Empty(t, noDataResult.Cause)

	assert.Equal(t, domain.FrequencyError, timeoutResult.Status)
	assert.Contains(t, timeoutResult.Cause, "gnomAD unavailable")
	assert.NotEqual(t, noDataResult.Status, timeoutResult.Status)
}

func TestGnomADClient_HTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	result := NewGnomADClient(domain.GnomADConfig{BaseURL: server.URL}).FetchFrequency(t.Context(), brca1)
	assert.Equal(t, domain.FrequencyError, result.Status)
	assert.Contains(t, result.Cause, "502")
}

func TestGnomADClient_InvalidVariant(t *testing.T) {
	client := NewGnomADClient(domain.GnomADConfig{BaseURL: "http://127.0.0.1:0"})
	result := client.FetchFrequency(t.Context(), domain.Variant{Chromosome: "1"})
	assert.Equal(t, domain.FrequencyError, result.Status)
	assert.NotEmpty(t, result.Cause)
}

func TestGnomADClient_BrowserLink(t *testing.T) {
	client := NewGnomADClient(domain.GnomADConfig{})
	assert.Equal(t,
		"https://gnomad.broadinstitute.org/variant/17-43104121-G-A?dataset=gnomad_r2_1",
		client.BrowserLink(brca1))
}
