// Package setup wires the pipeline from configuration and registers the MCP
// server with desktop clients.
package setup

import (
	"github.com/sirupsen/logrus"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/interpret"
	"github.com/variant-interpretation-server/internal/pipeline"
	"github.com/variant-interpretation-server/internal/reference"
	"github.com/variant-interpretation-server/pkg/external"
)

// NewService loads the local reference tables and builds a batch service
// backed by the live gnomAD, PubMed and text-generation clients.
//
// Reference files that cannot be read are logged and replaced by empty tables,
// so a misconfigured reference yields zero matches rather than a startup failure.
func NewService(cfg *domain.Config, logger *logrus.Logger) *pipeline.Service {
	clinical, _ := reference.LoadReference(cfg.Reference.ClinVarPath, logger)
	validity, _ := reference.LoadValidity(cfg.Reference.ValidityPath, logger)

	gnomad := external.NewGnomADClient(cfg.ExternalAPI.GnomAD)
	pubmed := external.NewPubMedClient(cfg.ExternalAPI.PubMed)
	resilient := external.NewResilientClient(gnomad, pubmed, cfg.Pipeline, logger)

	llm := cfg.LLM
	deps := pipeline.Dependencies{
		Reference:  clinical,
		Validity:   validity,
		Frequency:  resilient,
		Literature: resilient,
		Link:       gnomad.BrowserLink,
		APIKey:     llm.APIKey,
		NewGenerator: func(apiKey string) (domain.Generator, error) {
			conf := llm
			conf.APIKey = apiKey
			return interpret.NewAnthropicGenerator(conf)
		},
	}

	return pipeline.NewService(deps, cfg.Pipeline, logger)
}
