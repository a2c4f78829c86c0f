// Package interpret turns an annotated variant into a prompt and asks a
// text-generation service for a clinical interpretation.
package interpret

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
)

// NotAvailable is the label used in prompts for any absent value
const NotAvailable = "N/A"

// BuildPrompt renders the interpretation prompt for one annotated record.
// Every absent value is rendered as N/A so the prompt structure never changes.
func BuildPrompt(rec domain.AnnotatedRecord) string {
	var clinical domain.ClinicalRecord
	if rec.Clinical != nil {
		clinical = *rec.Clinical
	}

	var b strings.Builder
	b.WriteString("You are a clinical geneticist. Based on the following variant and annotation data, ")
	b.WriteString("provide a professional clinical interpretation.\n\n")

	b.WriteString("Variant:\n")
	fmt.Fprintf(&b, "- Chr: %s, Pos: %d, %s>%s\n\n",
		rec.Variant.Chromosome, rec.Variant.Position, rec.Variant.Reference, rec.Variant.Alternate)

	b.WriteString("ClinVar:\n")
	fmt.Fprintf(&b, "- Gene: %s, Significance: %s, Disease: %s\n",
		str(clinical.Gene), str(clinical.ClinicalSignificance), str(clinical.DiseaseName))
	fmt.Fprintf(&b, "- Review status: %s, Type: %s\n", str(clinical.ReviewStatus), str(clinical.VariantType))
	fmt.Fprintf(&b, "- HGVS: %s, rsID: %s\n\n", str(clinical.HGVSExpression), rsID(clinical.ReferenceSNPID))

	validity := rec.Validity
	if validity == "" {
		validity = NotAvailable
	}
	fmt.Fprintf(&b, "ClinGen Validity: %s\n\n", validity)

	b.WriteString(literatureSection(rec.Literature))
	b.WriteString(frequencySection(rec.Frequency))

	b.WriteString("Answer:\n")
	b.WriteString("1. Likely pathogenicity?\n")
	b.WriteString("2. Known disease?\n")
	b.WriteString("3. Clinical relevance?\n")
	b.WriteString("4. Plain-language summary (no more than 5 sentences).\n")
	return b.String()
}

func literatureSection(lit domain.LiteratureResult) string {
	var b strings.Builder
	switch {
	case lit.Status == domain.LiteratureError:
		fmt.Fprintf(&b, "PubMed: %s (lookup failed)\n\n", NotAvailable)
	case len(lit.Citations) == 0:
		b.WriteString("PubMed: None\n\n")
	default:
		fmt.Fprintf(&b, "PubMed: %s\n", strings.Join(lit.PMIDs(), ", "))
		for _, c := range lit.Citations {
			if c.Title.Valid {
				fmt.Fprintf(&b, "- PMID %s: %s\n", c.PMID, c.Title.String)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func frequencySection(freq domain.FrequencyResult) string {
	var b strings.Builder
	b.WriteString("gnomAD:\n")
	switch freq.Status {
	case domain.FrequencyFound:
		s := freq.Stats
		if s == nil {
			s = &domain.PopulationFrequencyStats{}
		}
		fmt.Fprintf(&b, "- Exome AC/AN: %s/%s\n", integer(s.ExomeAlleleCount), integer(s.ExomeAlleleNumber))
		fmt.Fprintf(&b, "- PopMax AF: %s (Pop: %s)\n", decimal(s.PopMaxAlleleFrequency), str(s.PopMaxPopulation))
		if s.FilteringAlleleFrequency.Valid {
			fmt.Fprintf(&b, "- FAF95 PopMax: %s\n", decimal(s.FilteringAlleleFrequency))
		}
		if s.ExomeAlleleFrequency.Valid || s.GenomeAlleleFrequency.Valid {
			fmt.Fprintf(&b, "- Exome AF: %s, Genome AF: %s\n", decimal(s.ExomeAlleleFrequency), decimal(s.GenomeAlleleFrequency))
		}
	case domain.FrequencyNoData:
		b.WriteString("- No population frequency data reported for this variant\n")
		fmt.Fprintf(&b, "- Exome AC/AN: %s/%s\n", NotAvailable, NotAvailable)
		fmt.Fprintf(&b, "- PopMax AF: %s (Pop: %s)\n", NotAvailable, NotAvailable)
	default:
		b.WriteString("- Population frequency lookup failed\n")
		fmt.Fprintf(&b, "- Exome AC/AN: %s/%s\n", NotAvailable, NotAvailable)
		fmt.Fprintf(&b, "- PopMax AF: %s (Pop: %s)\n", NotAvailable, NotAvailable)
	}
	b.WriteString("\n")
	return b.String()
}

func str(v null.String) string {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return NotAvailable
	}
	return v.String
}

func rsID(v null.String) string {
	if !v.Valid || v.String == "" {
		return NotAvailable
	}
	return "rs" + v.String
}

func integer(v null.Int) string {
	if !v.Valid {
		return NotAvailable
	}
	return strconv.FormatInt(v.Int64, 10)
}

func decimal(v null.Float) string {
	if !v.Valid {
		return NotAvailable
	}
	return strconv.FormatFloat(v.Float64, 'g', -1, 64)
}
