package domain

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/guregu/null.v3"
)

// ValidityUnknown is returned for genes with no gene-disease validity entry
const ValidityUnknown = "unknown"

// ClinicalRecord is a clinical-variant reference row with its annotation
// string already split into optional fields.
type ClinicalRecord struct {
	Variant              Variant     `json:"variant"`
	RecordID             null.String `json:"record_id"`
	Gene                 null.String `json:"gene"`
	ClinicalSignificance null.String `json:"clinical_significance"`
	DiseaseName          null.String `json:"disease_name"`
	ReviewStatus         null.String `json:"review_status"`
	VariantType          null.String `json:"variant_type"`
	HGVSExpression       null.String `json:"hgvs_expression"`
	ReferenceSNPID       null.String `json:"reference_snp_id"`
}

// GeneDiseaseValidity is one row of the gene-disease validity table
type GeneDiseaseValidity struct {
	GeneSymbol     string `json:"gene_symbol"`
	DiseaseLabel   string `json:"disease_label"`
	Classification string `json:"classification"`
}

// FrequencyStatus distinguishes the three outcomes of a frequency lookup
type FrequencyStatus string

const (
	FrequencyFound  FrequencyStatus = "found"
	FrequencyNoData FrequencyStatus = "no_data"
	FrequencyError  FrequencyStatus = "error"
)

// PopulationFrequencyStats holds summary statistics from the frequency service.
// Which fields are set depends on the configured query shape.
type PopulationFrequencyStats struct {
	ExomeAlleleCount      null.Int    `json:"exome_allele_count"`
	ExomeAlleleNumber     null.Int    `json:"exome_allele_number"`
	PopMaxAlleleFrequency null.Float  `json:"popmax_allele_frequency"`
	PopMaxPopulation      null.String `json:"popmax_population"`
	ExomeAlleleFrequency  null.Float  `json:"exome_allele_frequency"`
	GenomeAlleleFrequency null.Float  `json:"genome_allele_frequency"`

	// Exome faf95 popmax as reported by gnomAD, kept apart from the raw popmax
	FilteringAlleleFrequency null.Float `json:"filtering_allele_frequency"`
}

// FrequencyResult is the typed outcome of a population frequency lookup
type FrequencyResult struct {
	Status FrequencyStatus           `json:"status"`
	Stats  *PopulationFrequencyStats `json:"stats,omitempty"`
	Cause  string                    `json:"cause,omitempty"`
}

// FrequencyFoundResult wraps populated stats
func FrequencyFoundResult(stats PopulationFrequencyStats) FrequencyResult {
	return FrequencyResult{Status: FrequencyFound, Stats: &stats}
}

// FrequencyNoDataResult reports that the service has no record of the variant
func FrequencyNoDataResult() FrequencyResult {
	return FrequencyResult{Status: FrequencyNoData}
}

// FrequencyErrorResult reports a failed lookup with a readable cause
func FrequencyErrorResult(err error) FrequencyResult {
	cause := "unknown error"
	if err != nil && err.Error() != "" {
		cause = err.Error()
	}
	return FrequencyResult{Status: FrequencyError, Cause: cause}
}

// LiteratureStatus distinguishes the outcomes of a literature lookup
type LiteratureStatus string

const (
	LiteratureFound LiteratureStatus = "found"
	LiteratureNone  LiteratureStatus = "none"
	LiteratureError LiteratureStatus = "error"
)

// Citation is a literature reference linked to a clinical record
type Citation struct {
	PMID  string      `json:"pmid"`
	Link  string      `json:"link"`
	Title null.String `json:"title"`
}

// LiteratureResult is the typed outcome of a literature lookup.
// Citations keep the order returned by the cross-reference service.
// TitleError is set when citations were found but their titles could not be resolved.
type LiteratureResult struct {
	Status     LiteratureStatus `json:"status"`
	Citations  []Citation       `json:"citations"`
	Cause      string           `json:"cause,omitempty"`
	TitleError string           `json:"title_error,omitempty"`
}

// PMIDs returns the citation identifiers in order
func (l LiteratureResult) PMIDs() []string {
	ids := make([]string, 0, len(l.Citations))
	for _, c := range l.Citations {
		ids = append(ids, c.PMID)
	}
	return ids
}

// AnnotatedRecord merges a variant with every available annotation.
// It is the unit handed to the interpretation stage.
type AnnotatedRecord struct {
	Variant        Variant          `json:"variant"`
	Matched        bool             `json:"matched"`
	Clinical       *ClinicalRecord  `json:"clinical,omitempty"`
	Validity       string           `json:"validity"`
	Frequency      FrequencyResult  `json:"frequency"`
	Literature     LiteratureResult `json:"literature"`
	GnomADLink     string           `json:"gnomad_link,omitempty"`
	Interpretation string           `json:"interpretation,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// BatchResult is the output of one pipeline run
type BatchResult struct {
	ID        string            `json:"id"`
	Records   []AnnotatedRecord `json:"records"`
	Unmatched []Variant         `json:"unmatched"`
	Total     int               `json:"total"`
	Matched   int               `json:"matched"`
	Cancelled bool              `json:"cancelled"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// Columns lists the flat table columns produced by Rows, in display order
var Columns = []string{
	"CHROM", "POS", "REF", "ALT", "ID", "GENE", "CLNSIG", "DISEASE", "CLNREVSTAT",
	"CLNVC", "CLNHGVS", "RS", "ClinGen_Validity", "PubMed_Links", "PubMed_Status",
	"Exome_AC", "Exome_AN", "PopMax_AF", "PopMax_Pop", "gnomAD_Status", "gnomAD_Link",
	"Warnings", "Interpretation",
}

// Rows flattens every annotated record into a column name to value mapping
func (b *BatchResult) Rows() []map[string]string {
	rows := make([]map[string]string, 0, len(b.Records))
	for _, rec := range b.Records {
		rows = append(rows, rec.Row())
	}
	return rows
}

// FetchWarnings describes the upstream failures recorded on the frequency and literature results
func (r AnnotatedRecord) FetchWarnings() []string {
	var warnings []string
	if r.Frequency.Status == FrequencyError {
		warnings = append(warnings, "gnomAD fetch error: "+r.Frequency.Cause)
	}
	switch {
	case r.Literature.Status == LiteratureError:
		warnings = append(warnings, "PubMed fetch error: "+r.Literature.Cause)
	case r.Literature.TitleError != "":
		warnings = append(warnings, "PubMed titles unavailable: "+r.Literature.TitleError)
	}
	return warnings
}

// Row flattens the record for tabular rendering. Absent values are empty strings.
func (r AnnotatedRecord) Row() map[string]string {
	row := map[string]string{
		"CHROM":            r.Variant.Chromosome,
		"POS":              strconv.Itoa(r.Variant.Position),
		"REF":              r.Variant.Reference,
		"ALT":              r.Variant.Alternate,
		"ClinGen_Validity": r.Validity,
		"gnomAD_Status":    string(r.Frequency.Status),
		"gnomAD_Link":      r.GnomADLink,
		"Interpretation":   r.Interpretation,
	}
	if c := r.Clinical; c != nil {
		row["ID"] = c.RecordID.String
		row["GENE"] = c.Gene.String
		row["CLNSIG"] = c.ClinicalSignificance.String
		row["DISEASE"] = c.DiseaseName.String
		row["CLNREVSTAT"] = c.ReviewStatus.String
		row["CLNVC"] = c.VariantType.String
		row["CLNHGVS"] = c.HGVSExpression.String
		row["RS"] = c.ReferenceSNPID.String
	}
	links := make([]string, 0, len(r.Literature.Citations))
	for _, cit := range r.Literature.Citations {
		links = append(links, cit.Link)
	}
	row["PubMed_Links"] = strings.Join(links, " ")
	row["PubMed_Status"] = string(r.Literature.Status)

	seen := make(map[string]struct{})
	var warnings []string
	for _, w := range append(r.FetchWarnings(), r.Warnings...) {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		warnings = append(warnings, w)
	}
	row["Warnings"] = strings.Join(warnings, "; ")
	if s := r.Frequency.Stats; s != nil {
		row["Exome_AC"] = formatNullInt(s.ExomeAlleleCount)
		row["Exome_AN"] = formatNullInt(s.ExomeAlleleNumber)
		row["PopMax_AF"] = formatNullFloat(s.PopMaxAlleleFrequency)
		row["PopMax_Pop"] = s.PopMaxPopulation.String
	}
	for _, col := range Columns {
		if _, ok := row[col]; !ok {
			row[col] = ""
		}
	}
	return row
}

func formatNullInt(v null.Int) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func formatNullFloat(v null.Float) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'g', -1, 64)
}
