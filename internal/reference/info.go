package reference

import (
	"regexp"
	"strings"

	"gopkg.in/guregu/null.v3"
)

// InfoFields are the optional values extracted from a ClinVar INFO string
type InfoFields struct {
	Gene                 null.String
	ClinicalSignificance null.String
	DiseaseName          null.String
	ReferenceSNPID       null.String
	VariantType          null.String
	HGVSExpression       null.String
	ReviewStatus         null.String
}

// infoExtractor captures one INFO key. Each key is matched independently so a
// missing key never affects the others.
type infoExtractor struct {
	pattern   *regexp.Regexp
	transform func(string) string
}

var (
	geneInfoPattern = regexp.MustCompile(`(?:^|;)GENEINFO=([A-Za-z0-9\-]+)`)

	clnsigExtractor     = infoExtractor{pattern: regexp.MustCompile(`(?:^|;)CLNSIG=([^;]+)`)}
	clndnExtractor      = infoExtractor{pattern: regexp.MustCompile(`(?:^|;)CLNDN=([^;]+)`), transform: underscoresToSpaces}
	rsExtractor         = infoExtractor{pattern: regexp.MustCompile(`(?:^|;)RS=([0-9]+)`)}
	clnvcExtractor      = infoExtractor{pattern: regexp.MustCompile(`(?:^|;)CLNVC=([^;]+)`)}
	clnhgvsExtractor    = infoExtractor{pattern: regexp.MustCompile(`(?:^|;)CLNHGVS=([^;]+)`)}
	clnrevstatExtractor = infoExtractor{pattern: regexp.MustCompile(`(?:^|;)CLNREVSTAT=([^;]+)`), transform: underscoresToSpaces}
)

func underscoresToSpaces(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func (e infoExtractor) extract(info string) null.String {
	m := e.pattern.FindStringSubmatch(info)
	if m == nil || m[1] == "" || m[1] == "." {
		return null.String{}
	}
	value := m[1]
	if e.transform != nil {
		value = e.transform(value)
	}
	return null.StringFrom(value)
}

// ParseInfo splits a ClinVar INFO string into its optional fields.
// GENEINFO keeps only the first gene symbol (the part before ':').
func ParseInfo(info string) InfoFields {
	fields := InfoFields{
		ClinicalSignificance: clnsigExtractor.extract(info),
		DiseaseName:          clndnExtractor.extract(info),
		ReferenceSNPID:       rsExtractor.extract(info),
		VariantType:          clnvcExtractor.extract(info),
		HGVSExpression:       clnhgvsExtractor.extract(info),
		ReviewStatus:         clnrevstatExtractor.extract(info),
	}
	if m := geneInfoPattern.FindStringSubmatch(info); m != nil {
		fields.Gene = null.StringFrom(m[1])
	}
	return fields
}
