package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Variant identifies a single genomic change by chromosome, position and alleles.
// It is a value type and is never mutated after parsing.
type Variant struct {
	Chromosome string `json:"chrom" csv:"CHROM"`
	Position   int    `json:"pos" csv:"POS"`
	Reference  string `json:"ref" csv:"REF"`
	Alternate  string `json:"alt" csv:"ALT"`
}

// VariantKey is the normalized string form of a Variant used for joins.
// Every field is a string so that positions read as integers from one source
// and as text from another always compare equal.
type VariantKey struct {
	Chromosome string
	Position   string
	Reference  string
	Alternate  string
}

// String renders the key as chrom-pos-ref-alt
func (k VariantKey) String() string {
	return fmt.Sprintf("%s-%s-%s-%s", k.Chromosome, k.Position, k.Reference, k.Alternate)
}

// NewVariant builds a Variant from raw string fields as they appear in
// uploaded files and reference tables.
func NewVariant(chrom, pos, ref, alt string) (Variant, error) {
	p, err := strconv.Atoi(strings.TrimSpace(pos))
	if err != nil {
		return Variant{}, NewValidationError("POS", "position is not an integer", pos)
	}
	v := Variant{
		Chromosome: strings.TrimSpace(chrom),
		Position:   p,
		Reference:  strings.TrimSpace(ref),
		Alternate:  strings.TrimSpace(alt),
	}
	if err := v.Validate(); err != nil {
		return Variant{}, err
	}
	return v, nil
}

// Validate checks that all four identity fields are usable
func (v Variant) Validate() error {
	if NormalizeChromosome(v.Chromosome) == "" {
		return NewValidationError("CHROM", "chromosome is required", v.Chromosome)
	}
	if v.Position < 1 {
		return NewValidationError("POS", "position must be >= 1", v.Position)
	}
	if strings.TrimSpace(v.Reference) == "" {
		return NewValidationError("REF", "reference allele is required", v.Reference)
	}
	if strings.TrimSpace(v.Alternate) == "" {
		return NewValidationError("ALT", "alternate allele is required", v.Alternate)
	}
	return nil
}

// Key returns the normalized join key for the variant
func (v Variant) Key() VariantKey {
	return VariantKey{
		Chromosome: NormalizeChromosome(v.Chromosome),
		Position:   strconv.Itoa(v.Position),
		Reference:  strings.ToUpper(strings.TrimSpace(v.Reference)),
		Alternate:  strings.ToUpper(strings.TrimSpace(v.Alternate)),
	}
}

// GnomADID returns the identifier gnomAD uses for the variant
func (v Variant) GnomADID() string {
	return v.Key().String()
}

// String renders the variant as chrom:pos ref>alt
func (v Variant) String() string {
	return fmt.Sprintf("%s:%d %s>%s", v.Chromosome, v.Position, v.Reference, v.Alternate)
}

// NormalizeChromosome strips a chr prefix and upper-cases sex and
// mitochondrial chromosome names.
func NormalizeChromosome(chrom string) string {
	c := strings.TrimSpace(chrom)
	if len(c) > 3 && strings.EqualFold(c[:3], "chr") {
		c = c[3:]
	}
	c = strings.ToUpper(c)
	if c == "M" {
		return "MT"
	}
	return c
}
