// Package input turns uploaded variant files (VCF, VCF.gz, CSV, TSV) into
// variant tuples for the matcher.
package input

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/tabular"
)

// RequiredColumns are the columns a tabular upload must carry
var RequiredColumns = []string{"CHROM", "POS", "REF", "ALT"}

// ParseError reports a malformed line in an uploaded file
type ParseError struct {
	Line    int
	Message string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// variantRow is one row of a tabular upload. Extra columns are ignored.
type variantRow struct {
	Chrom string `csv:"CHROM"`
	Pos   string `csv:"POS"`
	Ref   string `csv:"REF"`
	Alt   string `csv:"ALT"`
}

// ParseVariants reads every variant in r. name is the uploaded file name and
// is only used to choose between VCF and tabular parsing; content sniffing
// decides when the name is empty.
func ParseVariants(name string, r io.Reader) ([]domain.Variant, error) {
	data, err := tabular.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	var variants []domain.Variant
	if isVCF(name, data) {
		variants, err = parseVCF(data)
	} else {
		variants, err = parseTable(name, data)
	}
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, domain.ErrNoVariants
	}
	return variants, nil
}

func isVCF(name string, data []byte) bool {
	lower := strings.TrimSuffix(strings.ToLower(name), ".gz")
	if strings.HasSuffix(lower, ".vcf") {
		return true
	}
	if strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".tsv") || strings.HasSuffix(lower, ".txt") {
		return false
	}
	return bytes.HasPrefix(data, []byte("##")) || bytes.HasPrefix(data, []byte("#CHROM\t"))
}

// parseVCF splits data lines on tabs and takes CHROM, POS, REF and ALT.
// Multi-allelic ALT fields yield one variant per allele.
func parseVCF(data []byte) ([]domain.Variant, error) {
	var variants []domain.Variant

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, tabular.BufferSize), 16*1024*1024)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			return nil, &ParseError{Line: lineNumber, Message: fmt.Sprintf("expected at least 5 tab-separated columns, got %d", len(fields))}
		}

		for _, alt := range strings.Split(fields[4], ",") {
			if alt == "." || alt == "*" {
				continue
			}
			v, err := domain.NewVariant(fields[0], fields[1], fields[3], alt)
			if err != nil {
				return nil, &ParseError{Line: lineNumber, Message: err.Error()}
			}
			variants = append(variants, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan VCF: %w", err)
	}
	return variants, nil
}

func parseTable(name string, data []byte) ([]domain.Variant, error) {
	if name == "" {
		name = "upload"
	}
	delimiter := tabular.DetectDelimiter(data)
	if err := tabular.RequireColumns(name, data, delimiter, RequiredColumns...); err != nil {
		return nil, err
	}

	var rows []*variantRow
	if err := tabular.Unmarshal(data, delimiter, &rows); err != nil {
		return nil, err
	}

	variants := make([]domain.Variant, 0, len(rows))
	for i, row := range rows {
		v, err := domain.NewVariant(row.Chrom, row.Pos, row.Ref, row.Alt)
		if err != nil {
			// +2: header line and 1-based numbering
			return nil, &ParseError{Line: i + 2, Message: err.Error()}
		}
		variants = append(variants, v)
	}
	return variants, nil
}
