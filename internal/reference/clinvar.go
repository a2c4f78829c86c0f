// Package reference loads the local clinical-variant and gene-disease validity
// tables into read-only in-memory handles.
package reference

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/carbocation/vcfgo"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/tabular"
)

var clinicalColumns = []string{"CHROM", "POS", "ID", "REF", "ALT", "INFO"}

// ClinicalTable is the clinical-variant reference keyed by normalized variant.
// It is read-only after loading and safe for concurrent readers.
type ClinicalTable struct {
	source     string
	records    []domain.ClinicalRecord
	index      map[domain.VariantKey]int
	duplicates int
	skipped    int
}

// NewClinicalTable builds a table from records in order. For duplicate keys
// the first record wins.
func NewClinicalTable(source string, records []domain.ClinicalRecord) *ClinicalTable {
	t := &ClinicalTable{
		source: source,
		index:  make(map[domain.VariantKey]int, len(records)),
	}
	for _, rec := range records {
		t.add(rec)
	}
	return t
}

func (t *ClinicalTable) add(rec domain.ClinicalRecord) {
	key := rec.Variant.Key()
	if _, exists := t.index[key]; exists {
		t.duplicates++
		return
	}
	t.index[key] = len(t.records)
	t.records = append(t.records, rec)
}

// Lookup returns the clinical record for variant, if any
func (t *ClinicalTable) Lookup(variant domain.Variant) (*domain.ClinicalRecord, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.index[variant.Key()]
	if !ok {
		return nil, false
	}
	rec := t.records[i]
	return &rec, true
}

// Len returns the number of distinct variants in the table
func (t *ClinicalTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Duplicates returns how many rows were ignored because an earlier row had the same key
func (t *ClinicalTable) Duplicates() int {
	if t == nil {
		return 0
	}
	return t.duplicates
}

// Skipped returns how many rows could not be parsed into a variant
func (t *ClinicalTable) Skipped() int {
	if t == nil {
		return 0
	}
	return t.skipped
}

// Source returns the path the table was loaded from
func (t *ClinicalTable) Source() string {
	if t == nil {
		return ""
	}
	return t.source
}

// clinicalRow is one row of a delimited ClinVar export
type clinicalRow struct {
	Chrom string `csv:"CHROM"`
	Pos   string `csv:"POS"`
	ID    string `csv:"ID"`
	Ref   string `csv:"REF"`
	Alt   string `csv:"ALT"`
	Info  string `csv:"INFO"`
}

// LoadReference loads the clinical-variant reference table from path.
// VCF files (optionally gzipped) are read with vcfgo; anything else is read as a
// delimited table with CHROM, POS, ID, REF, ALT and INFO columns.
//
// On failure it logs a warning and returns an empty table together with the
// error, so callers can carry on with zero matches.
func LoadReference(path string, logger *logrus.Logger) (*ClinicalTable, error) {
	table, err := loadReference(path)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Warn("Clinical reference could not be loaded; continuing with an empty table")
		return NewClinicalTable(path, nil), err
	}

	logger.WithFields(logrus.Fields{
		"path":       path,
		"variants":   table.Len(),
		"duplicates": table.duplicates,
		"skipped":    table.skipped,
	}).Info("Clinical reference loaded")
	return table, nil
}

func loadReference(path string) (*ClinicalTable, error) {
	data, err := tabular.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if isVCF(path, data) {
		return parseVCF(path, data)
	}
	return parseDelimited(path, data)
}

func isVCF(path string, data []byte) bool {
	name := strings.ToLower(strings.TrimSuffix(path, ".gz"))
	if filepath.Ext(name) == ".vcf" {
		return true
	}
	return bytes.HasPrefix(data, []byte("##fileformat=VCF"))
}

func parseVCF(path string, data []byte) (*ClinicalTable, error) {
	rdr, err := vcfgo.NewReader(bufio.NewReaderSize(bytes.NewReader(data), tabular.BufferSize), true)
	if err != nil {
		if rdr == nil {
			return nil, &domain.SchemaError{Source: path, Reason: fmt.Sprintf("invalid VCF header: %v", err)}
		}
		// Header problems such as undeclared INFO keys do not prevent reading records.
		rdr.Clear()
	}

	table := NewClinicalTable(path, nil)
	var lastErr error
	for {
		variant := rdr.Read()
		if variant == nil {
			break
		}
		if err := rdr.Error(); err != nil {
			lastErr = err
			rdr.Clear()
		}

		info := ParseInfo(string(variant.Info().Bytes()))
		for _, alt := range variant.Alt() {
			if alt == "" || alt == "." {
				continue
			}
			v := domain.Variant{
				Chromosome: variant.Chrom(),
				Position:   int(variant.Pos),
				Reference:  variant.Ref(),
				Alternate:  alt,
			}
			if v.Validate() != nil {
				table.skipped++
				continue
			}
			table.add(newClinicalRecord(v, variant.Id(), info))
		}
	}

	if err := rdr.Error(); err != nil {
		lastErr = err
	}
	if table.Len() == 0 && lastErr != nil {
		return nil, fmt.Errorf("failed to read VCF records: %w", lastErr)
	}
	return table, nil
}

func parseDelimited(path string, data []byte) (*ClinicalTable, error) {
	delimiter := tabular.DetectDelimiter(data)
	if err := tabular.RequireColumns(path, data, delimiter, clinicalColumns...); err != nil {
		return nil, err
	}

	var rows []*clinicalRow
	if err := tabular.Unmarshal(data, delimiter, &rows); err != nil {
		return nil, err
	}

	table := NewClinicalTable(path, nil)
	for _, row := range rows {
		v, err := domain.NewVariant(row.Chrom, row.Pos, row.Ref, row.Alt)
		if err != nil {
			table.skipped++
			continue
		}
		table.add(newClinicalRecord(v, row.ID, ParseInfo(row.Info)))
	}
	return table, nil
}

func newClinicalRecord(v domain.Variant, id string, info InfoFields) domain.ClinicalRecord {
	return domain.ClinicalRecord{
		Variant:              v,
		RecordID:             recordID(id),
		Gene:                 info.Gene,
		ClinicalSignificance: info.ClinicalSignificance,
		DiseaseName:          info.DiseaseName,
		ReviewStatus:         info.ReviewStatus,
		VariantType:          info.VariantType,
		HGVSExpression:       info.HGVSExpression,
		ReferenceSNPID:       info.ReferenceSNPID,
	}
}

// recordID normalizes the ID column. Numeric IDs exported as floats ("1001.0")
// are reduced to their integer form.
func recordID(id string) null.String {
	id = strings.TrimSpace(id)
	if id == "" || id == "." {
		return null.String{}
	}
	if f, err := strconv.ParseFloat(id, 64); err == nil && f == float64(int64(f)) {
		return null.StringFrom(strconv.FormatInt(int64(f), 10))
	}
	return null.StringFrom(id)
}
