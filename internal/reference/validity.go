package reference

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/tabular"
)

// ValidityHeaderRow is the 0-based row holding the real header in the
// gene-disease validity export. Rows before it are file metadata.
const ValidityHeaderRow = 4

var validityColumns = []string{"GENE SYMBOL", "DISEASE LABEL", "CLASSIFICATION"}

type validityRow struct {
	GeneSymbol     string `csv:"GENE SYMBOL"`
	DiseaseLabel   string `csv:"DISEASE LABEL"`
	Classification string `csv:"CLASSIFICATION"`
}

// ValidityTable maps gene symbols to gene-disease validity classifications.
// It is read-only after loading and safe for concurrent readers.
type ValidityTable struct {
	rows   []domain.GeneDiseaseValidity
	byGene map[string]int
}

// NewValidityTable builds a table from rows in order; the first row for a gene wins
func NewValidityTable(rows []domain.GeneDiseaseValidity) *ValidityTable {
	t := &ValidityTable{byGene: make(map[string]int, len(rows))}
	for _, row := range rows {
		if _, exists := t.byGene[row.GeneSymbol]; exists {
			t.rows = append(t.rows, row)
			continue
		}
		t.byGene[row.GeneSymbol] = len(t.rows)
		t.rows = append(t.rows, row)
	}
	return t
}

// Len returns the number of rows in the table
func (t *ValidityTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Lookup returns the first validity row for an exact gene symbol
func (t *ValidityTable) Lookup(gene string) (domain.GeneDiseaseValidity, bool) {
	if t == nil {
		return domain.GeneDiseaseValidity{}, false
	}
	i, ok := t.byGene[gene]
	if !ok {
		return domain.GeneDiseaseValidity{}, false
	}
	return t.rows[i], true
}

// Classify returns the validity classification for gene, or
// domain.ValidityUnknown when the gene is null, empty or absent.
// The gene is cleaned with CleanGeneSymbol and then matched exactly.
func (t *ValidityTable) Classify(gene null.String) string {
	if !gene.Valid {
		return domain.ValidityUnknown
	}
	symbol := CleanGeneSymbol(gene.String)
	if symbol == "" {
		return domain.ValidityUnknown
	}
	if row, ok := t.Lookup(symbol); ok {
		return row.Classification
	}
	return domain.ValidityUnknown
}

var geneSeparators = regexp.MustCompile(`[:|;,/\s]`)

// CleanGeneSymbol strips format noise from a gene symbol: surrounding
// whitespace, ClinVar ":geneID" suffixes and compound lists ("BRCA1|NBR2"),
// keeping the first symbol. Case is preserved.
func CleanGeneSymbol(gene string) string {
	gene = strings.TrimSpace(gene)
	if loc := geneSeparators.FindStringIndex(gene); loc != nil {
		gene = gene[:loc[0]]
	}
	return gene
}

// LoadValidity loads the gene-disease validity CSV. The first four rows are
// banner lines and are skipped; the fifth is the header. Data rows missing any
// required value are dropped.
//
// On failure it logs a warning and returns an empty table together with the error.
func LoadValidity(path string, logger *logrus.Logger) (*ValidityTable, error) {
	table, err := loadValidity(path)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Warn("Gene-disease validity table could not be loaded; every gene will classify as unknown")
		return NewValidityTable(nil), err
	}

	logger.WithFields(logrus.Fields{
		"path": path,
		"rows": table.Len(),
	}).Info("Gene-disease validity table loaded")
	return table, nil
}

func loadValidity(path string) (*ValidityTable, error) {
	data, err := tabular.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseValidity(path, data)
}

// ParseValidity parses validity CSV content; source names it in errors
func ParseValidity(source string, data []byte) (*ValidityTable, error) {
	records, err := tabular.NewReader(data, ',').ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	if len(records) <= ValidityHeaderRow {
		return nil, &domain.SchemaError{
			Source: source,
			Reason: fmt.Sprintf("expected header at row %d, file has %d rows", ValidityHeaderRow, len(records)),
		}
	}

	// gocsv binds on the exact header text, so the trimmed names replace the raw row
	header := make([]string, len(records[ValidityHeaderRow]))
	present := make(map[string]bool, len(header))
	for i, col := range records[ValidityHeaderRow] {
		header[i] = strings.TrimSpace(col)
		present[header[i]] = true
	}
	var missing []string
	for _, col := range validityColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.SchemaError{Source: source, Missing: missing}
	}

	var rows []*validityRow
	body := append([][]string{header}, records[ValidityHeaderRow+1:]...)
	if err := gocsv.UnmarshalCSV(&recordReader{records: body}, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", source, err)
	}

	out := make([]domain.GeneDiseaseValidity, 0, len(rows))
	for _, row := range rows {
		v := domain.GeneDiseaseValidity{
			GeneSymbol:     strings.TrimSpace(row.GeneSymbol),
			DiseaseLabel:   strings.TrimSpace(row.DiseaseLabel),
			Classification: strings.TrimSpace(row.Classification),
		}
		if v.GeneSymbol == "" || v.DiseaseLabel == "" || v.Classification == "" {
			continue
		}
		out = append(out, v)
	}
	return NewValidityTable(out), nil
}

// recordReader replays already-split records to gocsv
type recordReader struct {
	records [][]string
	pos     int
}

func (r *recordReader) Read() ([]string, error) {
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *recordReader) ReadAll() ([][]string, error) {
	rest := r.records[r.pos:]
	r.pos = len(r.records)
	return rest, nil
}
