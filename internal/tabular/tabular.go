// Package tabular reads delimited text tables (CSV, TSV, optionally gzipped)
// into structs, detecting the delimiter when the file does not declare it.
package tabular

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/csimplestring/go-csv/detector"
	"github.com/gocarina/gocsv"

	"github.com/variant-interpretation-server/internal/domain"
)

// BufferSize is the read buffer used for table files
const BufferSize = 4096 * 32

// preferred delimiters, in tie-break order
var preferredDelimiters = []rune{'\t', ',', ';', '|'}

// ReadFile reads a whole file, transparently decompressing gzip content
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return ReadAll(bufio.NewReaderSize(f, BufferSize))
}

// ReadAll reads r, transparently decompressing gzip content
func ReadAll(r io.Reader) ([]byte, error) {
	br := bufio.NewReaderSize(r, BufferSize)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}
	return io.ReadAll(br)
}

// DetectDelimiter returns the most likely delimiter of a CSV-like table.
// Candidates from the detector are ranked by how often they occur in the
// first line; comma is the fallback.
func DetectDelimiter(data []byte) rune {
	candidates := detector.New().DetectDelimiter(bytes.NewReader(data), '"')

	firstLine := string(data)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}

	if d, ok := mostFrequent(firstLine, candidates); ok {
		return d
	}
	if d, ok := mostFrequent(firstLine, nil); ok {
		return d
	}
	return ','
}

// mostFrequent picks the preferred delimiter occurring most often in line,
// restricted to candidates when any are given.
func mostFrequent(line string, candidates []string) (rune, bool) {
	best, bestCount := ',', 0
	for _, d := range preferredDelimiters {
		if len(candidates) > 0 && !containsDelimiter(candidates, d) {
			continue
		}
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount > 0
}

func containsDelimiter(candidates []string, d rune) bool {
	for _, c := range candidates {
		if c == string(d) {
			return true
		}
	}
	return false
}

// NewReader returns a csv reader over data using delimiter
func NewReader(data []byte, delimiter rune) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r
}

// RequireColumns checks that the header row of data contains every required column.
// It returns a SchemaError naming the missing columns.
func RequireColumns(source string, data []byte, delimiter rune, required ...string) error {
	header, err := NewReader(data, delimiter).Read()
	if err != nil {
		return &domain.SchemaError{Source: source, Reason: fmt.Sprintf("unreadable header: %v", err)}
	}

	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[strings.TrimPrefix(strings.TrimSpace(col), "#")] = true
	}

	var missing []string
	for _, col := range required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &domain.SchemaError{Source: source, Missing: missing}
	}
	return nil
}

// Unmarshal decodes data into out, a pointer to a slice of structs tagged with csv
// column names. A leading '#' on the first header column is ignored.
func Unmarshal(data []byte, delimiter rune, out interface{}) error {
	data = bytes.TrimPrefix(data, []byte("#"))
	if err := gocsv.UnmarshalCSV(NewReader(data, delimiter), out); err != nil {
		return fmt.Errorf("failed to decode table: %w", err)
	}
	return nil
}

// Marshal writes in, a slice of csv-tagged structs, to w with delimiter
func Marshal(in interface{}, w io.Writer, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	if err := gocsv.MarshalCSV(in, gocsv.NewSafeCSVWriter(cw)); err != nil {
		return fmt.Errorf("failed to encode table: %w", err)
	}
	return nil
}

// WriteTable writes a header of columns followed by one line per row, taking
// each cell from the row by column name. Missing cells are written empty.
func WriteTable(w io.Writer, delimiter rune, columns []string, rows []map[string]string) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter

	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
