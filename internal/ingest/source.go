// Package ingest drives the ordered import of the census source files.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cortolima/treeobs-go/internal/errors"
)

// Row is one record of a tabular source, addressable by column name.
type Row struct {
	index  map[string]int
	fields []string
}

// Get returns the trimmed value of the named column, or the empty string
// when the column is absent or the row is short.
func (r Row) Get(name string) string {
	i, ok := r.index[strings.ToLower(name)]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// RowSource yields rows from one tabular source. Next returns io.EOF when
// the source is exhausted.
type RowSource interface {
	Name() string
	Columns() []string
	Next() (Row, error)
	Close() error
}

// CSVSource reads a RowSource from CSV data. The first row is the header;
// column names are matched case-insensitively.
type CSVSource struct {
	name    string
	reader  *csv.Reader
	closer  io.Closer
	columns []string
	index   map[string]int
	line    int
}

// NewCSVSource wraps rc as a CSV row source. The header row is consumed
// immediately.
func NewCSVSource(name string, rc io.ReadCloser) (*CSVSource, error) {
	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		_ = rc.Close()
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileParsing).
			Context("source", name).
			Build()
	}

	src := &CSVSource{
		name:   name,
		reader: reader,
		closer: rc,
		index:  make(map[string]int, len(header)),
		line:   1,
	}
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF")))
		src.columns = append(src.columns, col)
		src.index[col] = i
	}
	return src, nil
}

// OpenCSV opens a local CSV file as a row source.
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return NewCSVSource(path, f)
}

// FetchCSV downloads a CSV document and wraps it as a row source. The caller
// owns the source and must Close it.
func FetchCSV(ctx context.Context, url string) (*CSVSource, error) {
	client := &http.Client{Timeout: 5 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.Newf("unexpected status %s fetching source", resp.Status).
			Component("ingest").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	return NewCSVSource(url, resp.Body)
}

// Name returns the source identifier used in logs and reports.
func (s *CSVSource) Name() string { return s.name }

// Columns returns the lowercased header columns.
func (s *CSVSource) Columns() []string { return s.columns }

// Next returns the next row, or io.EOF when the source is exhausted.
func (s *CSVSource) Next() (Row, error) {
	fields, err := s.reader.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}
	s.line++
	if err != nil {
		return Row{}, fmt.Errorf("%s line %d: %w", s.name, s.line, err)
	}
	return Row{index: s.index, fields: fields}, nil
}

// Close releases the underlying file or response body.
func (s *CSVSource) Close() error {
	return s.closer.Close()
}

// Require verifies that the source declares every listed column. A missing
// column is fatal for the whole run.
func Require(src RowSource, cols ...string) error {
	have := make(map[string]bool, len(src.Columns()))
	for _, c := range src.Columns() {
		have[c] = true
	}
	var missing []string
	for _, c := range cols {
		if !have[strings.ToLower(c)] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errors.Newf("source is missing required columns: %s", strings.Join(missing, ", ")).
			Component("ingest").
			Category(errors.CategoryValidation).
			Context("source", src.Name()).
			Build()
	}
	return nil
}
