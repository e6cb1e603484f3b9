// Package ingest reads timestamp,value CSV series.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var ErrEmptySeries = errors.New("series has no rows")

// maxLearningPeriod caps learning for long series (15% of 5000 rows).
const maxLearningPeriod = 750

type Row struct {
	Line      int
	Timestamp string
	Value     float64
	// Label is the third column when the file has one (benchmark ground truth).
	Label string
}

// Reader streams rows from a CSV with a header line. Only the first two
// columns are used; extra columns (labels) are ignored.
type Reader struct {
	csv    *csv.Reader
	line   int
	header []string
}

func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return &Reader{csv: cr}
}

// Next returns io.EOF after the last row.
func (r *Reader) Next() (Row, error) {
	for {
		record, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Row{}, io.EOF
			}
			return Row{}, fmt.Errorf("read csv: %w", err)
		}
		r.line++
		if r.line == 1 {
			r.header = append([]string(nil), record...)
			continue
		}
		if len(record) < 2 {
			return Row{}, fmt.Errorf("line %d: want timestamp,value got %d fields", r.line, len(record))
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return Row{}, fmt.Errorf("line %d: parse value: %w", r.line, err)
		}
		row := Row{Line: r.line, Timestamp: strings.TrimSpace(record[0]), Value: value}
		if len(record) > 2 {
			row.Label = strings.TrimSpace(record[2])
		}
		return row, nil
	}
}

// Header returns the header line once the first row was read.
func (r *Reader) Header() []string {
	return r.header
}

// HasLabel reports whether the header names a third column.
func (r *Reader) HasLabel() bool {
	return len(r.header) > 2
}

// Series is a fully read file.
type Series struct {
	Header []string
	Rows   []Row
}

func (s Series) HasLabel() bool {
	return len(s.Header) > 2
}

func ReadSeries(r io.Reader) (Series, error) {
	reader := NewReader(r)
	var rows []Row
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return Series{Header: reader.Header(), Rows: rows}, nil
		}
		if err != nil {
			return Series{}, err
		}
		rows = append(rows, row)
	}
}

func ReadAll(r io.Reader) ([]Row, error) {
	s, err := ReadSeries(r)
	if err != nil {
		return nil, err
	}
	return s.Rows, nil
}

// Range returns the smallest and largest value in rows.
func Range(rows []Row) (float64, float64, error) {
	if len(rows) == 0 {
		return 0, 0, ErrEmptySeries
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range rows {
		lo = math.Min(lo, row.Value)
		hi = math.Max(hi, row.Value)
	}
	return lo, hi, nil
}

// RestPeriodFor derives the refractory window from the series length: a
// learning period of 15% of the rows capped at 750, divided by five.
func RestPeriodFor(rows int) int {
	learning := math.Min(math.Floor(0.15*float64(rows)), maxLearningPeriod)
	return max(1, int(math.Floor(learning/5)))
}
