package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ErrStop can be returned from a ForEach callback to end iteration early
// without reporting an error.
var ErrStop = errors.New("stop processing")

// ProcessorOptions configures CSV processing behavior.
type ProcessorOptions struct {
	// FieldsPerRecord sets the expected number of fields per record.
	// If 0, it's set to the number of fields in the first record.
	FieldsPerRecord int

	// SkipInvalid controls whether to skip invalid records or return an error.
	SkipInvalid bool

	// RequiredColumns lists header names that must be present.
	RequiredColumns []string
}

// Record is a single CSV row with access to its fields by header name.
type Record struct {
	Line    int
	fields  []string
	columns map[string]int
}

// Get returns the named field, or "" if the column is absent.
func (r Record) Get(column string) string {
	idx, ok := r.columns[column]
	if !ok || idx >= len(r.fields) {
		return ""
	}
	return r.fields[idx]
}

// ForEach streams a CSV file, parsing each record and handing the result to fn.
// Rows are never buffered, so it is suitable for very large files.
func ForEach[T any](filename string, parser func(Record) (T, error), opts ProcessorOptions, fn func(T) error) error {
	csvFile, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = csvFile.Close() }()

	// File existence check
	if fi, err := csvFile.Stat(); err != nil || fi.Size() == 0 {
		return fmt.Errorf("CSV file %s is empty or cannot be read", filename)
	}

	return forEachReader(csvFile, parser, opts, fn)
}

func forEachReader[T any](r io.Reader, parser func(Record) (T, error), opts ProcessorOptions, fn func(T) error) error {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false
	if opts.FieldsPerRecord > 0 {
		reader.FieldsPerRecord = opts.FieldsPerRecord
	}

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		// Strip a UTF-8 BOM some exporters put in front of the first column.
		name = strings.TrimPrefix(strings.TrimSpace(name), "\uFEFF")
		columns[name] = i
	}
	for _, required := range opts.RequiredColumns {
		if _, ok := columns[required]; !ok {
			return fmt.Errorf("CSV header is missing required column %q", required)
		}
	}

	line := 1
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			if !opts.SkipInvalid {
				return fmt.Errorf("failed to read record on line %d: %w", line, err)
			}
			slog.Warn("Error reading record", "line", line, "error", err)
			continue
		}

		item, err := parser(Record{Line: line, fields: fields, columns: columns})
		if err != nil {
			if opts.SkipInvalid {
				slog.Warn("Skipping invalid record", "line", line, "error", err)
				continue
			}
			return fmt.Errorf("invalid record on line %d: %w", line, err)
		}

		if err := fn(item); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}
