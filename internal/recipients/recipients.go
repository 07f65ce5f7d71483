// Package recipients reads a bulk recipient list from the first column of a
// spreadsheet.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for files that are neither .xlsx nor .csv.
var ErrUnsupportedFormat = errors.New("unsupported recipient file format")

// List is the result of loading a spreadsheet.
type List struct {
	Addresses     []string
	SkippedHeader string // the dropped first cell, empty if none was dropped
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient file: %w", err)
	}
	defer f.Close()
	return Load(f, filepath.Base(path))
}

// Load reads the first column of r, drops blank cells and, once, a header row.
// The format is chosen from filename's extension.
func Load(r io.Reader, filename string) (*List, error) {
	var (
		cells []string
		err   error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		cells, err = readXLSX(r)
	case ".csv", ".txt":
		cells, err = readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
	if err != nil {
		return nil, err
	}

	addrs, header := StripHeader(cells)
	return &List{Addresses: addrs, SkippedHeader: header}, nil
}

// StripHeader drops the first row when it does not look like an address.
// It returns the remaining rows and the dropped cell, if any.
func StripHeader(rows []string) ([]string, string) {
	if len(rows) == 0 || strings.Contains(rows[0], "@") {
		return rows, ""
	}
	return rows[1:], rows[0]
}

func readXLSX(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	cells := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if cell := strings.TrimSpace(row[0]); cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells, nil
}

func readCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var cells []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		if cell := strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff")); cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells, nil
}
