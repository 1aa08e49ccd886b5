// Package tabular turns uploaded CSV or XLSX bytes into header-keyed rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

type Row map[string]string

type Table struct {
	Headers []string
	Rows    []Row
}

var (
	ErrEmpty    = errors.New("file has no header row")
	ErrNoSheets = errors.New("workbook has no sheets")
)

var (
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks the parser from the file extension and falls back to
// sniffing the zip signature every XLSX workbook starts with.
func DetectFormat(fileName string, content []byte) Format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".txt", ".tsv":
		return FormatCSV
	}
	if bytes.HasPrefix(content, zipMagic) {
		return FormatXLSX
	}
	return FormatCSV
}

func Parse(fileName string, content []byte) (Table, error) {
	if DetectFormat(fileName, content) == FormatXLSX {
		return parseXLSX(content)
	}
	delimiter := ','
	if strings.EqualFold(filepath.Ext(fileName), ".tsv") {
		delimiter = '\t'
	}
	return parseCSV(content, delimiter)
}

func parseCSV(content []byte, delimiter rune) (Table, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, record)
	}
	return build(records)
}

func parseXLSX(content []byte) (Table, error) {
	book, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, ErrNoSheets
	}
	records, err := book.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return build(records)
}

func build(records [][]string) (Table, error) {
	start := -1
	for i, record := range records {
		if !blank(record) {
			start = i
			break
		}
	}
	if start < 0 {
		return Table{}, ErrEmpty
	}

	headers := make([]string, len(records[start]))
	for i, header := range records[start] {
		headers[i] = strings.TrimSpace(header)
	}

	table := Table{Headers: headers, Rows: make([]Row, 0, len(records)-start-1)}
	for _, record := range records[start+1:] {
		if blank(record) {
			continue
		}
		row := make(Row, len(headers))
		for i, header := range headers {
			if header == "" {
				continue
			}
			if i < len(record) {
				row[header] = record[i]
			} else {
				row[header] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
