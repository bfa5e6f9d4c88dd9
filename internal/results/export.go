package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format is an export encoding.
type Format string

// Supported export formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a query parameter to a Format. Empty means JSON.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Extension is the file extension used for downloads.
func (f Format) Extension() string {
	return "." + string(f)
}

var exportHeader = []string{"crawlId", "url", "title", "language", "label", "fetchedAt", "content"}

func row(d Document) []string {
	fetched := ""
	if !d.FetchedAt.IsZero() {
		fetched = d.FetchedAt.UTC().Format(time.RFC3339)
	}
	return []string{d.CrawlID, d.URL, d.Title, d.Language, d.Label, fetched, d.Content}
}

// Export writes docs to w in the given format.
func Export(w io.Writer, f Format, docs []Document) error {
	switch f {
	case FormatCSV:
		return writeCSV(w, docs)
	case FormatXLSX:
		return writeXLSX(w, docs)
	default:
		if docs == nil {
			docs = []Document{}
		}
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			return fmt.Errorf("encode results json: %w", err)
		}
		return nil
	}
}

func writeCSV(w io.Writer, docs []Document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, d := range docs {
		if err := cw.Write(row(d)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

const sheetName = "Results"

func writeXLSX(w io.Writer, docs []Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}
	for i, d := range docs {
		cells := row(d)
		values := make([]any, len(cells))
		for j, c := range cells {
			values[j] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx cell name: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(sheetName, "B", "C", 60); err != nil {
		return fmt.Errorf("size xlsx columns: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
