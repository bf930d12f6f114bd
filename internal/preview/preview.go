// Package preview builds local file hints before upload. Carrier price
// tables usually arrive as CSV exports or PDF rate cards; a cheap local
// sniff gives the remote analysis a head start without any remote call.
package preview

import (
	"bytes"
	"encoding/csv"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	maxSampleRows  = 5
	maxExcerptSize = 2000
)

// Hint is the locally derived preview sent along with the analyze request.
type Hint struct {
	Kind       string     `json:"kind"` // csv | pdf | text
	Columns    []string   `json:"columns,omitempty"`
	SampleRows [][]string `json:"sample_rows,omitempty"`
	PageCount  int        `json:"page_count,omitempty"`
	Excerpt    string     `json:"excerpt,omitempty"`
}

// Build sniffs the file content and returns a Hint, or nil when nothing
// useful can be derived. Preview failures are never fatal to the import.
func Build(filename string, data []byte) *Hint {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return buildDelimited(data, ',')
	case ".tsv":
		return buildDelimited(data, '\t')
	case ".pdf":
		return buildPDF(filename, data)
	default:
		return buildText(data)
	}
}

func buildDelimited(data []byte, comma rune) *Hint {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1 // price tables are rarely rectangular

	header, err := r.Read()
	if err != nil {
		return buildText(data)
	}

	h := &Hint{Kind: "csv", Columns: header}
	for len(h.SampleRows) < maxSampleRows {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A ragged row mid-sample is fine; keep what we have.
			break
		}
		h.SampleRows = append(h.SampleRows, row)
	}
	return h
}

func buildPDF(filename string, data []byte) *Hint {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Debug("pdf preview failed", "file", filename, "error", err)
		return nil
	}

	h := &Hint{Kind: "pdf", PageCount: r.NumPage()}
	text, err := r.GetPlainText()
	if err != nil {
		slog.Debug("pdf text extraction failed", "file", filename, "error", err)
		return h
	}
	excerpt, err := io.ReadAll(io.LimitReader(text, maxExcerptSize))
	if err == nil {
		h.Excerpt = strings.TrimSpace(string(excerpt))
	}
	return h
}

func buildText(data []byte) *Hint {
	if len(data) == 0 {
		return nil
	}
	sample := data
	if len(sample) > maxExcerptSize {
		sample = sample[:maxExcerptSize]
	}
	if !utf8.Valid(sample) {
		return nil // binary blob; let the server figure it out
	}
	return &Hint{Kind: "text", Excerpt: strings.TrimSpace(string(sample))}
}
