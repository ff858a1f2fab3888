package importer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strings"
)

// headerColumn is the column that identifies the header row of a mineral
// dataset export. Exports sometimes carry preamble lines above the header.
const headerColumn = "Mineral Name"

// maxHeaderScan bounds how deep we look for the header row.
const maxHeaderScan = 10

// Row is one parsed data row, keyed by exact column name, with its
// 1-indexed line number in the source file for error reporting.
type Row struct {
	Line   int
	Fields map[string]string
}

// ParsedFile is a fully parsed dataset export.
type ParsedFile struct {
	// Fingerprint identifies the file contents for checkpointing.
	Fingerprint string
	Columns     []string
	Rows        []Row
}

// Parse reads an entire delimited export into typed rows. Column names are
// matched by exact string against the header row; rows shorter than the
// header are padded with empty values rather than rejected here, since the
// transformer defaults missing fields anyway.
func Parse(data []byte) (*ParsedFile, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1 // exports have ragged trailing columns

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse delimited file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	headerIdx := findHeaderRow(records)
	if headerIdx < 0 {
		return nil, fmt.Errorf("no header row containing %q found in first %d lines", headerColumn, maxHeaderScan)
	}

	header := make([]string, len(records[headerIdx]))
	for i, h := range records[headerIdx] {
		header[i] = strings.TrimSpace(stripBOM(h))
	}

	sum := sha256.Sum256(data)
	parsed := &ParsedFile{
		Fingerprint: hex.EncodeToString(sum[:]),
		Columns:     header,
		Rows:        make([]Row, 0, len(records)-headerIdx-1),
	}

	for i, rec := range records[headerIdx+1:] {
		if isEmptyRow(rec) {
			continue
		}
		fields := make(map[string]string, len(header))
		for j, col := range header {
			if j < len(rec) {
				fields[col] = rec[j]
			} else {
				fields[col] = ""
			}
		}
		parsed.Rows = append(parsed.Rows, Row{Line: headerIdx + i + 2, Fields: fields})
	}

	return parsed, nil
}

func findHeaderRow(records [][]string) int {
	limit := len(records)
	if limit > maxHeaderScan {
		limit = maxHeaderScan
	}
	for i := 0; i < limit; i++ {
		for _, cell := range records[i] {
			if strings.TrimSpace(stripBOM(cell)) == headerColumn {
				return i
			}
		}
	}
	return -1
}

func isEmptyRow(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// stripBOM removes a UTF-8 byte order mark, which Windows-exported files
// prepend to the first header cell.
func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
