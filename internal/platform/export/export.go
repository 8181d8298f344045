// Package export renders report documents and event listings to byte
// payloads. The core never renders rich formats itself: CSV and JSON ship
// here, xlsx and pdf are delegated to external Backend implementations.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat normalizes a format token from the transport layer.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatXLSX, FormatPDF:
		return Format(s), nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Document is the renderer-neutral shape of an export: header metadata,
// a column set, and rows of already-stringified cells.
type Document struct {
	Title   string
	Meta    map[string]string
	Columns []string
	Rows    [][]string
	// Payload is the structured form, used verbatim for JSON output.
	Payload any
}

// Backend renders a document in one format. Render returns the payload and
// its content type.
type Backend interface {
	Render(ctx context.Context, format Format, doc Document) ([]byte, string, error)
}

// Builtin handles csv and json. Requests for xlsx or pdf fail with
// ErrUnsupportedFormat so callers can route them to a richer backend.
type Builtin struct{}

func (Builtin) Render(_ context.Context, format Format, doc Document) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload := doc.Payload
		if payload == nil {
			payload = doc
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("encode json export: %w", err)
		}
		return b, "application/json", nil
	case FormatCSV:
		b, err := renderCSV(doc)
		if err != nil {
			return nil, "", err
		}
		return b, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func renderCSV(doc Document) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	if doc.Title != "" {
		_ = w.Write([]string{doc.Title})
	}
	for _, k := range sortedMetaKeys(doc.Meta) {
		_ = w.Write([]string{k, doc.Meta[k]})
	}
	if len(doc.Columns) > 0 {
		_ = w.Write(doc.Columns)
	}
	if len(doc.Rows) == 0 {
		_ = w.Write([]string{"No Activity"})
	}
	for _, row := range doc.Rows {
		_ = w.Write(row)
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func sortedMetaKeys(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Cell stringifies a payload value for CSV rows.
func Cell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(x)
		if string(b) == "null" {
			return ""
		}
		return string(b)
	}
}
