package query

import (
	"encoding/json"
	"strings"

	"github.com/outbackwave/cdxindex/internal/record"
)

// DefaultFields is the CDX field order used when the client sends no fl=,
// adopted verbatim from the ecosystem's Query.java DEFAULT_FIELDS so text
// output stays byte-compatible with existing CDX tooling.
var DefaultFields = []string{
	"urlkey", "timestamp", "url", "mime", "status", "digest",
	"redirecturl", "robotflags", "length", "offset", "filename",
}

// DefaultFieldsCDX14 extends DefaultFields with the three CDX14 extension
// columns, used when the collection is configured with cdx14=true.
var DefaultFieldsCDX14 = append(append([]string{}, DefaultFields...),
	"originalLength", "originalOffset", "originalFilename")

// FieldsFor returns fl if set, else the default field list for cdx14.
func FieldsFor(fl []string, cdx14 bool) []string {
	if len(fl) > 0 {
		return fl
	}
	if cdx14 {
		return DefaultFieldsCDX14
	}
	return DefaultFields
}

// RenderCDXLine formats one capture as a space-delimited CDX text line in
// field order, with "-" standing in for any field the capture doesn't
// carry (chiefly the CDX14 extension columns on a non-cdx14 capture).
func RenderCDXLine(c record.Capture, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		v, ok := FieldValue(c, f)
		if !ok || v == "" {
			parts[i] = "-"
		} else {
			parts[i] = v
		}
	}
	return strings.Join(parts, " ")
}

// RenderCDXHeader formats the optional " CDX <fields>" header line.
func RenderCDXHeader(fields []string) string {
	return " CDX " + strings.Join(fields, " ")
}

// RenderJSON formats captures as an array of arrays: the first inner array
// is the field-name header, one row per capture after it.
func RenderJSON(captures []record.Capture, fields []string) ([]byte, error) {
	rows := make([][]string, 0, len(captures)+1)
	rows = append(rows, fields)
	for _, c := range captures {
		row := make([]string, len(fields))
		for i, f := range fields {
			v, ok := FieldValue(c, f)
			if !ok {
				v = ""
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return json.Marshal(rows)
}
