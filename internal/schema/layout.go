package schema

import (
	"fmt"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
)

// Layout maps schema columns onto the positions of one concrete header
// row. It is computed per pass because users may reorder sheet columns
// between passes; within a pass the header does not change.
type Layout struct {
	Header         []string
	KeyIndex       int
	TimestampIndex int
	FieldIndex     map[string]int
}

// Layout resolves the schema against header. Columns in the header that
// are not part of the schema are ignored. An empty header yields the
// schema's canonical header. A header missing the key column or any
// schema field is an ErrSchemaMismatch.
func (s Schema) Layout(header []string) (Layout, error) {
	if IsBlankRow(header) {
		header = s.Header()
	}

	l := Layout{
		Header:         header,
		KeyIndex:       -1,
		TimestampIndex: -1,
		FieldIndex:     make(map[string]int, len(s.Fields)),
	}

	for i, h := range header {
		name := NormalizeName(h)

		switch {
		case name == "":
		case name == s.Key:
			if l.KeyIndex < 0 {
				l.KeyIndex = i
			}
		case s.Timestamp != "" && name == s.Timestamp:
			if l.TimestampIndex < 0 {
				l.TimestampIndex = i
			}
		case s.HasField(name):
			if _, dup := l.FieldIndex[name]; !dup {
				l.FieldIndex[name] = i
			}
		}
	}

	if l.KeyIndex < 0 {
		return Layout{}, fmt.Errorf("%w: key column %q missing from header", syncerr.ErrSchemaMismatch, s.Key)
	}

	for _, f := range s.Fields {
		if _, ok := l.FieldIndex[f]; !ok {
			return Layout{}, fmt.Errorf("%w: column %q missing from header", syncerr.ErrSchemaMismatch, f)
		}
	}

	return l, nil
}

// Cell returns the value at column i of row, or "" for short rows.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}

	return row[i]
}

// IsBlankRow reports whether every cell in row is empty or whitespace.
func IsBlankRow(row []string) bool {
	for _, c := range row {
		if NormalizeName(c) != "" {
			return false
		}
	}

	return true
}
