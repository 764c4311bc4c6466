// Package schema describes the shape shared by the record table and the
// sheet: the key column, the ordered field columns, and the optional
// timestamp column. A Schema is discovered once at startup from the sheet
// header and passed explicitly to every component that needs it.
package schema

import (
	"fmt"
	"strings"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"golang.org/x/text/unicode/norm"
)

// Schema is the fixed column set of the synced table.
type Schema struct {
	Key       string   `json:"key"`
	Timestamp string   `json:"timestamp,omitempty"`
	Fields    []string `json:"fields"`
}

// Header returns the canonical header row: key, fields, then the
// timestamp column when one is configured.
func (s Schema) Header() []string {
	header := make([]string, 0, len(s.Fields)+2)
	header = append(header, s.Key)
	header = append(header, s.Fields...)

	if s.Timestamp != "" {
		header = append(header, s.Timestamp)
	}

	return header
}

// HasField reports whether name is one of the schema's field columns.
func (s Schema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f == name {
			return true
		}
	}

	return false
}

// Validate checks the schema is usable for table creation.
func (s Schema) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("%w: empty key column", syncerr.ErrSchemaMismatch)
	}

	seen := map[string]struct{}{strings.ToLower(s.Key): {}}
	if s.Timestamp != "" {
		if _, dup := seen[strings.ToLower(s.Timestamp)]; dup {
			return fmt.Errorf("%w: timestamp column %q collides with key", syncerr.ErrSchemaMismatch, s.Timestamp)
		}

		seen[strings.ToLower(s.Timestamp)] = struct{}{}
	}

	for _, f := range s.Fields {
		if f == "" {
			return fmt.Errorf("%w: empty field name", syncerr.ErrSchemaMismatch)
		}

		if _, dup := seen[strings.ToLower(f)]; dup {
			return fmt.Errorf("%w: duplicate column %q", syncerr.ErrSchemaMismatch, f)
		}

		seen[strings.ToLower(f)] = struct{}{}
	}

	return nil
}

// FromHeader builds a schema from a sheet header. The key column is
// keyColumn when the header contains it (case-insensitive), otherwise the
// first non-blank header cell. tsColumn is excluded from the fields and
// recorded as the timestamp column only when the header contains it.
func FromHeader(header []string, keyColumn, tsColumn string) (Schema, error) {
	var names []string

	for _, h := range header {
		if name := NormalizeName(h); name != "" {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return Schema{}, fmt.Errorf("%w: header is empty", syncerr.ErrSchemaMismatch)
	}

	s := Schema{Key: names[0]}

	for _, name := range names {
		if keyColumn != "" && strings.EqualFold(name, keyColumn) {
			s.Key = name
			break
		}
	}

	for _, name := range names {
		switch {
		case name == s.Key:
		case tsColumn != "" && strings.EqualFold(name, tsColumn):
			s.Timestamp = name
		default:
			s.Fields = append(s.Fields, name)
		}
	}

	if err := s.Validate(); err != nil {
		return Schema{}, err
	}

	return s, nil
}

// NormalizeName canonicalises a header cell: NFC and trimmed.
func NormalizeName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}

// NormalizeKey canonicalises a record key. Keys from the sheet and from
// the API pass through it so both sides compare equal.
func NormalizeKey(key string) string {
	return strings.TrimSpace(norm.NFC.String(key))
}

// NormalizeValue canonicalises a cell value for comparison. Values are
// NFC-normalised but otherwise preserved, so leading or trailing spaces
// typed into the sheet remain significant.
func NormalizeValue(value string) string {
	return norm.NFC.String(value)
}
