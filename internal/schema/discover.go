package schema

import (
	"context"
	"fmt"
	"os"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"gopkg.in/yaml.v3"
)

// Options controls how a schema is derived from a sheet header.
type Options struct {
	KeyColumn       string
	TimestampColumn string

	// DefaultHeaders is written to the sheet when its header row is empty.
	DefaultHeaders []string
}

// File is the on-disk YAML form of Options.
//
//	key: id
//	timestamp: last_updated
//	columns: [id, first_name, last_name, email]
type File struct {
	Key       string   `yaml:"key"`
	Timestamp string   `yaml:"timestamp"`
	Columns   []string `yaml:"columns"`
}

// WithFile overlays the non-empty values of the YAML schema file at path
// onto o. An empty path returns o unchanged.
func (o Options) WithFile(path string) (Options, error) {
	if path == "" {
		return o, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("reading schema file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return o, fmt.Errorf("parsing schema file: %w", err)
	}

	if f.Key != "" {
		o.KeyColumn = f.Key
	}

	if f.Timestamp != "" {
		o.TimestampColumn = f.Timestamp
	}

	if len(f.Columns) > 0 {
		o.DefaultHeaders = f.Columns
	}

	return o, nil
}

// HeaderSheet is the subset of the sheet store needed for discovery.
type HeaderSheet interface {
	Header(ctx context.Context, ref string) ([]string, error)
	WriteRange(ctx context.Context, ref string, grid [][]string) error
}

// Saved persists the schema between runs.
type Saved interface {
	Schema() (*Schema, error)
	SetSchema(s Schema) error
}

// Resolve returns the schema for this run. A previously saved schema is
// authoritative and must still fit the sheet header, otherwise the result
// is ErrSchemaMismatch. Without a saved schema the header is read (and
// seeded from opts.DefaultHeaders when empty), turned into a schema, and
// saved.
func Resolve(ctx context.Context, sheet HeaderSheet, headerRef string, saved Saved, opts Options) (Schema, error) {
	header, err := sheet.Header(ctx, headerRef)
	if err != nil {
		return Schema{}, fmt.Errorf("reading sheet header: %w", err)
	}

	prev, err := saved.Schema()
	if err != nil {
		return Schema{}, fmt.Errorf("loading saved schema: %w", err)
	}

	if prev != nil {
		if IsBlankRow(header) {
			if err := sheet.WriteRange(ctx, headerRef, [][]string{prev.Header()}); err != nil {
				return Schema{}, fmt.Errorf("writing header: %w", err)
			}

			return *prev, nil
		}

		if _, err := prev.Layout(header); err != nil {
			return Schema{}, err
		}

		return *prev, nil
	}

	if IsBlankRow(header) {
		if len(opts.DefaultHeaders) == 0 {
			return Schema{}, fmt.Errorf("%w: sheet header empty and no default headers configured", syncerr.ErrSchemaMismatch)
		}

		header = opts.DefaultHeaders
		if err := sheet.WriteRange(ctx, headerRef, [][]string{header}); err != nil {
			return Schema{}, fmt.Errorf("writing default header: %w", err)
		}
	}

	s, err := FromHeader(header, opts.KeyColumn, opts.TimestampColumn)
	if err != nil {
		return Schema{}, err
	}

	if err := saved.SetSchema(s); err != nil {
		return Schema{}, fmt.Errorf("saving schema: %w", err)
	}

	return s, nil
}
