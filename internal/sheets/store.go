// Package sheets reads and writes the spreadsheet side of the sync. A
// sheet is a header row followed by data rows, every cell a string.
// GoogleStore talks to the Google Sheets API; CSVStore keeps the grid in
// a local file for development and tests.
package sheets

import "context"

// Store is a grid of strings addressed by A1 ranges.
type Store interface {
	// ReadRange returns the rows in ref. Trailing empty rows and cells
	// may be omitted, so rows can be ragged.
	ReadRange(ctx context.Context, ref string) ([][]string, error)

	// WriteRange overwrites the cells of grid starting at the top-left of
	// ref. It is not transactional with respect to ReadRange.
	WriteRange(ctx context.Context, ref string, grid [][]string) error

	// Header returns the first row of ref, or nil for an empty sheet.
	Header(ctx context.Context, ref string) ([]string, error)
}
