package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/alexjbarnes/sheet-sync/internal/models"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
)

// timestampLayouts are the accepted timestamp cell formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// snapshot is the sheet as read at the start of a pass.
type snapshot struct {
	layout schema.Layout

	// rows holds the first row for each key, in sheet order.
	rows  []*Row
	byKey map[string]*Row

	// kept holds rows that never reach the store: non-blank rows with an
	// empty key cell and later rows repeating a key. They are rendered
	// below the store rows so nothing typed into the sheet is wiped out.
	kept [][]string

	// skipped counts unkeyed and duplicate-key rows.
	skipped int
}

// parseGrid turns the raw grid into keyed rows. The first grid row is
// the header. fingerprints holds the content hash of every row the last
// pass rendered; passStart stamps rows edited since then that carry no
// usable timestamp cell.
func parseGrid(grid [][]string, sc schema.Schema, fingerprints map[string]string, passStart time.Time, logger *slog.Logger) (*snapshot, error) {
	var header []string
	if len(grid) > 0 {
		header = grid[0]
	}

	layout, err := sc.Layout(header)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{layout: layout, byKey: make(map[string]*Row)}

	for i := 1; i < len(grid); i++ {
		cells := grid[i]
		if schema.IsBlankRow(cells) {
			continue
		}

		line := i + 1
		key := schema.NormalizeKey(schema.Cell(cells, layout.KeyIndex))

		if key == "" {
			logger.Warn("skipping sheet row with blank key", slog.Int("line", line))
			snap.kept = append(snap.kept, cells)
			snap.skipped++

			continue
		}

		if first, dup := snap.byKey[key]; dup {
			logger.Warn("skipping duplicate key in sheet",
				slog.String("key", key),
				slog.Int("line", line),
				slog.Int("first_line", first.Line),
			)
			snap.kept = append(snap.kept, cells)
			snap.skipped++

			continue
		}

		row := &Row{
			Key:      key,
			Fields:   make(map[string]string, len(sc.Fields)),
			Modified: parseTimestamp(schema.Cell(cells, layout.TimestampIndex)),
			Line:     line,
			Cells:    cells,
		}

		for _, f := range sc.Fields {
			row.Fields[f] = schema.NormalizeValue(schema.Cell(cells, layout.FieldIndex[f]))
		}

		if fp, ok := fingerprints[key]; ok {
			row.Known = true
			row.Edited = fp != fingerprint(key, row.Fields, sc.Fields)
		}

		// A readable timestamp cell is authoritative.
		if row.Edited && row.Modified.IsZero() {
			row.Modified = passStart
		}

		snap.rows = append(snap.rows, row)
		snap.byKey[key] = row
	}

	return snap, nil
}

// parseTimestamp returns the time in a timestamp cell, or zero when the
// cell is blank or unparseable. Times without a zone are UTC.
func parseTimestamp(cell string) time.Time {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}

// formatTimestamp renders a record timestamp for the timestamp column.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

// fingerprint hashes a row's key and field values in schema order.
func fingerprint(key string, values map[string]string, fields []string) string {
	h := sha256.New()
	h.Write([]byte(schema.NormalizeValue(key)))

	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(schema.NormalizeValue(values[f])))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// render builds the full grid written back to the sheet: the header, one
// row per record in store order, the kept rows, then blank rows until
// the grid is at least minRows long so stale rows are cleared. A record
// whose key is in held is rendered from the held sheet cells instead, so
// a sheet edit the store refused stays visible.
func render(layout schema.Layout, sc schema.Schema, records []models.Record, held map[string][]string, kept [][]string, minRows int) [][]string {
	width := len(layout.Header)

	grid := make([][]string, 0, max(minRows, len(records)+len(kept)+1))
	grid = append(grid, append([]string(nil), layout.Header...))

	for _, rec := range records {
		if cells, ok := held[rec.Key]; ok {
			grid = append(grid, padRow(cells, width))
			continue
		}

		row := make([]string, width)
		row[layout.KeyIndex] = rec.Key

		for _, f := range sc.Fields {
			row[layout.FieldIndex[f]] = rec.Fields[f]
		}

		if layout.TimestampIndex >= 0 {
			row[layout.TimestampIndex] = formatTimestamp(rec.Modified)
		}

		grid = append(grid, row)
	}

	for _, cells := range kept {
		grid = append(grid, padRow(cells, width))
	}

	for len(grid) < minRows {
		grid = append(grid, make([]string, width))
	}

	return grid
}

func padRow(cells []string, width int) []string {
	row := make([]string, width)
	copy(row, cells)

	return row
}

// sameGrid reports whether writing rendered over read would change any
// cell within the header width.
func sameGrid(read, rendered [][]string, width int) bool {
	n := max(len(read), len(rendered))

	for i := 0; i < n; i++ {
		var a, b []string
		if i < len(read) {
			a = read[i]
		}

		if i < len(rendered) {
			b = rendered[i]
		}

		for j := 0; j < width; j++ {
			if schema.Cell(a, j) != schema.Cell(b, j) {
				return false
			}
		}
	}

	return true
}

func renderedFingerprints(records []models.Record, fields []string) map[string]string {
	fps := make(map[string]string, len(records))
	for _, rec := range records {
		fps[rec.Key] = fingerprint(rec.Key, rec.Fields, fields)
	}

	return fps
}
