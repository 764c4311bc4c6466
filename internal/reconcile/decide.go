// Package reconcile merges the record store and the sheet. Each pass
// reads both sides in full, decides per key which side holds the newer
// value (last writer wins, the store wins ties), applies sheet-side wins
// to the store, and re-renders the whole sheet from the store.
package reconcile

import (
	"time"

	"github.com/alexjbarnes/sheet-sync/internal/models"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
)

// Decision is the outcome of comparing one key across both sides. The
// Reconciler performs the I/O.
type Decision int

const (
	// DecisionSkip means both sides already hold the same values.
	DecisionSkip Decision = iota

	// DecisionKeepStore means the values differ and the store is newer or
	// tied. The sheet row is overwritten at render time.
	DecisionKeepStore

	// DecisionTakeSheet means the sheet row is strictly newer. Its values
	// are written to the store.
	DecisionTakeSheet

	// DecisionInsertStore means the key exists only in the sheet and the
	// store holds no deletion for it, or the row was edited since. It
	// becomes a store record.
	DecisionInsertStore

	// DecisionRenderRow means the key exists only in the store. It gets a
	// sheet row at render time.
	DecisionRenderRow

	// DecisionDropRow means the key exists only in the sheet, the store
	// recorded deleting it, and the row is unchanged since an earlier pass
	// rendered it. The row is cleared.
	DecisionDropRow
)

var decisionNames = map[Decision]string{
	DecisionSkip:        "skip",
	DecisionKeepStore:   "keep_store",
	DecisionTakeSheet:   "take_sheet",
	DecisionInsertStore: "insert_store",
	DecisionRenderRow:   "render_row",
	DecisionDropRow:     "drop_row",
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}

	return "unknown"
}

// Row is one keyed data row parsed from the sheet.
type Row struct {
	Key    string
	Fields map[string]string

	// Modified is the row's effective timestamp: the timestamp cell when
	// present and parseable. Without one, an edited row carries the pass
	// start and an untouched row is zero.
	Modified time.Time

	// Line is the 1-based sheet row number, for logs.
	Line int

	// Cells is the raw sheet row.
	Cells []string

	// Known reports that an earlier pass rendered this key.
	Known bool

	// Edited reports that the row differs from what was last rendered.
	Edited bool

	// Deleted reports that the store holds a deletion record for the key.
	Deleted bool
}

// Decide compares the store record and the sheet row for one key. Either
// may be nil when the key is absent on that side. This is a pure function.
func Decide(rec *models.Record, row *Row, fields []string) Decision {
	switch {
	case rec == nil && row == nil:
		return DecisionSkip
	case rec == nil:
		if row.Deleted && row.Known && !row.Edited {
			return DecisionDropRow
		}

		return DecisionInsertStore
	case row == nil:
		return DecisionRenderRow
	}

	if sameValues(rec.Fields, row.Fields, fields) {
		return DecisionSkip
	}

	if SheetWins(rec.Modified, row.Modified) {
		return DecisionTakeSheet
	}

	return DecisionKeepStore
}

// SheetWins reports whether a sheet value stamped sheetTS replaces a
// store value stamped storeTS. Only a strictly newer sheet wins.
func SheetWins(storeTS, sheetTS time.Time) bool {
	return sheetTS.After(storeTS)
}

func sameValues(a, b map[string]string, fields []string) bool {
	for _, f := range fields {
		if schema.NormalizeValue(a[f]) != schema.NormalizeValue(b[f]) {
			return false
		}
	}

	return true
}

// changedFields lists the fields whose values differ, in schema order.
func changedFields(a, b map[string]string, fields []string) []string {
	var out []string

	for _, f := range fields {
		if schema.NormalizeValue(a[f]) != schema.NormalizeValue(b[f]) {
			out = append(out, f)
		}
	}

	return out
}
