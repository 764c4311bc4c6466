package reconcile

//go:generate mockgen -destination=mocks_test.go -package=reconcile . RecordStore,SheetStore,Ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"github.com/alexjbarnes/sheet-sync/internal/models"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
	"github.com/alexjbarnes/sheet-sync/internal/state"
	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffCleanupThreshold is the minimum number of diffs before a semantic
// cleanup pass is worth running on a field patch.
const diffCleanupThreshold = 2

// RecordStore is the subset of the record store a pass uses.
type RecordStore interface {
	List(ctx context.Context) ([]models.Record, error)
	Create(ctx context.Context, rec models.Record) (string, error)
	Update(ctx context.Context, key string, fields map[string]string) (string, error)
	DeletedKeys(ctx context.Context) (map[string]time.Time, error)
}

// SheetStore is the subset of the sheet store a pass uses.
type SheetStore interface {
	ReadRange(ctx context.Context, ref string) ([][]string, error)
	WriteRange(ctx context.Context, ref string, grid [][]string) error
}

// Ledger persists the bookkeeping carried between passes.
type Ledger interface {
	Fingerprints() (map[string]string, error)
	SetFingerprints(fps map[string]string) error
	Watermark() (state.Watermark, error)
	SetWatermark(wm state.Watermark) error
	SetLastResult(v any) error
}

// Action names what a pass did for one key.
type Action string

const (
	ActionStoreInsert Action = "store_insert"
	ActionStoreUpdate Action = "store_update"
	ActionSheetInsert Action = "sheet_insert"
	ActionSheetUpdate Action = "sheet_update"
	ActionSheetDelete Action = "sheet_delete"
)

// FieldChange is one field rewritten by a pass. Patch is the
// diff-match-patch text turning Old into New.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
	Patch string `json:"patch"`
}

// Change is one key touched by a pass.
type Change struct {
	Key    string        `json:"key"`
	Action Action        `json:"action"`
	Fields []FieldChange `json:"fields,omitempty"`
}

// Result summarises one pass.
type Result struct {
	PassID    string        `json:"pass_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	SheetInserts int `json:"sheet_inserts"`
	SheetDeletes int `json:"sheet_deletes"`
	StoreInserts int `json:"store_inserts"`
	StoreUpdates int `json:"store_updates"`
	StoreWins    int `json:"store_wins"`
	Skipped      int `json:"skipped"`

	SheetWritten bool     `json:"sheet_written"`
	Changes      []Change `json:"changes,omitempty"`
}

// Reconciler runs reconciliation passes between a record store and a
// sheet. It is not safe for concurrent passes; the scheduler serialises
// them.
type Reconciler struct {
	store  RecordStore
	sheet  SheetStore
	ledger Ledger
	schema schema.Schema
	ref    string
	logger *slog.Logger
	now    func() time.Time
	dmp    *diffmatchpatch.DiffMatchPatch
}

// NewReconciler creates a reconciler for the sheet range ref.
func NewReconciler(store RecordStore, sheet SheetStore, ledger Ledger, sc schema.Schema, ref string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		sheet:  sheet,
		ledger: ledger,
		schema: sc,
		ref:    ref,
		logger: logger,
		now:    time.Now,
		dmp:    diffmatchpatch.New(),
	}
}

// Pass runs one full reconciliation. Per-record failures are logged and
// counted as skipped, and the sheet row is rendered back unchanged.
// ErrStoreUnavailable, a schema mismatch, or a failed sheet or ledger call
// aborts the pass without advancing the watermark.
func (r *Reconciler) Pass(ctx context.Context) (*Result, error) {
	started := r.now().UTC()
	res := &Result{PassID: uuid.NewString(), StartedAt: started}
	logger := r.logger.With(slog.String("pass_id", res.PassID))

	grid, err := r.sheet.ReadRange(ctx, r.ref)
	if err != nil {
		return nil, fmt.Errorf("reading sheet: %w", err)
	}

	prevFps, err := r.ledger.Fingerprints()
	if err != nil {
		return nil, fmt.Errorf("loading fingerprints: %w", err)
	}

	snap, err := parseGrid(grid, r.schema, prevFps, started, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing sheet: %w", err)
	}

	res.Skipped += snap.skipped

	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	storeByKey := make(map[string]*models.Record, len(records))
	for i := range records {
		storeByKey[records[i].Key] = &records[i]
	}

	if err := r.markDeleted(ctx, snap, storeByKey); err != nil {
		return nil, err
	}

	// held keeps sheet rows the store refused, rendered in place of the
	// stored record.
	held := make(map[string][]string)
	storeChanged := false

	for _, row := range snap.rows {
		rec := storeByKey[row.Key]
		decision := Decide(rec, row, r.schema.Fields)

		switch decision {
		case DecisionInsertStore:
			if _, err := r.store.Create(ctx, models.Record{Key: row.Key, Fields: row.Fields}); err != nil {
				if err := r.recordFailure(logger, res, row.Key, decision, err); err != nil {
					return nil, err
				}

				snap.kept = append(snap.kept, row.Cells)

				continue
			}

			storeChanged = true
			res.StoreInserts++
			res.Changes = append(res.Changes, Change{Key: row.Key, Action: ActionStoreInsert})

		case DecisionTakeSheet:
			changed := changedFields(rec.Fields, row.Fields, r.schema.Fields)

			if _, err := r.store.Update(ctx, row.Key, row.Fields); err != nil {
				if err := r.recordFailure(logger, res, row.Key, decision, err); err != nil {
					return nil, err
				}

				held[row.Key] = row.Cells

				continue
			}

			storeChanged = true
			res.StoreUpdates++
			res.Changes = append(res.Changes, Change{
				Key:    row.Key,
				Action: ActionStoreUpdate,
				Fields: r.fieldChanges(changed, rec.Fields, row.Fields),
			})

		case DecisionKeepStore:
			changed := changedFields(row.Fields, rec.Fields, r.schema.Fields)
			res.StoreWins++
			res.Changes = append(res.Changes, Change{
				Key:    row.Key,
				Action: ActionSheetUpdate,
				Fields: r.fieldChanges(changed, row.Fields, rec.Fields),
			})

		case DecisionDropRow:
			res.SheetDeletes++
			res.Changes = append(res.Changes, Change{Key: row.Key, Action: ActionSheetDelete})
		}

		if decision != DecisionSkip {
			logger.Debug("reconciled key",
				slog.String("key", row.Key),
				slog.String("decision", decision.String()),
				slog.Int("line", row.Line),
			)
		}
	}

	for _, rec := range records {
		if _, ok := snap.byKey[rec.Key]; !ok {
			res.SheetInserts++
			res.Changes = append(res.Changes, Change{Key: rec.Key, Action: ActionSheetInsert})
		}
	}

	if storeChanged {
		records, err = r.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing records after merge: %w", err)
		}
	}

	rendered := render(snap.layout, r.schema, records, held, snap.kept, len(grid))

	if !sameGrid(grid, rendered, len(snap.layout.Header)) {
		if err := r.sheet.WriteRange(ctx, r.ref, rendered); err != nil {
			return nil, fmt.Errorf("writing sheet: %w", err)
		}

		res.SheetWritten = true
	}

	fps := renderedFingerprints(records, r.schema.Fields)
	if !maps.Equal(fps, prevFps) {
		if err := r.ledger.SetFingerprints(fps); err != nil {
			return nil, fmt.Errorf("saving fingerprints: %w", err)
		}
	}

	res.Duration = r.now().Sub(started)

	if err := r.advanceWatermark(res); err != nil {
		return nil, err
	}

	logger.Info("reconciliation pass complete",
		slog.Int("store_inserts", res.StoreInserts),
		slog.Int("store_updates", res.StoreUpdates),
		slog.Int("store_wins", res.StoreWins),
		slog.Int("sheet_inserts", res.SheetInserts),
		slog.Int("sheet_deletes", res.SheetDeletes),
		slog.Int("skipped", res.Skipped),
		slog.Bool("sheet_written", res.SheetWritten),
		slog.Duration("duration", res.Duration),
	)

	return res, nil
}

// markDeleted flags sheet-only rows whose key the store recorded deleting.
// The store is only asked when some row could be a deletion.
func (r *Reconciler) markDeleted(ctx context.Context, snap *snapshot, storeByKey map[string]*models.Record) error {
	var candidates []*Row

	for _, row := range snap.rows {
		if _, ok := storeByKey[row.Key]; !ok && row.Known && !row.Edited {
			candidates = append(candidates, row)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	deleted, err := r.store.DeletedKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing deleted keys: %w", err)
	}

	for _, row := range candidates {
		_, row.Deleted = deleted[row.Key]
	}

	return nil
}

func (r *Reconciler) advanceWatermark(res *Result) error {
	prev, err := r.ledger.Watermark()
	if err != nil {
		return fmt.Errorf("loading watermark: %w", err)
	}

	wm := state.Watermark{
		LastSynced: r.now().UTC(),
		PassID:     res.PassID,
		Passes:     prev.Passes + 1,
		Changes:    len(res.Changes),
	}

	if err := r.ledger.SetWatermark(wm); err != nil {
		return fmt.Errorf("saving watermark: %w", err)
	}

	if err := r.ledger.SetLastResult(res); err != nil {
		return fmt.Errorf("saving pass result: %w", err)
	}

	return nil
}

// recordFailure logs and counts a failed per-record write. It returns the
// error when it must abort the pass instead.
func (r *Reconciler) recordFailure(logger *slog.Logger, res *Result, key string, d Decision, err error) error {
	if errors.Is(err, syncerr.ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("applying %s for key %q: %w", d, key, err)
	}

	logger.Warn("skipping record",
		slog.String("key", key),
		slog.String("decision", d.String()),
		slog.String("error", err.Error()),
	)

	res.Skipped++

	return nil
}

func (r *Reconciler) fieldChanges(fields []string, from, to map[string]string) []FieldChange {
	out := make([]FieldChange, 0, len(fields))

	for _, f := range fields {
		oldVal, newVal := from[f], to[f]
		out = append(out, FieldChange{
			Field: f,
			Old:   oldVal,
			New:   newVal,
			Patch: r.patch(oldVal, newVal),
		})
	}

	return out
}

func (r *Reconciler) patch(oldVal, newVal string) string {
	diffs := r.dmp.DiffMain(oldVal, newVal, false)
	if len(diffs) > diffCleanupThreshold {
		diffs = r.dmp.DiffCleanupSemantic(diffs)
	}

	return r.dmp.PatchToText(r.dmp.PatchMake(oldVal, diffs))
}
