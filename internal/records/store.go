// Package records is the durable record store: one SQLite table with a
// key column, one TEXT column per schema field, and a last-modified
// timestamp. A companion table records deleted keys so the reconciler can
// tell a deleted record from one the store never had. Every mutation is a
// single transaction.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"github.com/alexjbarnes/sheet-sync/internal/models"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
	"github.com/mattn/go-sqlite3"
)

const (
	// defaultOpTimeout bounds each store call when the caller passes zero.
	defaultOpTimeout = 15 * time.Second

	// defaultModifiedColumn holds the record timestamp when the schema has
	// no timestamp column of its own.
	defaultModifiedColumn = "last_updated"

	// fallbackModifiedColumn is used when a schema field already claims
	// defaultModifiedColumn.
	fallbackModifiedColumn = "_modified"

	// deletedSuffix names the companion table of deleted keys.
	deletedSuffix = "_deleted"
)

// Store is a SQLite-backed record store for a single table.
type Store struct {
	db      *sql.DB
	table   string
	timeout time.Duration
	now     func() time.Time

	schema   schema.Schema
	modified string
	ready    bool
}

// Open opens (creating if needed) the SQLite database at path. The table
// is not touched until EnsureSchema is called.
func Open(path, table string, timeout time.Duration) (*Store, error) {
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:      db,
		table:   table,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Schema returns the schema the store was bound to by EnsureSchema.
func (s *Store) Schema() schema.Schema {
	return s.schema
}

// EnsureSchema binds the store to sc. A missing table is created; an
// existing table must already contain every column of sc, otherwise
// ErrSchemaMismatch. Existing tables are never altered. The deleted-keys
// table is created when missing.
func (s *Store) EnsureSchema(ctx context.Context, sc schema.Schema) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	modified := modifiedColumn(sc)

	cols, err := s.tableColumns(ctx)
	if err != nil {
		return classify(err)
	}

	if len(cols) == 0 {
		if _, err := s.db.ExecContext(ctx, createTableSQL(s.table, sc, modified)); err != nil {
			return classify(fmt.Errorf("creating table %s: %w", s.table, err))
		}
	} else {
		want := append([]string{sc.Key, modified}, sc.Fields...)
		for _, c := range want {
			if _, ok := cols[c]; !ok {
				return fmt.Errorf("%w: table %s has no column %q", syncerr.ErrSchemaMismatch, s.table, c)
			}
		}
	}

	if _, err := s.db.ExecContext(ctx, createDeletedSQL(s.deletedTable())); err != nil {
		return classify(fmt.Errorf("creating table %s: %w", s.deletedTable(), err))
	}

	s.schema = sc
	s.modified = modified
	s.ready = true

	return nil
}

func (s *Store) tableColumns(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", s.table)
	if err != nil {
		return nil, fmt.Errorf("reading table info: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		cols[name] = struct{}{}
	}

	return cols, rows.Err()
}

func createTableSQL(table string, sc schema.Schema, modified string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quoteIdent(table))
	fmt.Fprintf(&b, "\t%s TEXT NOT NULL UNIQUE,\n", quoteIdent(sc.Key))

	for _, f := range sc.Fields {
		fmt.Fprintf(&b, "\t%s TEXT,\n", quoteIdent(f))
	}

	fmt.Fprintf(&b, "\t%s INTEGER NOT NULL DEFAULT 0\n)", quoteIdent(modified))

	return b.String()
}

func createDeletedSQL(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t\"key\" TEXT PRIMARY KEY,\n\t\"deleted_at\" INTEGER NOT NULL\n)",
		quoteIdent(table))
}

func (s *Store) deletedTable() string {
	return s.table + deletedSuffix
}

func modifiedColumn(sc schema.Schema) string {
	if sc.Timestamp != "" {
		return sc.Timestamp
	}

	if sc.HasField(defaultModifiedColumn) || sc.Key == defaultModifiedColumn {
		return fallbackModifiedColumn
	}

	return defaultModifiedColumn
}

// Create inserts rec and returns its key. Keys are normalised with
// schema.NormalizeKey. An empty key is assigned the next numeric id. A
// duplicate key is ErrConflict. Creating a key clears any deletion record
// for it.
func (s *Store) Create(ctx context.Context, rec models.Record) (string, error) {
	if err := s.checkFields(rec.Fields); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := schema.NormalizeKey(rec.Key)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if key == "" {
			next, err := s.nextKey(ctx, tx)
			if err != nil {
				return err
			}

			key = next
		}

		exists, err := s.exists(ctx, tx, key)
		if err != nil {
			return err
		}

		if exists {
			return fmt.Errorf("%w: key %q", syncerr.ErrConflict, key)
		}

		cols := []string{quoteIdent(s.schema.Key), quoteIdent(s.modified)}
		args := []any{key, s.now().UTC().UnixNano()}

		for _, f := range s.schema.Fields {
			if v, ok := rec.Fields[f]; ok {
				cols = append(cols, quoteIdent(f))
				args = append(args, v)
			}
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(s.table), strings.Join(cols, ", "), placeholders(len(cols)))

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "key" = ?`, quoteIdent(s.deletedTable())), key)

		return err
	})
	if err != nil {
		return "", classify(fmt.Errorf("creating record: %w", err))
	}

	return key, nil
}

// Get returns the record with the given key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (models.Record, error) {
	if !s.ready {
		return models.Record{}, errNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key = schema.NormalizeKey(key)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		s.selectColumns(), quoteIdent(s.table), quoteIdent(s.schema.Key))

	rec, err := s.scan(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, fmt.Errorf("%w: key %q", syncerr.ErrNotFound, key)
	}

	if err != nil {
		return models.Record{}, classify(fmt.Errorf("reading record: %w", err))
	}

	return rec, nil
}

// List returns every record in insertion order. The order is stable and
// is the row order rendered into the sheet.
func (s *Store) List(ctx context.Context) ([]models.Record, error) {
	if !s.ready {
		return nil, errNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", s.selectColumns(), quoteIdent(s.table))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(fmt.Errorf("listing records: %w", err))
	}
	defer rows.Close()

	var out []models.Record

	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("scanning record: %w", err))
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("listing records: %w", err))
	}

	return out, nil
}

// Update sets the given fields on the record with key and stamps it with
// the operation time. Fields not present in the map are left unchanged.
// The timestamp never moves backwards, even if the wall clock does.
func (s *Store) Update(ctx context.Context, key string, fields map[string]string) (string, error) {
	if err := s.checkFields(fields); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key = schema.NormalizeKey(key)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var prev int64

		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
			quoteIdent(s.modified), quoteIdent(s.table), quoteIdent(s.schema.Key))
		if err := tx.QueryRowContext(ctx, query, key).Scan(&prev); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: key %q", syncerr.ErrNotFound, key)
			}

			return err
		}

		ts := s.now().UTC().UnixNano()
		if ts < prev {
			ts = prev
		}

		sets := []string{quoteIdent(s.modified) + " = ?"}
		args := []any{ts}

		for _, f := range s.schema.Fields {
			if v, ok := fields[f]; ok {
				sets = append(sets, quoteIdent(f)+" = ?")
				args = append(args, v)
			}
		}

		args = append(args, key)
		update := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
			quoteIdent(s.table), strings.Join(sets, ", "), quoteIdent(s.schema.Key))

		_, err := tx.ExecContext(ctx, update, args...)

		return err
	})
	if err != nil {
		return "", classify(fmt.Errorf("updating record: %w", err))
	}

	return key, nil
}

// Delete removes the record with key and records the deletion, or
// returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) (string, error) {
	if !s.ready {
		return "", errNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key = schema.NormalizeKey(key)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(s.table), quoteIdent(s.schema.Key))

		res, err := tx.ExecContext(ctx, query, key)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 0 {
			return fmt.Errorf("%w: key %q", syncerr.ErrNotFound, key)
		}

		mark := fmt.Sprintf(`INSERT OR REPLACE INTO %s ("key", "deleted_at") VALUES (?, ?)`, quoteIdent(s.deletedTable()))
		_, err = tx.ExecContext(ctx, mark, key, s.now().UTC().UnixNano())

		return err
	})
	if err != nil {
		return "", classify(fmt.Errorf("deleting record: %w", err))
	}

	return key, nil
}

// DeletedKeys returns every key deleted through Delete and not created
// again since, with the time of deletion.
func (s *Store) DeletedKeys(ctx context.Context) (map[string]time.Time, error) {
	if !s.ready {
		return nil, errNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT "key", "deleted_at" FROM %s`, quoteIdent(s.deletedTable())))
	if err != nil {
		return nil, classify(fmt.Errorf("listing deleted keys: %w", err))
	}
	defer rows.Close()

	out := make(map[string]time.Time)

	for rows.Next() {
		var (
			key string
			at  int64
		)

		if err := rows.Scan(&key, &at); err != nil {
			return nil, classify(fmt.Errorf("scanning deleted key: %w", err))
		}

		out[key] = time.Unix(0, at).UTC()
	}

	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("listing deleted keys: %w", err))
	}

	return out, nil
}

var errNotReady = fmt.Errorf("%w: schema not bound", syncerr.ErrStoreUnavailable)

func (s *Store) checkFields(fields map[string]string) error {
	if !s.ready {
		return errNotReady
	}

	for name := range fields {
		if !s.schema.HasField(name) {
			return fmt.Errorf("%w: unknown field %q", syncerr.ErrInvalidRecord, name)
		}
	}

	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *Store) exists(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	var one int

	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", quoteIdent(s.table), quoteIdent(s.schema.Key))

	err := tx.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	return err == nil, err
}

// nextKey returns one more than the largest all-digit key.
func (s *Store) nextKey(ctx context.Context, tx *sql.Tx) (string, error) {
	k := quoteIdent(s.schema.Key)
	query := fmt.Sprintf("SELECT COALESCE(MAX(CAST(%s AS INTEGER)), 0) FROM %s WHERE %s <> '' AND %s NOT GLOB '*[^0-9]*'",
		k, quoteIdent(s.table), k, k)

	var maxID int64
	if err := tx.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return "", fmt.Errorf("computing next id: %w", err)
	}

	return strconv.FormatInt(maxID+1, 10), nil
}

func (s *Store) selectColumns() string {
	cols := []string{quoteIdent(s.schema.Key), quoteIdent(s.modified)}
	for _, f := range s.schema.Fields {
		cols = append(cols, quoteIdent(f))
	}

	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (models.Record, error) {
	var (
		key      string
		modified int64
	)

	values := make([]sql.NullString, len(s.schema.Fields))
	dest := []any{&key, &modified}

	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := row.Scan(dest...); err != nil {
		return models.Record{}, err
	}

	rec := models.Record{
		Key:      key,
		Fields:   make(map[string]string, len(s.schema.Fields)),
		Modified: time.Unix(0, modified).UTC(),
	}

	for i, f := range s.schema.Fields {
		rec.Fields[f] = values[i].String
	}

	return rec, nil
}

// classify maps driver and context errors onto the sync error taxonomy.
// Errors already carrying a sentinel pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{
		syncerr.ErrNotFound,
		syncerr.ErrConflict,
		syncerr.ErrInvalidRecord,
		syncerr.ErrStoreUnavailable,
		syncerr.ErrSchemaMismatch,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", syncerr.ErrStoreUnavailable, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", syncerr.ErrConflict, err)
		case sqliteErr.Code == sqlite3.ErrBusy,
			sqliteErr.Code == sqlite3.ErrLocked,
			sqliteErr.Code == sqlite3.ErrCantOpen,
			sqliteErr.Code == sqlite3.ErrIoErr:
			return fmt.Errorf("%w: %w", syncerr.ErrStoreUnavailable, err)
		}
	}

	return err
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
