package sheets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const csvDirPerm = fs.FileMode(0o755)

// CSVStore is a Store kept in a single CSV file. The ref's tab name and
// column bounds are ignored; only its starting row is honoured.
type CSVStore struct {
	path string

	mu       sync.Mutex
	lastHash string
}

// NewCSVStore returns a store for the CSV file at path. The file is
// created on first write.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

// Path returns the CSV file path.
func (c *CSVStore) Path() string {
	return c.path
}

// LastWriteHash returns the SHA-256 of the content this store last wrote,
// so the file watcher can ignore its own writes.
func (c *CSVStore) LastWriteHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastHash
}

// ReadRange returns every row from the ref's starting row onwards. A
// missing file reads as an empty sheet.
func (c *CSVStore) ReadRange(ctx context.Context, ref string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.readAll()
	if err != nil {
		return nil, err
	}

	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	start := r.FirstRow() - 1
	if start >= len(rows) {
		return nil, nil
	}

	rows = rows[start:]

	if r.EndRow > 0 && r.EndRow-start < len(rows) {
		rows = rows[:r.EndRow-start]
	}

	return rows, nil
}

// WriteRange overlays grid onto the file starting at the ref's first row.
// Rows outside the overlay are kept. Trailing blank rows are trimmed and
// the file is replaced atomically.
func (c *CSVStore) WriteRange(ctx context.Context, ref string, grid [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r, err := ParseRef(ref)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.readAll()
	if err != nil {
		return err
	}

	start := r.FirstRow() - 1
	for len(rows) < start+len(grid) {
		rows = append(rows, nil)
	}

	for i, row := range grid {
		rows[start+i] = append([]string(nil), row...)
	}

	rows = trimBlankRows(rows)

	// A lone empty field encodes as an empty line, which csv.Reader skips.
	for i, row := range rows {
		if isBlank(row) && len(row) < 2 {
			rows[i] = []string{"", ""}
		}
	}

	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encoding csv: %w", err)
	}

	if err := writeFileAtomic(c.path, buf.Bytes()); err != nil {
		return err
	}

	h := sha256.Sum256(buf.Bytes())
	c.lastHash = hex.EncodeToString(h[:])

	return nil
}

// Header returns the row at the ref's first row.
func (c *CSVStore) Header(ctx context.Context, ref string) ([]string, error) {
	rows, err := c.ReadRange(ctx, HeaderRef(ref))
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return rows[0], nil
}

func (c *CSVStore) readAll() ([][]string, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.path, err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.path, err)
	}

	return rows, nil
}

func trimBlankRows(rows [][]string) [][]string {
	for len(rows) > 0 && isBlank(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}

	return rows
}

func isBlank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}

	return true
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, csvDirPerm); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
