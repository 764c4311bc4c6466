package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/sheet-sync/internal/schema"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.sheet-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket          = []byte("app")
	fingerprintsBucket = []byte("fingerprints")

	schemaKey     = []byte("schema")
	watermarkKey  = []byte("watermark")
	lastResultKey = []byte("last_result")
)

// Watermark records the last reconciliation pass that completed without
// error. It is informational: per-record decisions never consult it.
type Watermark struct {
	LastSynced time.Time `json:"last_synced"`
	PassID     string    `json:"pass_id"`
	Passes     int64     `json:"passes"`
	Changes    int       `json:"changes"`
}

// State wraps a bbolt database for all persistent sync bookkeeping.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.sheet-sync/state.db, creating it
// if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(fingerprintsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Schema returns the schema saved by a previous run, or nil.
func (s *State) Schema() (*schema.Schema, error) {
	var sc *schema.Schema

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(schemaKey)
		if v == nil {
			return nil
		}

		sc = &schema.Schema{}

		return json.Unmarshal(v, sc)
	})

	return sc, err
}

// SetSchema persists the schema discovered at startup.
func (s *State) SetSchema(sc schema.Schema) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sc)
		if err != nil {
			return err
		}

		return tx.Bucket(appBucket).Put(schemaKey, data)
	})
}

// Watermark returns the last completed pass, or the zero value before
// the first one.
func (s *State) Watermark() (Watermark, error) {
	var wm Watermark

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(watermarkKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &wm)
	})

	return wm, err
}

// SetWatermark advances the watermark.
func (s *State) SetWatermark(wm Watermark) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(wm)
		if err != nil {
			return err
		}

		return tx.Bucket(appBucket).Put(watermarkKey, data)
	})
}

// SetLastResult stores v, JSON-encoded, as the outcome of the most
// recent pass.
func (s *State) SetLastResult(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding last result: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastResultKey, data)
	})
}

// LastResult decodes the stored pass outcome into v. It reports false
// when no pass has completed yet.
func (s *State) LastResult(v any) (bool, error) {
	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(appBucket).Get(lastResultKey); b != nil {
			data = append([]byte(nil), b...)
		}

		return nil
	})
	if err != nil || data == nil {
		return false, err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding last result: %w", err)
	}

	return true, nil
}

// Fingerprints returns the content fingerprint of every row the last
// pass rendered into the sheet, keyed by record key.
func (s *State) Fingerprints() (map[string]string, error) {
	result := make(map[string]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(fingerprintsBucket).ForEach(func(k, v []byte) error {
			result[string(k)] = string(v)
			return nil
		})
	})

	return result, err
}

// SetFingerprints replaces the stored fingerprints in one transaction.
func (s *State) SetFingerprints(fps map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(fingerprintsBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(fingerprintsBucket)
		if err != nil {
			return err
		}

		for k, v := range fps {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}

		return nil
	})
}

// DefaultPath returns ~/.sheet-sync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".sheet-sync", "state.db"), nil
}
