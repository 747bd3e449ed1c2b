// Package ledger keeps a durable record of archived images and finished runs
// next to the archive, in a bbolt database.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"feedarchiver/pkg/models"

	bolt "go.etcd.io/bbolt"
)

const (
	imageBucket = "images"
	runBucket   = "runs"
)

// Entry describes one archived image
type Entry struct {
	Filename  string      `json:"filename"`
	URL       string      `json:"url"`
	Key       string      `json:"key"`
	Tier      models.Tier `json:"tier"`
	Bytes     int64       `json:"bytes"`
	RunID     string      `json:"run_id"`
	PostedAt  time.Time   `json:"posted_at"`
	SavedAt   time.Time   `json:"saved_at"`
	Directory string      `json:"directory"`
}

// Store is the ledger capability used by the archiver
type Store interface {
	Record(e Entry) error
	Lookup(filename string) (*Entry, bool, error)
	SaveRun(s models.Summary) error
	RecentRuns(n int) ([]models.Summary, error)
	Close() error
}

// Ledger is a Store backed by bbolt
type Ledger struct {
	db *bolt.DB
}

// Open opens or creates the ledger database at path
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{imageBucket, runBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger buckets: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the database
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record stores e under its filename, replacing any previous entry
func (l *Ledger) Record(e Entry) error {
	if e.Filename == "" {
		return fmt.Errorf("ledger entry without filename")
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(imageBucket)).Put([]byte(e.Filename), value)
	})
}

// Lookup returns the entry recorded for filename
func (l *Ledger) Lookup(filename string) (*Entry, bool, error) {
	var entry *Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(imageBucket)).Get([]byte(filename))
		if value == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(value, entry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("read ledger entry %q: %w", filename, err)
	}
	return entry, entry != nil, nil
}

// SaveRun stores a finished run. Runs are keyed by start time so they
// iterate chronologically.
func (l *Ledger) SaveRun(s models.Summary) error {
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(runBucket)).Put(runKey(s), value)
	})
}

// RecentRuns returns up to n runs, newest first
func (l *Ledger) RecentRuns(n int) ([]models.Summary, error) {
	var runs []models.Summary
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(runBucket)).Cursor()
		for k, v := c.Last(); k != nil && (n <= 0 || len(runs) < n); k, v = c.Prev() {
			var s models.Summary
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decode run %x: %w", k, err)
			}
			runs = append(runs, s)
		}
		return nil
	})
	return runs, err
}

func runKey(s models.Summary) []byte {
	key := make([]byte, 8, 8+len(s.RunID))
	binary.BigEndian.PutUint64(key, uint64(s.StartedAt.UnixNano()))
	return append(key, s.RunID...)
}

// Nop returns a Store that remembers nothing, used when the ledger is disabled
func Nop() Store {
	return nopStore{}
}

type nopStore struct{}

func (nopStore) Record(Entry) error                       { return nil }
func (nopStore) Lookup(string) (*Entry, bool, error)      { return nil, false, nil }
func (nopStore) SaveRun(models.Summary) error             { return nil }
func (nopStore) RecentRuns(int) ([]models.Summary, error) { return nil, nil }
func (nopStore) Close() error                             { return nil }
