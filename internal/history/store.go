// Package history persists run summaries in a local bbolt database.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/surge/internal/load/metrics"
)

const (
	// BucketRuns maps start-time keys to JSON summaries.
	BucketRuns = "runs"
	// BucketIDs maps summary IDs to their key in BucketRuns.
	BucketIDs = "ids"
)

var (
	// ErrNotFound is returned when no run matches an ID.
	ErrNotFound = errors.New("run not found")
	// ErrAmbiguous is returned when an ID prefix matches several runs.
	ErrAmbiguous = errors.New("run id prefix is ambiguous")
)

// Store is a history of run summaries, newest last on disk.
type Store struct {
	db   *bbolt.DB
	path string
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketIDs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise history: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// key orders runs by start time; the ID keeps equal start times distinct.
func key(summary *metrics.RunSummary) []byte {
	k := make([]byte, 8, 8+len(summary.ID))
	binary.BigEndian.PutUint64(k, uint64(summary.StartTime.UnixNano()))
	return append(k, summary.ID...)
}

// Save stores summary, replacing any earlier run with the same ID.
func (s *Store) Save(summary *metrics.RunSummary) error {
	if summary == nil || summary.ID == "" {
		return errors.New("summary has no id")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs, ids := tx.Bucket([]byte(BucketRuns)), tx.Bucket([]byte(BucketIDs))
		if old := ids.Get([]byte(summary.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}
		k := key(summary)
		if err := runs.Put(k, data); err != nil {
			return err
		}
		return ids.Put([]byte(summary.ID), k)
	})
}

// List returns up to limit summaries, newest first (limit <= 0 = all).
// The per-run records are omitted.
func (s *Store) List(limit int) ([]*metrics.RunSummary, error) {
	var out []*metrics.RunSummary

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			var summary metrics.RunSummary
			if err := json.Unmarshal(v, &summary); err != nil {
				return fmt.Errorf("corrupt history entry: %w", err)
			}
			summary.Runs = nil
			out = append(out, &summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the run whose ID equals id or, failing that, is the only one
// starting with id.
func (s *Store) Get(id string) (*metrics.RunSummary, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}

	var summary metrics.RunSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		k, err := lookup(tx.Bucket([]byte(BucketIDs)), id)
		if err != nil {
			return err
		}
		v := tx.Bucket([]byte(BucketRuns)).Get(k)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &summary)
	})
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &summary, nil
}

func lookup(ids *bbolt.Bucket, id string) ([]byte, error) {
	if k := ids.Get([]byte(id)); k != nil {
		return append([]byte(nil), k...), nil
	}

	var found []byte
	c := ids.Cursor()
	prefix := []byte(id)
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), id); k, v = c.Next() {
		if found != nil {
			return nil, ErrAmbiguous
		}
		found = append([]byte(nil), v...)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Delete removes the run with the given ID or unique ID prefix.
func (s *Store) Delete(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket([]byte(BucketIDs))
		k, err := lookup(ids, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(BucketRuns)).Delete(k); err != nil {
			return err
		}
		return ids.Delete(k[8:])
	})
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	return nil
}
