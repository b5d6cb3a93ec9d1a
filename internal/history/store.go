// Package history persists reconciliation reports in bbolt and keeps an
// in-memory index of the latest outcome per snapshot.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/yairfalse/snaptag/internal/reconciler"
)

// Bucket names in bbolt
var (
	bucketRuns   = []byte("runs")
	bucketLatest = []byte("latest")
)

const dbFile = "snaptag.db"

// ErrLocked means another process, usually a running daemon, holds the
// database file lock.
var ErrLocked = errors.New("history database is locked by another process")

// SnapshotRecord is the most recent outcome seen for a snapshot.
type SnapshotRecord struct {
	SnapshotID string           `json:"snapshot_id"`
	RunID      string           `json:"run_id"`
	State      reconciler.State `json:"state"`
	At         time.Time        `json:"at"`
	Unresolved []string         `json:"unresolved,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// NeedsAttention reports whether the snapshot is still missing required tags.
func (r SnapshotRecord) NeedsAttention() bool {
	switch r.State {
	case reconciler.StateFailed, reconciler.StateDeferred, reconciler.StatePartiallyUnresolved:
		return true
	}
	return false
}

// Store is the run history. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	// Latest outcome per snapshot, ordered by snapshot ID
	index *btree.BTreeG[SnapshotRecord]

	db *bbolt.DB
}

// Open opens or creates the history database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, dbFile), 0o600, &bbolt.Options{Timeout: time.Second})
	if errors.Is(err, bberrors.ErrTimeout) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketLatest} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		index: btree.NewG(32, func(a, b SnapshotRecord) bool {
			return a.SnapshotID < b.SnapshotID
		}),
		db: db,
	}

	if err := s.rebuildIndex(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists report. Dry-run reports are kept in the run list but
// do not move the latest outcome of any snapshot, since nothing was written.
func (s *Store) RecordRun(_ context.Context, report *reconciler.Report) error {
	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	var records []SnapshotRecord
	if !report.DryRun {
		records = make([]SnapshotRecord, 0, len(report.Outcomes))
		for _, o := range report.Outcomes {
			records = append(records, SnapshotRecord{
				SnapshotID: o.SnapshotID,
				RunID:      report.RunID,
				State:      o.State,
				At:         report.FinishedAt,
				Unresolved: o.Unresolved,
				Error:      o.Error,
			})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put([]byte(report.RunID), value); err != nil {
			return err
		}

		latest := tx.Bucket(bucketLatest)
		for _, rec := range records {
			raw, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := latest.Put([]byte(rec.SnapshotID), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", report.RunID, err)
	}

	for _, rec := range records {
		s.index.ReplaceOrInsert(rec)
	}
	return nil
}

// Runs returns up to limit reports, newest first. A limit of zero or less
// returns every run.
func (s *Store) Runs(limit int) ([]*reconciler.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reports []*reconciler.Report
	err := s.db.View(func(tx *bbolt.Tx) error {
		// Run IDs are time-ordered, so key order is run order
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(reports) >= limit {
				break
			}
			var r reconciler.Report
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			reports = append(reports, &r)
		}
		return nil
	})
	return reports, err
}

// Run returns a single report by ID.
func (s *Store) Run(runID string) (*reconciler.Report, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var report *reconciler.Report
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRuns).Get([]byte(runID))
		if v == nil {
			return nil
		}
		report = &reconciler.Report{}
		return json.Unmarshal(v, report)
	})
	if err != nil {
		return nil, false, err
	}
	return report, report != nil, nil
}

// Latest returns the most recent outcome for a snapshot.
func (s *Store) Latest(snapshotID string) (SnapshotRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Get(SnapshotRecord{SnapshotID: snapshotID})
}

// Snapshots returns the latest outcome of every known snapshot in ID order.
// If filter is non-nil only matching records are returned.
func (s *Store) Snapshots(filter func(SnapshotRecord) bool) []SnapshotRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SnapshotRecord
	s.index.Ascend(func(rec SnapshotRecord) bool {
		if filter == nil || filter(rec) {
			out = append(out, rec)
		}
		return true
	})
	return out
}

// Count returns the number of snapshots with a recorded outcome.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// rebuildIndex loads the latest bucket into memory
func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLatest).ForEach(func(k, v []byte) error {
			var rec SnapshotRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("snapshot %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(rec)
			return nil
		})
	})
}
