package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const (
	threadsBucket   = "threads"
	summariesBucket = "summaries"
)

// BBoltStore implements Store on a local BoltDB file.
// Database access is operation-scoped so multiple processes can share the
// file without holding the lock between calls.
type BBoltStore struct {
	dbPath string
}

// NewBBoltStore creates the database file and buckets if needed.
func NewBBoltStore(dbPath string) (*BBoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	store := &BBoltStore{dbPath: dbPath}
	err := store.withDB(func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists([]byte(threadsBucket)); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists([]byte(summariesBucket))
			return err
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}
	return store, nil
}

func (s *BBoltStore) withDB(operation func(*bbolt.DB) error) error {
	db, err := bbolt.Open(s.dbPath, 0600, &bbolt.Options{
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer db.Close()

	return operation(db)
}

// Save writes the full record plus a summary for listing in one transaction.
func (s *BBoltStore) Save(record ThreadRecord) error {
	if record.ID == "" {
		return errors.New("thread ID is required")
	}
	return s.withDB(func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			recordData, err := json.Marshal(record)
			if err != nil {
				return errors.Wrap(err, "failed to marshal thread record")
			}
			summaryData, err := json.Marshal(ThreadSummary{
				ID:        record.ID,
				CreatedAt: record.CreatedAt,
				UpdatedAt: record.UpdatedAt,
				TurnCount: len(record.Turns),
			})
			if err != nil {
				return errors.Wrap(err, "failed to marshal thread summary")
			}

			if err := tx.Bucket([]byte(threadsBucket)).Put([]byte(record.ID), recordData); err != nil {
				return errors.Wrap(err, "failed to save thread record")
			}
			if err := tx.Bucket([]byte(summariesBucket)).Put([]byte(record.ID), summaryData); err != nil {
				return errors.Wrap(err, "failed to save thread summary")
			}
			return nil
		})
	})
}

// Load retrieves a thread record by ID.
func (s *BBoltStore) Load(id string) (ThreadRecord, error) {
	var record ThreadRecord
	err := s.withDB(func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			data := tx.Bucket([]byte(threadsBucket)).Get([]byte(id))
			if data == nil {
				return errors.Wrapf(ErrNotFound, "%s", id)
			}
			return json.Unmarshal(data, &record)
		})
	})
	return record, err
}

// List returns all thread summaries, most recently updated first.
func (s *BBoltStore) List() ([]ThreadSummary, error) {
	var summaries []ThreadSummary
	err := s.withDB(func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			return tx.Bucket([]byte(summariesBucket)).ForEach(func(_, v []byte) error {
				var summary ThreadSummary
				if err := json.Unmarshal(v, &summary); err != nil {
					return errors.Wrap(err, "failed to unmarshal thread summary")
				}
				summaries = append(summaries, summary)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Delete removes a thread and its summary. Deleting an absent thread is not
// an error.
func (s *BBoltStore) Delete(id string) error {
	return s.withDB(func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			if err := tx.Bucket([]byte(threadsBucket)).Delete([]byte(id)); err != nil {
				return errors.Wrap(err, "failed to delete thread record")
			}
			return errors.Wrap(tx.Bucket([]byte(summariesBucket)).Delete([]byte(id)), "failed to delete thread summary")
		})
	})
}

// Close is a no-op since connections are operation-scoped.
func (s *BBoltStore) Close() error {
	return nil
}
