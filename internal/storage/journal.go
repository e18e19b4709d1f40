// Package storage keeps a bbolt journal of unfinished jobs so temp artifacts
// left behind by a crash can be found and purged on the next start.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/platform"
)

const (
	// JobsBucketName holds one JobRecord per in-flight job
	JobsBucketName = "jobs"

	openTimeout = time.Second
)

// JobRecord is what the journal knows about an unfinished job
type JobRecord struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	WorkDir   string    `json:"work_dir"`
	Artifacts []string  `json:"artifacts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Journal is a crash-recovery record of in-flight jobs
type Journal struct {
	db  *bbolt.DB
	log *slog.Logger
}

// Open opens (or creates) the journal database at path
func Open(path string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = logging.Discard()
	}
	if err := platform.CreateDirectoryIfNotExists(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		log.Error("failed to open journal",
			slog.String("db_path", path),
			logging.Err(err))
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(JobsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs bucket: %w", err)
	}

	log.Debug("journal opened", slog.String("db_path", path))
	return &Journal{db: db, log: log}, nil
}

// Track stores or replaces the record of a job
func (j *Journal) Track(rec JobRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("job record without id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(JobsBucketName)).Put([]byte(rec.ID), data)
	})
}

// Forget drops the record of a finished job. Unknown ids are ignored.
func (j *Journal) Forget(id string) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(JobsBucketName)).Delete([]byte(id))
	})
}

// Pending returns every record still in the journal, oldest first
func (j *Journal) Pending() ([]JobRecord, error) {
	var records []JobRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(JobsBucketName)).ForEach(func(k, v []byte) error {
			var rec JobRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				j.log.Warn("skipping corrupt journal record",
					slog.String("job_id", string(k)),
					logging.Err(err))
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(a, b int) bool {
		return records[a].UpdatedAt.Before(records[b].UpdatedAt)
	})
	return records, nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}
