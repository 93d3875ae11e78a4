// Package boltdb keeps a history of batch runs in a bbolt database.
package boltdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/playlist-archiver/internal/batch"
)

var Buckets = struct {
	Metadata []byte
	Runs     []byte
}{
	Metadata: []byte("__metadata__"),
	Runs:     []byte("runs"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrUnsupportedVersion = errors.New("unsupported database version")
)

type Database interface {
	Close() error
	ListRuns(limit int) ([]batch.RunRecord, error)
	GetRun(id string) (*batch.RunRecord, error)

	batch.History
}

type database struct {
	*bbolt.DB
}

func New(path string) (_ Database, err error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		// Ensure buckets exist
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Runs); err != nil {
			return err
		}

		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes == nil {
			version = 0
		} else if err = json.Unmarshal(versionBytes, &version); err != nil {
			return err
		}
		if version > currentVersion {
			return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
		}

		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &database{db}, nil
}

// SaveRun stores the run under its ID, replacing any earlier version. Run IDs are time-ordered, so key order is
// start order.
func (d database) SaveRun(run *batch.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return d.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Runs).Put([]byte(run.ID), data)
	})
}

// ListRuns returns up to limit runs, most recent first; limit <= 0 means all.
func (d database) ListRuns(limit int) (runs []batch.RunRecord, err error) {
	err = d.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(Buckets.Runs).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run batch.RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (d database) GetRun(id string) (*batch.RunRecord, error) {
	var run batch.RunRecord
	err := d.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(Buckets.Runs).Get([]byte(id))
		if v == nil {
			return ErrRunNotFound
		}
		return json.Unmarshal(v, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}
