// Package store persists encoded gateway map snapshots using NutsDB.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nutsdb/nutsdb"
)

const snapshotBucket = "gwmap_snapshots"

// latestKey always points at the most recently committed payload.
var latestKey = []byte("latest")

// Store is the monitor's local snapshot database: the encoded map payload
// of every committed proposal, plus a "latest" pointer used for warm start.
type Store struct {
	db     *nutsdb.DB
	logger *slog.Logger
}

// Open creates or reopens the snapshot database at dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	db, err := nutsdb.Open(
		nutsdb.DefaultOptions,
		nutsdb.WithDir(dir),
	)
	if err != nil {
		logger.Error("failed to open snapshot database", "dir", dir, "error", err)
		return nil, err
	}

	err = db.Update(func(tx *nutsdb.Tx) error {
		if err := tx.NewBucket(nutsdb.DataStructureBTree, snapshotBucket); err != nil && err != nutsdb.ErrBucketAlreadyExist {
			return err
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to create snapshot bucket", "error", err)
		db.Close()
		return nil, err
	}

	logger.Info("snapshot store opened", "dir", dir)
	return &Store{db: db, logger: logger}, nil
}

func snapshotKey(version uint64) []byte {
	return []byte(fmt.Sprintf("snapshot:%020d", version))
}

// Save persists one committed map payload under its version and updates the
// latest pointer.
func (s *Store) Save(version uint64, payload []byte) error {
	err := s.db.Update(func(tx *nutsdb.Tx) error {
		if err := tx.Put(snapshotBucket, snapshotKey(version), payload, 0); err != nil {
			return err
		}
		return tx.Put(snapshotBucket, latestKey, payload, 0)
	})
	if err != nil {
		s.logger.Error("failed to save snapshot", "version", version, "error", err)
		return err
	}
	s.logger.Debug("snapshot saved", "version", version, "bytes", len(payload))
	return nil
}

// LoadLatest returns the most recently saved payload, or nil if the store
// is empty.
func (s *Store) LoadLatest() ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *nutsdb.Tx) error {
		val, err := tx.Get(snapshotBucket, latestKey)
		if err != nil {
			return err
		}
		payload = append([]byte(nil), val...)
		return nil
	})
	if errors.Is(err, nutsdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Load returns the payload saved for one version, or nil if absent.
func (s *Store) Load(version uint64) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *nutsdb.Tx) error {
		val, err := tx.Get(snapshotBucket, snapshotKey(version))
		if err != nil {
			return err
		}
		payload = append([]byte(nil), val...)
		return nil
	})
	if errors.Is(err, nutsdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Close closes the snapshot database.
func (s *Store) Close() error {
	s.logger.Info("closing snapshot store")
	return s.db.Close()
}
