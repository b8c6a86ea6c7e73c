// Package ledger keeps a durable journal of tombstones whose remote delete
// failed, so operators can see what the next scan will retry.
package ledger

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get for a marker with no journaled failure.
var ErrNotFound = errors.New("ledger entry not found")

// ErrLocked is returned by NewBoltStore when another process, usually the
// running daemon, holds the ledger file.
var ErrLocked = errors.New("ledger is locked by another process")

// DefaultOpenTimeout bounds the wait for the ledger's file lock.
const DefaultOpenTimeout = 5 * time.Second

type options struct {
	openTimeout time.Duration
}

// Option tunes NewBoltStore.
type Option func(*options)

// WithOpenTimeout sets how long NewBoltStore waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// Store journals failed remote deletes.
type Store interface {
	RecordFailure(ctx context.Context, marker, remotePath string, cause error) (*Entry, error)
	Clear(ctx context.Context, marker string) error
	Get(ctx context.Context, marker string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Ping() error
	Close() error
}

// BoltStore implements Store using bbolt (BoltDB).
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewBoltStore opens or creates a BoltDB ledger.
func NewBoltStore(path string, logger *zap.Logger, opts ...Option) (*BoltStore, error) {
	o := options{openTimeout: DefaultOpenTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: o.openTimeout})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, logger: logger, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) initSchema() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if v := sys.Get(keySchemaVersion); v != nil {
			if version := bytesToUint64(v); version > currentSchemaVersion {
				return fmt.Errorf("ledger schema version %d is newer than supported version %d", version, currentSchemaVersion)
			}
		} else if err := sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion)); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(bucketFailedDeletes)
		return err
	})
}

func encodeEntry(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecordFailure creates or bumps the entry for marker.
func (s *BoltStore) RecordFailure(_ context.Context, marker, remotePath string, cause error) (*Entry, error) {
	var out *Entry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFailedDeletes)
		now := s.now()

		entry := &Entry{Marker: marker, FirstFailure: now}
		if raw := b.Get([]byte(marker)); raw != nil {
			existing, err := decodeEntry(raw)
			if err != nil {
				return err
			}
			entry = existing
		}
		entry.RemotePath = remotePath
		entry.Attempts++
		entry.LastFailure = now
		if cause != nil {
			entry.LastError = cause.Error()
		}

		data, err := encodeEntry(entry)
		if err != nil {
			return err
		}
		out = entry
		return b.Put([]byte(marker), data)
	})
	if err != nil {
		return nil, fmt.Errorf("recording failure for %s: %w", marker, err)
	}

	s.logger.Debug("journaled failed delete",
		zap.String("marker", marker),
		zap.Int("attempts", out.Attempts),
	)
	return out, nil
}

// Clear drops the entry for marker. Clearing an absent entry is a no-op.
func (s *BoltStore) Clear(_ context.Context, marker string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFailedDeletes).Delete([]byte(marker))
	})
}

func (s *BoltStore) Get(_ context.Context, marker string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketFailedDeletes).Get([]byte(marker))
		if raw == nil {
			return ErrNotFound
		}
		var err error
		entry, err = decodeEntry(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns every journaled failure ordered by marker path.
func (s *BoltStore) List(_ context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFailedDeletes).ForEach(func(_, v []byte) error {
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSystem) == nil {
			return fmt.Errorf("system bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
