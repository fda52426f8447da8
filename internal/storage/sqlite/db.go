// Package sqlite contains the SQLite-backed storage engine for
// encrypted diary entries and user settings.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/metrics"
)

// Open opens (creating if absent) the database file at path.
// The engine owns a single connection; all access is serialized by the
// store mutex, so the pool is capped at one.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Store persists users and encrypted entries. Entries are encrypted with
// the owner's derived key on every write and decrypted on every read;
// plaintext never reaches the database.
type Store struct {
	// mu guards all database I/O: the single underlying connection is
	// never accessed concurrently. Callers crossing cache and store
	// acquire the cache lock first.
	mu      sync.Mutex
	db      *sql.DB
	keys    KeySource
	log     *zap.Logger
	metrics *metrics.Collector
}

// KeySource yields the symmetric key for an owner. Implemented by
// *keyring.Keyring.
type KeySource interface {
	DeriveKey(owner int64) []byte
}

// New constructs a Store over an open database.
func New(db *sql.DB, keys KeySource, log *zap.Logger, m *metrics.Collector) *Store {
	return &Store{db: db, keys: keys, log: log, metrics: m}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) observe(op string, start time.Time) {
	s.metrics.ObserveStoreOp(op, time.Since(start))
}

// fail records a storage fault and wraps it as ErrPersistence.
func (s *Store) fail(op string, err error) error {
	s.metrics.StoreError()
	return fmt.Errorf("%w: %s: %v", errs.ErrPersistence, op, err)
}
