// Package migration imports the legacy flat-file diary format into the
// storage engine. It runs once at startup, ahead of any cache activity.
package migration

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/crypto/blobcipher"
	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/model"
)

// Legacy files are named user_<owner>_data.csv with date,encrypted_data
// columns; encrypted_data is a base64 AEAD blob under the owner's key.
var legacyFilePattern = regexp.MustCompile(`^user_(\d+)_data\.csv$`)

// migratedSuffix marks consumed files. Sources are renamed, never
// deleted, to preserve a recovery path.
const migratedSuffix = ".migrated"

// Store is the durable layer the importer writes through.
type Store interface {
	UpsertEntry(ctx context.Context, owner int64, date string, fields model.EntryFields) error
	HasAnyEntries(ctx context.Context, owner int64) (bool, error)
}

// KeySource yields per-owner keys for decrypting legacy blobs.
type KeySource interface {
	DeriveKey(owner int64) []byte
}

// Report summarizes one migration run.
type Report struct {
	FilesScanned    int
	FilesMigrated   int
	OwnersSkipped   int // owners already present in the store
	EntriesImported int
	RecordsSkipped  int // unparseable or undecryptable legacy records
}

// Runner performs the one-time legacy import.
type Runner struct {
	dir   string
	store Store
	keys  KeySource
	log   *zap.Logger
}

// NewRunner constructs a Runner over the legacy directory.
func NewRunner(dir string, store Store, keys KeySource, log *zap.Logger) *Runner {
	return &Runner{dir: dir, store: store, keys: keys, log: log}
}

// Run scans the legacy directory and imports every per-owner file.
// Owners already present in the store are skipped, so running on every
// startup is safe. A bad record or a bad file never aborts the rest of
// the batch.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report

	dirEntries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("%w: read legacy dir: %v", errs.ErrPersistence, err)
	}

	for _, de := range dirEntries {
		m := legacyFilePattern.FindStringSubmatch(de.Name())
		if de.IsDir() || m == nil {
			continue
		}
		report.FilesScanned++

		owner, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			r.log.Warn("legacy file with unparseable owner", zap.String("file", de.Name()))
			continue
		}

		has, err := r.store.HasAnyEntries(ctx, owner)
		if err != nil {
			r.log.Error("legacy import: existence check failed",
				zap.Int64("owner", owner), zap.Error(err))
			continue
		}
		if has {
			report.OwnersSkipped++
			continue
		}

		path := filepath.Join(r.dir, de.Name())
		imported, skipped, err := r.migrateFile(ctx, path, owner)
		report.EntriesImported += imported
		report.RecordsSkipped += skipped
		if err != nil {
			// Leave the file in place; it is retried on next startup.
			r.log.Error("legacy import: file failed",
				zap.String("file", de.Name()), zap.Error(err))
			continue
		}
		if err := os.Rename(path, path+migratedSuffix); err != nil {
			r.log.Error("legacy import: rename failed",
				zap.String("file", de.Name()), zap.Error(err))
			continue
		}
		report.FilesMigrated++
		r.log.Info("legacy file migrated",
			zap.Int64("owner", owner),
			zap.Int("entries", imported),
			zap.Int("skipped", skipped))
	}
	return report, nil
}

// migrateFile parses one legacy file and upserts its records. Record
// level failures are counted and skipped; a storage fault aborts the
// file so nothing is renamed away from a retry.
func (r *Runner) migrateFile(ctx context.Context, path string, owner int64) (imported, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: open: %v", errs.ErrPersistence, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 2
	key := r.keys.DeriveKey(owner)

	for line := 0; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.log.Warn("legacy record unreadable",
				zap.Int64("owner", owner), zap.Int("line", line), zap.Error(err))
			skipped++
			continue
		}
		if line == 0 && rec[0] == "date" {
			continue // header row
		}

		fields, date, err := decodeRecord(key, rec)
		if err != nil {
			r.log.Warn("legacy record skipped",
				zap.Int64("owner", owner), zap.Int("line", line), zap.Error(err))
			skipped++
			continue
		}
		if err := r.store.UpsertEntry(ctx, owner, date, fields); err != nil {
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}

func decodeRecord(key []byte, rec []string) (model.EntryFields, string, error) {
	date := rec[0]
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return model.EntryFields{}, "", fmt.Errorf("%w: bad date %q", errs.ErrValidation, date)
	}
	blob, err := base64.StdEncoding.DecodeString(rec[1])
	if err != nil {
		return model.EntryFields{}, "", fmt.Errorf("%w: payload not base64", errs.ErrValidation)
	}
	plaintext, err := blobcipher.Open(key, blob)
	if err != nil {
		return model.EntryFields{}, "", err
	}
	var fields model.EntryFields
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return model.EntryFields{}, "", fmt.Errorf("%w: bad record payload", errs.ErrValidation)
	}
	return fields, date, nil
}
