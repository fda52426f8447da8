package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/crypto/blobcipher"
	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/model"
)

// UpsertEntry serializes and encrypts fields, then atomically
// inserts-or-replaces the row keyed by (owner, date). An encrypt or
// serialization failure is never silent: it propagates as
// ErrPersistence so the caller keeps its in-memory copy for retry.
func (s *Store) UpsertEntry(ctx context.Context, owner int64, date string, fields model.EntryFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("upsert_entry", time.Now())

	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return fmt.Errorf("%w: bad date %q", errs.ErrValidation, date)
	}

	fields.Version = model.FieldsVersion
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return s.fail("upsert_entry: marshal", err)
	}
	blob, err := blobcipher.Seal(s.keys.DeriveKey(owner), plaintext)
	if err != nil {
		return s.fail("upsert_entry: encrypt", err)
	}

	// The owner row must exist for the entries FK; owners are created
	// on first interaction.
	const ensureUser = `INSERT INTO users (id) VALUES (?) ON CONFLICT (id) DO NOTHING`
	const upsert = `
INSERT INTO entries (owner_id, entry_date, blob_enc)
VALUES (?, ?, ?)
ON CONFLICT (owner_id, entry_date) DO UPDATE SET blob_enc = excluded.blob_enc`

	if _, err := s.db.ExecContext(ctx, ensureUser, owner); err != nil {
		return s.fail("upsert_entry: ensure user", err)
	}
	if _, err := s.db.ExecContext(ctx, upsert, owner, date, blob); err != nil {
		return s.fail("upsert_entry", err)
	}
	return nil
}

// ReadEntries returns the owner's decrypted entries, newest first,
// optionally bounded by a date range. A row that fails to decrypt is
// logged, counted in EntryList.Skipped and dropped; one corrupted
// record never makes the whole history unavailable.
func (s *Store) ReadEntries(ctx context.Context, owner int64, rng model.DateRange) (model.EntryList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("read_entries", time.Now())

	q := `SELECT entry_date, blob_enc, created_at FROM entries WHERE owner_id = ?`
	args := []any{owner}
	if rng.From != "" {
		q += ` AND entry_date >= ?`
		args = append(args, rng.From)
	}
	if rng.To != "" {
		q += ` AND entry_date <= ?`
		args = append(args, rng.To)
	}
	q += ` ORDER BY entry_date DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return model.EntryList{}, s.fail("read_entries", err)
	}
	defer rows.Close()

	key := s.keys.DeriveKey(owner)
	var out model.EntryList
	for rows.Next() {
		var (
			date      string
			blob      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&date, &blob, &createdAt); err != nil {
			return model.EntryList{}, s.fail("read_entries: scan", err)
		}
		plaintext, err := blobcipher.Open(key, blob)
		if err != nil {
			s.log.Warn("skipping undecryptable entry",
				zap.Int64("owner", owner), zap.String("date", date))
			out.Skipped++
			continue
		}
		var fields model.EntryFields
		if err := json.Unmarshal(plaintext, &fields); err != nil {
			s.log.Warn("skipping unparseable entry",
				zap.Int64("owner", owner), zap.String("date", date))
			out.Skipped++
			continue
		}
		out.Entries = append(out.Entries, model.Entry{
			Owner: owner, Date: date, Fields: fields, CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return model.EntryList{}, s.fail("read_entries", err)
	}
	s.metrics.DecryptSkipped(out.Skipped)
	return out, nil
}

// HasEntry reports entry existence without decryption.
func (s *Store) HasEntry(ctx context.Context, owner int64, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("has_entry", time.Now())

	const q = `SELECT 1 FROM entries WHERE owner_id = ? AND entry_date = ?`
	var one int
	err := s.db.QueryRowContext(ctx, q, owner, date).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, s.fail("has_entry", err)
	}
}

// HasAnyEntries reports whether the owner has at least one stored entry.
func (s *Store) HasAnyEntries(ctx context.Context, owner int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("has_any_entries", time.Now())

	const q = `SELECT EXISTS (SELECT 1 FROM entries WHERE owner_id = ?)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, owner).Scan(&exists); err != nil {
		return false, s.fail("has_any_entries", err)
	}
	return exists, nil
}

// DeleteEntry hard-deletes one entry. Returns ErrNotFound when no row
// matched.
func (s *Store) DeleteEntry(ctx context.Context, owner int64, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("delete_entry", time.Now())

	const q = `DELETE FROM entries WHERE owner_id = ? AND entry_date = ?`
	res, err := s.db.ExecContext(ctx, q, owner, date)
	if err != nil {
		return s.fail("delete_entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteAllEntries hard-deletes every entry of the owner.
func (s *Store) DeleteAllEntries(ctx context.Context, owner int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("delete_all_entries", time.Now())

	const q = `DELETE FROM entries WHERE owner_id = ?`
	if _, err := s.db.ExecContext(ctx, q, owner); err != nil {
		return s.fail("delete_all_entries", err)
	}
	return nil
}
