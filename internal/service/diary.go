// Package service contains the application facade the handler layer
// calls into for reads, writes and user settings.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/model"
)

// EntryCache is the caching layer in front of durable storage.
// Implemented by *cache.Cache.
type EntryCache interface {
	GetEntries(ctx context.Context, owner int64, rng model.DateRange) (model.EntryList, error)
	SaveEntry(ctx context.Context, owner int64, date string, fields model.EntryFields) error
	DeleteEntry(ctx context.Context, owner int64, date string) error
	DeleteAll(ctx context.Context, owner int64) error
}

// UserStore covers the storage operations that bypass the entry cache:
// user settings and existence checks that need no decryption.
// Implemented by *sqlite.Store.
type UserStore interface {
	UpsertUser(ctx context.Context, u model.User) error
	HasEntry(ctx context.Context, owner int64, date string) (bool, error)
	UsersDueForNotification(ctx context.Context, clock string) ([]model.User, error)
}

// DiaryService defines the engine's contract with the handler layer.
type DiaryService interface {
	// SaveEntry persists one entry, replacing any prior entry for the
	// same (owner, date).
	SaveEntry(ctx context.Context, owner int64, date string, fields model.EntryFields) error
	// GetEntries returns decrypted entries newest first, optionally
	// bounded by a date range.
	GetEntries(ctx context.Context, owner int64, rng model.DateRange) (model.EntryList, error)
	// HasEntry reports entry existence without decryption; used to
	// guard against duplicate same-day entries.
	HasEntry(ctx context.Context, owner int64, date string) (bool, error)
	// DeleteEntry and DeleteAll hard-delete entries and invalidate
	// cache state for the owner.
	DeleteEntry(ctx context.Context, owner int64, date string) error
	DeleteAll(ctx context.Context, owner int64) error
	// UpsertUser writes the full user row; a nil notification time is
	// the explicit "disable notifications" signal.
	UpsertUser(ctx context.Context, u model.User) error
	// UsersDueForNotification lists users whose notification time
	// equals clock ("HH:MM").
	UsersDueForNotification(ctx context.Context, clock string) ([]model.User, error)
	// ExportForSharing seals entries under a passphrase-derived key
	// into a self-contained opaque payload; ImportShared reverses it.
	ExportForSharing(entries []model.Entry, passphrase string) (string, error)
	ImportShared(payload, passphrase string) ([]model.Entry, error)
}

// Diary implements DiaryService over the cache and store.
type Diary struct {
	cache EntryCache
	users UserStore
	log   *zap.Logger
}

// NewDiary constructs the facade.
func NewDiary(cache EntryCache, users UserStore, log *zap.Logger) *Diary {
	return &Diary{cache: cache, users: users, log: log}
}

var _ DiaryService = (*Diary)(nil)

// SaveEntry validates input and writes through the cache.
// Validation rules:
// - date is a calendar date (YYYY-MM-DD)
// - every rating is within 1..10
func (d *Diary) SaveEntry(ctx context.Context, owner int64, date string, fields model.EntryFields) error {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return fmt.Errorf("%w: bad date %q", errs.ErrValidation, date)
	}
	if err := validateRatings(fields); err != nil {
		return err
	}
	if err := d.cache.SaveEntry(ctx, owner, date, fields); err != nil {
		d.log.Error("save entry", zap.Int64("owner", owner), zap.String("date", date), zap.Error(err))
		return err
	}
	return nil
}

// GetEntries reads through the cache.
func (d *Diary) GetEntries(ctx context.Context, owner int64, rng model.DateRange) (model.EntryList, error) {
	return d.cache.GetEntries(ctx, owner, rng)
}

// HasEntry asks the store directly; no decryption, no cache population.
func (d *Diary) HasEntry(ctx context.Context, owner int64, date string) (bool, error) {
	return d.users.HasEntry(ctx, owner, date)
}

// DeleteEntry deletes one entry via the cache so slot and row go together.
func (d *Diary) DeleteEntry(ctx context.Context, owner int64, date string) error {
	return d.cache.DeleteEntry(ctx, owner, date)
}

// DeleteAll deletes the owner's full history via the cache.
func (d *Diary) DeleteAll(ctx context.Context, owner int64) error {
	return d.cache.DeleteAll(ctx, owner)
}

// UpsertUser validates the notification time and writes all columns.
func (d *Diary) UpsertUser(ctx context.Context, u model.User) error {
	if u.NotificationTime != nil {
		if _, err := time.Parse(model.NotifyTimeLayout, *u.NotificationTime); err != nil {
			return fmt.Errorf("%w: bad notification time %q", errs.ErrValidation, *u.NotificationTime)
		}
	}
	return d.users.UpsertUser(ctx, u)
}

// UsersDueForNotification delegates to the store's indexed query.
func (d *Diary) UsersDueForNotification(ctx context.Context, clock string) ([]model.User, error) {
	return d.users.UsersDueForNotification(ctx, clock)
}

func validateRatings(f model.EntryFields) error {
	ratings := map[string]int{
		"mood": f.Mood, "sleep": f.Sleep, "balance": f.Balance,
		"mania": f.Mania, "depression": f.Depression, "anxiety": f.Anxiety,
		"irritability": f.Irritability, "productivity": f.Productivity,
		"sociability": f.Sociability,
	}
	for name, v := range ratings {
		if v < 1 || v > 10 {
			return fmt.Errorf("%w: %s out of range: %d", errs.ErrValidation, name, v)
		}
	}
	return nil
}
