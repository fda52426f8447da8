package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/cache"
	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/metrics"
	"github.com/avoronov/diary-vault/internal/migrate"
	"github.com/avoronov/diary-vault/internal/model"
	"github.com/avoronov/diary-vault/internal/storage/sqlite"
)

type staticKeys struct{}

func (staticKeys) DeriveKey(owner int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(owner))
	sum := sha256.Sum256(buf[:])
	return sum[:]
}

// newTestDiary wires the facade over a real in-memory store and cache.
func newTestDiary(t *testing.T) *Diary {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrate.Up(context.Background(), db))

	log := zap.NewNop()
	m := metrics.NewCollector(prometheus.NewRegistry())
	store := sqlite.New(db, staticKeys{}, log, m)
	entryCache := cache.New(store, cache.DefaultConfig(), log, m)
	return NewDiary(entryCache, store, log)
}

func fields(mood int, comment string) model.EntryFields {
	f := model.EntryFields{
		Mood: mood, Sleep: 6, Balance: 5, Mania: 2, Depression: 3,
		Anxiety: 4, Irritability: 3, Productivity: 6, Sociability: 5,
	}
	if comment != "" {
		f.Comment = &comment
	}
	return f
}

func TestDiary_SaveReadDeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newTestDiary(t)

	ok, err := d.HasEntry(ctx, 42, "2024-01-05")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, d.SaveEntry(ctx, 42, "2024-01-05", fields(7, "good day")))

	ok, err = d.HasEntry(ctx, 42, "2024-01-05")
	require.NoError(t, err)
	require.True(t, ok)

	list, err := d.GetEntries(ctx, 42, model.DateRange{})
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	require.Equal(t, 7, list.Entries[0].Fields.Mood)
	require.NotNil(t, list.Entries[0].Fields.Comment)
	require.Equal(t, "good day", *list.Entries[0].Fields.Comment)

	require.NoError(t, d.DeleteAll(ctx, 42))

	list, err = d.GetEntries(ctx, 42, model.DateRange{})
	require.NoError(t, err)
	require.Empty(t, list.Entries)
}

func TestDiary_SaveEntry_Validation(t *testing.T) {
	ctx := context.Background()
	d := newTestDiary(t)

	err := d.SaveEntry(ctx, 1, "not-a-date", fields(5, ""))
	require.ErrorIs(t, err, errs.ErrValidation)

	bad := fields(11, "")
	err = d.SaveEntry(ctx, 1, "2024-01-05", bad)
	require.ErrorIs(t, err, errs.ErrValidation)

	bad = fields(5, "")
	bad.Anxiety = 0
	err = d.SaveEntry(ctx, 1, "2024-01-05", bad)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestDiary_SaveEntry_ReplacesSameDay(t *testing.T) {
	ctx := context.Background()
	d := newTestDiary(t)

	require.NoError(t, d.SaveEntry(ctx, 1, "2024-01-05", fields(3, "")))
	require.NoError(t, d.SaveEntry(ctx, 1, "2024-01-05", fields(9, "")))

	list, err := d.GetEntries(ctx, 1, model.DateRange{})
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	require.Equal(t, 9, list.Entries[0].Fields.Mood)
}

func TestDiary_DeleteEntry(t *testing.T) {
	ctx := context.Background()
	d := newTestDiary(t)

	require.NoError(t, d.SaveEntry(ctx, 1, "2024-01-05", fields(5, "")))
	require.NoError(t, d.SaveEntry(ctx, 1, "2024-01-06", fields(6, "")))

	require.NoError(t, d.DeleteEntry(ctx, 1, "2024-01-05"))

	list, err := d.GetEntries(ctx, 1, model.DateRange{})
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	require.Equal(t, "2024-01-06", list.Entries[0].Date)

	require.ErrorIs(t, d.DeleteEntry(ctx, 1, "2024-01-05"), errs.ErrNotFound)
}

func TestDiary_UpsertUser_Validation(t *testing.T) {
	ctx := context.Background()
	d := newTestDiary(t)

	bad := "25:99"
	err := d.UpsertUser(ctx, model.User{ID: 1, NotificationTime: &bad})
	require.ErrorIs(t, err, errs.ErrValidation)

	at := "09:00"
	require.NoError(t, d.UpsertUser(ctx, model.User{ID: 1, NotificationTime: &at}))

	due, err := d.UsersDueForNotification(ctx, "09:00")
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, int64(1), due[0].ID)

	// Disabling notifications removes the user from the due set.
	require.NoError(t, d.UpsertUser(ctx, model.User{ID: 1}))

	due, err = d.UsersDueForNotification(ctx, "09:00")
	require.NoError(t, err)
	require.Empty(t, due)
}
