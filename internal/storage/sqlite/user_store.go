package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/model"
)

// UpsertUser writes all user columns on every call. A nil
// NotificationTime is stored as NULL, overwriting any prior value:
// "no time" is the explicit disable signal and must never be skipped
// by a conditional update.
func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("upsert_user", time.Now())

	const q = `
INSERT INTO users (id, display_name, notification_time)
VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    display_name      = excluded.display_name,
    notification_time = excluded.notification_time`

	if _, err := s.db.ExecContext(ctx, q, u.ID, u.DisplayName, u.NotificationTime); err != nil {
		return s.fail("upsert_user", err)
	}
	return nil
}

// GetUser returns one user or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("get_user", time.Now())

	const q = `SELECT id, display_name, notification_time FROM users WHERE id = ?`
	var u model.User
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.DisplayName, &u.NotificationTime)
	switch {
	case err == nil:
		return &u, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, errs.ErrNotFound
	default:
		return nil, s.fail("get_user", err)
	}
}

// UsersDueForNotification returns users whose notification_time equals
// clock ("HH:MM"). Relies on the partial index over non-NULL times.
func (s *Store) UsersDueForNotification(ctx context.Context, clock string) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("users_due_for_notification", time.Now())

	const q = `
SELECT id, display_name, notification_time
FROM users
WHERE notification_time = ?`

	rows, err := s.db.QueryContext(ctx, q, clock)
	if err != nil {
		return nil, s.fail("users_due_for_notification", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.NotificationTime); err != nil {
			return nil, s.fail("users_due_for_notification: scan", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("users_due_for_notification", err)
	}
	return out, nil
}
