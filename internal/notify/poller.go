// Package notify polls for users whose reminder time has come and hands
// them to the conversation layer.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/model"
)

// UserSource lists users due at a given wall-clock time. Implemented by
// *sqlite.Store and the service facade.
type UserSource interface {
	UsersDueForNotification(ctx context.Context, clock string) ([]model.User, error)
}

// Notifier delivers a reminder to one user. Implemented by the excluded
// handler layer (bot transport, mail, ...).
type Notifier interface {
	Notify(ctx context.Context, user model.User) error
}

// Poller queries due users on a fixed interval.
type Poller struct {
	users    UserSource
	notifier Notifier
	log      *zap.Logger
}

// NewPoller constructs a Poller.
func NewPoller(users UserSource, notifier Notifier, log *zap.Logger) *Poller {
	return &Poller{users: users, notifier: notifier, log: log}
}

// Run ticks on interval until ctx is cancelled. Delivery errors are
// logged, never fatal: a missed reminder must not stop the loop.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("notification poller started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("notification poller stopped")
			return
		case now := <-ticker.C:
			p.RunOnce(ctx, now)
		}
	}
}

// RunOnce performs a single poll for the minute of now.
func (p *Poller) RunOnce(ctx context.Context, now time.Time) {
	clock := now.Format(model.NotifyTimeLayout)
	users, err := p.users.UsersDueForNotification(ctx, clock)
	if err != nil {
		p.log.Error("notification query failed", zap.String("clock", clock), zap.Error(err))
		return
	}
	for _, u := range users {
		if err := p.notifier.Notify(ctx, u); err != nil {
			p.log.Error("notification delivery failed",
				zap.Int64("owner", u.ID), zap.Error(err))
		}
	}
}
