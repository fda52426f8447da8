package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/model"
)

type fakeUsers struct {
	due       map[string][]model.User
	lastClock string
	err       error
}

func (f *fakeUsers) UsersDueForNotification(_ context.Context, clock string) ([]model.User, error) {
	f.lastClock = clock
	if f.err != nil {
		return nil, f.err
	}
	return f.due[clock], nil
}

type fakeNotifier struct {
	delivered []int64
	failFor   int64
}

func (f *fakeNotifier) Notify(_ context.Context, u model.User) error {
	if u.ID == f.failFor {
		return errors.New("delivery failed")
	}
	f.delivered = append(f.delivered, u.ID)
	return nil
}

func TestRunOnce_DeliversToDueUsers(t *testing.T) {
	users := &fakeUsers{due: map[string][]model.User{
		"09:00": {{ID: 1}, {ID: 2}},
	}}
	notifier := &fakeNotifier{}
	p := NewPoller(users, notifier, zap.NewNop())

	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	p.RunOnce(context.Background(), at)

	if users.lastClock != "09:00" {
		t.Fatalf("queried clock %q, want 09:00", users.lastClock)
	}
	if len(notifier.delivered) != 2 {
		t.Fatalf("delivered to %d users, want 2", len(notifier.delivered))
	}
}

func TestRunOnce_NobodyDue(t *testing.T) {
	users := &fakeUsers{due: map[string][]model.User{}}
	notifier := &fakeNotifier{}
	p := NewPoller(users, notifier, zap.NewNop())

	p.RunOnce(context.Background(), time.Date(2024, 6, 1, 3, 15, 0, 0, time.UTC))

	if len(notifier.delivered) != 0 {
		t.Fatalf("delivered to %d users, want 0", len(notifier.delivered))
	}
}

func TestRunOnce_DeliveryFailureDoesNotStopBatch(t *testing.T) {
	users := &fakeUsers{due: map[string][]model.User{
		"09:00": {{ID: 1}, {ID: 2}, {ID: 3}},
	}}
	notifier := &fakeNotifier{failFor: 2}
	p := NewPoller(users, notifier, zap.NewNop())

	p.RunOnce(context.Background(), time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	if len(notifier.delivered) != 2 {
		t.Fatalf("delivered to %d users, want 2", len(notifier.delivered))
	}
	for _, id := range notifier.delivered {
		if id == 2 {
			t.Fatalf("user 2 should have failed delivery")
		}
	}
}

func TestRunOnce_QueryFailureIsNonFatal(t *testing.T) {
	users := &fakeUsers{err: errors.New("db down")}
	notifier := &fakeNotifier{}
	p := NewPoller(users, notifier, zap.NewNop())

	p.RunOnce(context.Background(), time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	if len(notifier.delivered) != 0 {
		t.Fatalf("delivered to %d users, want 0", len(notifier.delivered))
	}
}
