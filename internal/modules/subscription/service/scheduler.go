package service

import (
	"context"
	"log/slog"
	"time"

	feedrepo "github.com/mailfeed/mailfeed/internal/modules/feed/repository"
	"github.com/mailfeed/mailfeed/internal/modules/subscription/domain"
	"github.com/mailfeed/mailfeed/internal/modules/subscription/repository"
	userdomain "github.com/mailfeed/mailfeed/internal/modules/user/domain"
	userrepo "github.com/mailfeed/mailfeed/internal/modules/user/repository"
	"github.com/samber/oops"
)

// DueSubscription pairs a subscription that is ready to deliver with its
// owning user, so downstream senders do not refetch it.
type DueSubscription struct {
	Subscription *domain.Subscription
	User         *userdomain.User
}

// Scheduler decides which subscriptions are ready for delivery. Readiness
// is driven by wall-clock boundaries, not elapsed time since the last
// send: an hourly subscription is due once per clock hour, a daily one
// once per calendar day at the user's configured send time, evaluated in
// the user's timezone.
type Scheduler struct {
	subs  repository.Repository
	users userrepo.Repository
	feeds feedrepo.Repository
	now   func() time.Time
}

func NewScheduler(subs repository.Repository, users userrepo.Repository, feeds feedrepo.Repository) *Scheduler {
	return &Scheduler{
		subs:  subs,
		users: users,
		feeds: feeds,
		now:   time.Now,
	}
}

// Due returns every active subscription whose schedule boundary has
// passed and which has at least one item newer than its watermark. A
// subscription whose user cannot be loaded is skipped, not fatal.
func (s *Scheduler) Due(ctx context.Context) ([]DueSubscription, error) {
	active, err := s.subs.GetAllActive(ctx)
	if err != nil {
		return nil, oops.With("context", "listing active subscriptions").Wrap(err)
	}

	now := s.now()
	users := make(map[int64]*userdomain.User)

	var due []DueSubscription
	for _, sub := range active {
		user, ok := users[sub.UserID]
		if !ok {
			user, err = s.users.GetByID(ctx, sub.UserID)
			if err != nil {
				slog.Warn("skipping subscription with unloadable user",
					slog.Int64("subscription_id", sub.ID),
					slog.Int64("user_id", sub.UserID),
					slog.Any("error", err))
				continue
			}
			users[sub.UserID] = user
		}
		if !user.IsActive {
			continue
		}
		if !s.boundaryPassed(sub, user, now) {
			continue
		}
		unseen, err := s.feeds.CountItemsAfter(ctx, sub.FeedID, sub.LastSentTime)
		if err != nil {
			return nil, oops.With("subscription_id", sub.ID, "feed_id", sub.FeedID,
				"context", "counting unseen items").Wrap(err)
		}
		if unseen == 0 {
			continue
		}
		due = append(due, DueSubscription{Subscription: sub, User: user})
	}
	return due, nil
}

// boundaryPassed reports whether the subscription's most recent schedule
// boundary lies after its watermark. Realtime subscriptions have no
// boundary; unseen items alone make them due.
func (s *Scheduler) boundaryPassed(sub *domain.Subscription, user *userdomain.User, now time.Time) bool {
	switch sub.Frequency {
	case domain.FrequencyRealtime:
		return true
	case domain.FrequencyHourly:
		return sub.LastSentTime.Before(now.Truncate(time.Hour))
	case domain.FrequencyDaily:
		return sub.LastSentTime.Before(dailyBoundary(user, now))
	}
	return false
}

// dailyBoundary computes the most recent occurrence of the user's daily
// send time, in the user's timezone, that is not after now. An invalid
// timezone falls back to UTC and an unparseable send time to midnight.
func dailyBoundary(user *userdomain.User, now time.Time) time.Time {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		loc = time.UTC
	}

	hour, minute := 0, 0
	if t, err := time.Parse("15:04", user.DailySendTime); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	local := now.In(loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if boundary.After(now) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}
