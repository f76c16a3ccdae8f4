package service

import (
	"context"
	"testing"
	"time"

	feeddomain "github.com/mailfeed/mailfeed/internal/modules/feed/domain"
	feedrepo "github.com/mailfeed/mailfeed/internal/modules/feed/repository"
	"github.com/mailfeed/mailfeed/internal/modules/subscription/domain"
	subrepo "github.com/mailfeed/mailfeed/internal/modules/subscription/repository"
	userdomain "github.com/mailfeed/mailfeed/internal/modules/user/domain"
	userrepo "github.com/mailfeed/mailfeed/internal/modules/user/repository"
	"github.com/mailfeed/mailfeed/internal/storage"
)

type schedulerFixture struct {
	scheduler *Scheduler
	feeds     feedrepo.Repository
	subs      subrepo.Repository
	users     userrepo.Repository
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	feeds := feedrepo.NewSQLiteStorage(db)
	subs := subrepo.NewSQLiteStorage(db)
	users := userrepo.NewSQLiteStorage(db)
	return &schedulerFixture{
		scheduler: NewScheduler(subs, users, feeds),
		feeds:     feeds,
		subs:      subs,
		users:     users,
	}
}

func (f *schedulerFixture) seed(t *testing.T, user *userdomain.User, sub *domain.Subscription, itemTimes ...time.Time) {
	t.Helper()
	ctx := context.Background()

	if err := f.users.Save(ctx, user); err != nil {
		t.Fatalf("saving user: %v", err)
	}
	feed := &feeddomain.Feed{URL: "https://example.com/feed.xml", Type: feeddomain.FeedTypeRSS}
	if err := f.feeds.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("creating feed: %v", err)
	}

	items := make([]feeddomain.FeedItem, 0, len(itemTimes))
	for i, at := range itemTimes {
		items = append(items, feeddomain.FeedItem{
			Title:   "item",
			Link:    "https://example.com/" + string(rune('a'+i)),
			PubDate: at,
		})
	}
	if len(items) > 0 {
		if _, err := f.feeds.InsertItems(ctx, feed.ID, items); err != nil {
			t.Fatalf("inserting items: %v", err)
		}
	}

	sub.UserID = user.ID
	sub.FeedID = feed.ID
	if err := f.subs.Create(ctx, sub); err != nil {
		t.Fatalf("creating subscription: %v", err)
	}
}

func TestDueRealtime(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastSent  time.Time
		itemTimes []time.Time
		wantDue   bool
	}{
		{
			name:      "unseen item makes it due",
			lastSent:  now.Add(-time.Hour),
			itemTimes: []time.Time{now.Add(-10 * time.Minute)},
			wantDue:   true,
		},
		{
			name:      "no items newer than watermark",
			lastSent:  now.Add(-time.Hour),
			itemTimes: []time.Time{now.Add(-2 * time.Hour)},
			wantDue:   false,
		},
		{
			name:     "empty feed",
			lastSent: time.Time{},
			wantDue:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(t)
			f.scheduler.now = func() time.Time { return now }
			f.seed(t,
				&userdomain.User{IsActive: true, Timezone: "UTC"},
				&domain.Subscription{Frequency: domain.FrequencyRealtime, LastSentTime: tt.lastSent, IsActive: true},
				tt.itemTimes...)

			due, err := f.scheduler.Due(context.Background())
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if got := len(due) == 1; got != tt.wantDue {
				t.Errorf("due = %v, want %v", got, tt.wantDue)
			}
		})
	}
}

func TestDueHourlyBoundary(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastSent time.Time
		wantDue  bool
	}{
		{"sent last hour", time.Date(2025, 3, 10, 13, 55, 0, 0, time.UTC), true},
		{"sent this hour", time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC), false},
		{"sent exactly at boundary", time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC), false},
		{"never sent", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(t)
			f.scheduler.now = func() time.Time { return now }
			f.seed(t,
				&userdomain.User{IsActive: true, Timezone: "UTC"},
				&domain.Subscription{Frequency: domain.FrequencyHourly, LastSentTime: tt.lastSent, IsActive: true},
				now.Add(-5*time.Minute))

			due, err := f.scheduler.Due(context.Background())
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if got := len(due) == 1; got != tt.wantDue {
				t.Errorf("due = %v, want %v", got, tt.wantDue)
			}
		})
	}
}

func TestDueDailyBoundary(t *testing.T) {
	// 14:30 UTC is 10:30 in New York during DST.
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		sendTime string
		timezone string
		lastSent time.Time
		wantDue  bool
	}{
		{
			name:     "sent yesterday, boundary passed",
			sendTime: "08:00",
			timezone: "America/New_York",
			lastSent: now.Add(-24 * time.Hour),
			wantDue:  true,
		},
		{
			name:     "already sent after today's boundary",
			sendTime: "08:00",
			timezone: "America/New_York",
			lastSent: time.Date(2025, 3, 10, 13, 5, 0, 0, time.UTC), // 09:05 local
			wantDue:  false,
		},
		{
			name:     "send time later today, boundary is yesterday's",
			sendTime: "18:00",
			timezone: "America/New_York",
			lastSent: now.Add(-26 * time.Hour),
			wantDue:  true,
		},
		{
			name:     "send time later today, sent after yesterday's boundary",
			sendTime: "18:00",
			timezone: "America/New_York",
			lastSent: now.Add(-12 * time.Hour),
			wantDue:  false,
		},
		{
			name:     "invalid timezone falls back to UTC",
			sendTime: "08:00",
			timezone: "Mars/Olympus_Mons",
			lastSent: now.Add(-24 * time.Hour),
			wantDue:  true,
		},
		{
			name:     "unparseable send time defaults to midnight",
			sendTime: "whenever",
			timezone: "UTC",
			lastSent: now.Add(-24 * time.Hour),
			wantDue:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(t)
			f.scheduler.now = func() time.Time { return now }
			f.seed(t,
				&userdomain.User{IsActive: true, Timezone: tt.timezone, DailySendTime: tt.sendTime},
				&domain.Subscription{Frequency: domain.FrequencyDaily, LastSentTime: tt.lastSent, IsActive: true},
				now.Add(-5*time.Minute))

			due, err := f.scheduler.Due(context.Background())
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if got := len(due) == 1; got != tt.wantDue {
				t.Errorf("due = %v, want %v", got, tt.wantDue)
			}
		})
	}
}

func TestDueSkipsInactiveUser(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	f := newSchedulerFixture(t)
	f.scheduler.now = func() time.Time { return now }
	f.seed(t,
		&userdomain.User{IsActive: false, Timezone: "UTC"},
		&domain.Subscription{Frequency: domain.FrequencyRealtime, IsActive: true},
		now.Add(-5*time.Minute))

	due, err := f.scheduler.Due(context.Background())
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due subscriptions for inactive user, got %d", len(due))
	}
}
