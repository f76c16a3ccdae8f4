package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/feed/domain"
	"github.com/mailfeed/mailfeed/internal/modules/feed/fetch"
	"github.com/mailfeed/mailfeed/internal/modules/feed/repository"
	"github.com/mailfeed/mailfeed/internal/shared/config"
	"github.com/mailfeed/mailfeed/internal/storage"
	"github.com/samber/oops"
)

type stubFetcher struct {
	mu      sync.Mutex
	calls   int
	results map[string]*fetch.Result
	err     error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if result, ok := s.results[url]; ok {
		return result, nil
	}
	return &fetch.Result{Type: domain.FeedTypeRSS}, nil
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type pollerFixture struct {
	svc     *Service
	repo    repository.Repository
	fetcher *stubFetcher
	db      *sql.DB
}

func newPollerFixture(t *testing.T) (*Service, repository.Repository, *stubFetcher) {
	t.Helper()
	f := newPollerFixtureDB(t)
	return f.svc, f.repo, f.fetcher
}

func newPollerFixtureDB(t *testing.T) *pollerFixture {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := repository.NewSQLiteStorage(db)
	fetcher := &stubFetcher{results: make(map[string]*fetch.Result)}
	cfg := &config.Config{PollInterval: 300, PollWorkers: 2, RetentionDays: 30}
	return &pollerFixture{svc: New(cfg, repo, fetcher), repo: repo, fetcher: fetcher, db: db}
}

func TestPollFeedIngestsAndMarksSuccess(t *testing.T) {
	svc, repo, fetcher := newPollerFixture(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	feed := &domain.Feed{URL: "https://example.com/feed.xml", Type: domain.FeedTypeUnknown}
	if err := repo.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("creating feed: %v", err)
	}
	fetcher.results[feed.URL] = &fetch.Result{
		Title: "Example Blog",
		Type:  domain.FeedTypeRSS,
		Items: []domain.FeedItem{
			{Title: "first", Link: "https://example.com/1", PubDate: now.Add(-2 * time.Hour)},
			{Title: "second", Link: "https://example.com/2", PubDate: now.Add(-time.Hour)},
		},
	}

	if err := svc.pollFeed(ctx, feed); err != nil {
		t.Fatalf("pollFeed: %v", err)
	}

	stored, err := repo.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if !stored.LastChecked.Equal(now) {
		t.Errorf("LastChecked = %v, want %v", stored.LastChecked, now)
	}
	if !stored.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", stored.LastUpdated, now)
	}
	if stored.Title != "Example Blog" {
		t.Errorf("Title = %q, want backfilled document title", stored.Title)
	}
	if stored.Type != domain.FeedTypeRSS {
		t.Errorf("Type = %q, want rss", stored.Type)
	}
	if !stored.Healthy() {
		t.Errorf("feed should be healthy after successful poll")
	}

	// Re-polling the same document ingests nothing and leaves the
	// content timestamp alone.
	later := now.Add(10 * time.Minute)
	svc.now = func() time.Time { return later }
	if err := svc.pollFeed(ctx, feed); err != nil {
		t.Fatalf("second pollFeed: %v", err)
	}
	stored, err = repo.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if !stored.LastChecked.Equal(later) {
		t.Errorf("LastChecked = %v, want %v", stored.LastChecked, later)
	}
	if !stored.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want unchanged %v", stored.LastUpdated, now)
	}
	if count, _ := repo.CountItemsAfter(ctx, feed.ID, time.Time{}); count != 2 {
		t.Errorf("item count = %d, want 2", count)
	}
}

func TestPollFeedErrorStreak(t *testing.T) {
	svc, repo, fetcher := newPollerFixture(t)
	ctx := context.Background()

	feed := &domain.Feed{URL: "https://example.com/feed.xml", Type: domain.FeedTypeRSS}
	if err := repo.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("creating feed: %v", err)
	}

	first := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	fetcher.err = oops.Errorf("connection refused")
	if err := svc.pollFeed(ctx, feed); err == nil {
		t.Fatal("pollFeed should propagate the fetch error")
	}

	stored, _ := repo.GetFeed(ctx, feed.ID)
	if !stored.ErrorSince.Equal(first) {
		t.Errorf("ErrorSince = %v, want %v", stored.ErrorSince, first)
	}
	if !strings.Contains(stored.ErrorMessage, "connection refused") {
		t.Errorf("ErrorMessage = %q, want first failure message", stored.ErrorMessage)
	}

	// A second failure keeps the streak start but replaces the message.
	second := first.Add(5 * time.Minute)
	svc.now = func() time.Time { return second }
	fetcher.err = oops.Errorf("gateway timeout")
	if err := svc.pollFeed(ctx, feed); err == nil {
		t.Fatal("pollFeed should propagate the fetch error")
	}

	stored, _ = repo.GetFeed(ctx, feed.ID)
	if !stored.ErrorSince.Equal(first) {
		t.Errorf("ErrorSince = %v, want streak start %v", stored.ErrorSince, first)
	}
	if !strings.Contains(stored.ErrorMessage, "gateway timeout") {
		t.Errorf("ErrorMessage = %q, want latest failure message", stored.ErrorMessage)
	}

	// Success clears the streak.
	fetcher.err = nil
	svc.now = func() time.Time { return second.Add(5 * time.Minute) }
	if err := svc.pollFeed(ctx, feed); err != nil {
		t.Fatalf("pollFeed after recovery: %v", err)
	}
	stored, _ = repo.GetFeed(ctx, feed.ID)
	if !stored.Healthy() {
		t.Errorf("ErrorSince = %v, ErrorMessage = %q, want cleared", stored.ErrorSince, stored.ErrorMessage)
	}
}

func TestPollOnceSkipsWhenBusy(t *testing.T) {
	svc, repo, fetcher := newPollerFixture(t)
	ctx := context.Background()

	feed := &domain.Feed{URL: "https://example.com/feed.xml", Type: domain.FeedTypeRSS}
	if err := repo.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("creating feed: %v", err)
	}

	svc.busy.Store(true)
	svc.PollOnce(ctx)
	if fetcher.callCount() != 0 {
		t.Errorf("fetch calls = %d, want 0 while a cycle is running", fetcher.callCount())
	}

	svc.busy.Store(false)
	svc.PollOnce(ctx)
	// The feed is orphaned (no subscription), so the cycle removes it
	// before fetching anything.
	if fetcher.callCount() != 0 {
		t.Errorf("fetch calls = %d, want 0 after orphan cleanup", fetcher.callCount())
	}
	if _, err := repo.GetFeed(ctx, feed.ID); err == nil {
		t.Error("orphaned feed should be deleted by the poll cycle")
	}
}

func TestPollOncePrunesExpiredItems(t *testing.T) {
	f := newPollerFixtureDB(t)
	svc, repo, fetcher := f.svc, f.repo, f.fetcher
	ctx := context.Background()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.retention = AgeRetention{MaxAge: 30 * 24 * time.Hour}

	feed := &domain.Feed{URL: "https://example.com/feed.xml", Type: domain.FeedTypeRSS}
	if err := repo.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("creating feed: %v", err)
	}
	subscribeFeed(t, f.db, feed.ID)

	items := []domain.FeedItem{
		{Title: "stale", Link: "https://example.com/old", PubDate: now.AddDate(0, 0, -40)},
		{Title: "fresh", Link: "https://example.com/new", PubDate: now.AddDate(0, 0, -1)},
	}
	if _, err := repo.InsertItems(ctx, feed.ID, items); err != nil {
		t.Fatalf("inserting items: %v", err)
	}
	fetcher.results[feed.URL] = &fetch.Result{Type: domain.FeedTypeRSS}

	svc.PollOnce(ctx)

	remaining, err := repo.ItemsAfter(ctx, feed.ID, time.Time{})
	if err != nil {
		t.Fatalf("ItemsAfter: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Title != "fresh" {
		t.Errorf("remaining items = %+v, want only the fresh one", remaining)
	}
}

func TestEnsureFeed(t *testing.T) {
	svc, _, fetcher := newPollerFixture(t)
	ctx := context.Background()

	url := "https://example.com/feed.xml"
	fetcher.results[url] = &fetch.Result{Title: "Example Blog", Type: domain.FeedTypeRSS}

	created, err := svc.EnsureFeed(ctx, url)
	if err != nil {
		t.Fatalf("EnsureFeed: %v", err)
	}
	if created.ID == 0 || created.Title != "Example Blog" {
		t.Errorf("created feed = %+v, want stored feed with document title", created)
	}

	again, err := svc.EnsureFeed(ctx, url)
	if err != nil {
		t.Fatalf("EnsureFeed second call: %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("second call created a new feed: %d != %d", again.ID, created.ID)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1 (existing feed is not revalidated)", fetcher.callCount())
	}
}

// subscribeFeed attaches a minimal user and subscription so the poll
// cycle's orphan cleanup keeps the feed.
func subscribeFeed(t *testing.T, db *sql.DB, feedID int64) {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (send_email, is_active) VALUES ('', 1)`)
	if err != nil {
		t.Fatalf("inserting user: %v", err)
	}
	userID, _ := res.LastInsertId()
	if _, err := db.Exec(`INSERT INTO subscriptions (user_id, feed_id, is_active) VALUES (?, ?, 1)`, userID, feedID); err != nil {
		t.Fatalf("inserting subscription: %v", err)
	}
}
