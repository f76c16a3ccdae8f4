package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/feed/domain"
	"github.com/mailfeed/mailfeed/internal/modules/feed/fetch"
	"github.com/mailfeed/mailfeed/internal/modules/feed/repository"
	"github.com/mailfeed/mailfeed/internal/shared/config"
	"github.com/samber/oops"
)

// Fetcher retrieves and parses a feed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

// Service polls every stored feed on a fixed interval, ingests new items
// and maintains per-feed health state. One cycle fetches all feeds with a
// bounded worker pool; if a cycle is still running when the next tick
// fires, the tick is skipped rather than queued.
type Service struct {
	cfg       *config.Config
	repo      repository.Repository
	fetcher   Fetcher
	retention RetentionPolicy
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	busy      atomic.Bool
	now       func() time.Time
}

// New creates a new feed poller service.
func New(cfg *config.Config, repo repository.Repository, fetcher Fetcher) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:       cfg,
		repo:      repo,
		fetcher:   fetcher,
		retention: AgeRetention{MaxAge: time.Duration(cfg.RetentionDays) * 24 * time.Hour},
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Start begins the polling loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.pollLoop()
}

// Stop stops the polling loop and waits for in-flight fetches.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

// EnsureFeed returns the stored feed for a URL, validating and creating
// it on first subscription.
func (s *Service) EnsureFeed(ctx context.Context, url string) (*domain.Feed, error) {
	if existing, err := s.repo.GetFeedByURL(ctx, url); err == nil {
		return existing, nil
	}

	result, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	feed := &domain.Feed{URL: url, Type: result.Type, Title: result.Title}
	if err := s.repo.CreateFeed(ctx, feed); err != nil {
		return nil, oops.With("url", url, "context", "creating feed").Wrap(err)
	}
	return feed, nil
}

func (s *Service) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	// Initial cycle
	s.PollOnce(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.PollOnce(s.ctx)
		}
	}
}

// PollOnce runs a single poll cycle: prune orphaned feeds and expired
// items, then fetch every remaining feed. Returns immediately if a
// previous cycle is still running.
func (s *Service) PollOnce(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		slog.Debug("Poll tick skipped, previous cycle still running")
		return
	}
	defer s.busy.Store(false)

	if deleted, err := s.repo.DeleteOrphanFeeds(ctx); err != nil {
		slog.Error("Failed to delete orphaned feeds", "error", err)
	} else if deleted > 0 {
		slog.Info("Deleted orphaned feeds", "count", deleted)
	}

	if cutoff, ok := s.retention.Cutoff(s.now()); ok {
		if pruned, err := s.repo.DeleteItemsBefore(ctx, cutoff); err != nil {
			slog.Error("Failed to prune expired items", "error", err)
		} else if pruned > 0 {
			slog.Info("Pruned expired items", "count", pruned)
		}
	}

	feeds, err := s.repo.GetAllFeeds(ctx)
	if err != nil {
		slog.Error("Failed to load feeds", "error", err)
		return
	}

	workers := s.cfg.PollWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, feed := range feeds {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(f *domain.Feed) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.pollFeed(ctx, f); err != nil {
				slog.Error("Feed poll failed", "feed_id", f.ID, "url", f.URL, "error", err)
			}
		}(feed)
	}
	wg.Wait()
}

// pollFeed fetches one feed and records the outcome. A fetch error sets
// the feed's error streak; a success clears it and ingests any items not
// seen before.
func (s *Service) pollFeed(ctx context.Context, feed *domain.Feed) error {
	checkedAt := s.now()

	result, err := s.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		if markErr := s.repo.MarkFetchFailure(ctx, feed.ID, checkedAt, err.Error()); markErr != nil {
			return oops.With("feed_id", feed.ID, "context", "recording fetch failure").Wrap(markErr)
		}
		return err
	}

	inserted, err := s.repo.InsertItems(ctx, feed.ID, result.Items)
	if err != nil {
		return oops.With("feed_id", feed.ID, "context", "storing items").Wrap(err)
	}
	if inserted > 0 {
		slog.Info("Ingested new items", "feed_id", feed.ID, "url", feed.URL, "count", inserted)
	}

	if err := s.repo.MarkFetchSuccess(ctx, feed.ID, checkedAt, inserted > 0, result.Title, result.Type); err != nil {
		return oops.With("feed_id", feed.ID, "context", "recording fetch success").Wrap(err)
	}
	return nil
}
