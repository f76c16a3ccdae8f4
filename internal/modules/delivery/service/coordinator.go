package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/delivery/channel"
	"github.com/mailfeed/mailfeed/internal/modules/delivery/domain"
	feeddomain "github.com/mailfeed/mailfeed/internal/modules/feed/domain"
	feedrepo "github.com/mailfeed/mailfeed/internal/modules/feed/repository"
	subdomain "github.com/mailfeed/mailfeed/internal/modules/subscription/domain"
	subrepo "github.com/mailfeed/mailfeed/internal/modules/subscription/repository"
	subservice "github.com/mailfeed/mailfeed/internal/modules/subscription/service"
	userrepo "github.com/mailfeed/mailfeed/internal/modules/user/repository"
	"github.com/mailfeed/mailfeed/internal/shared/config"
	"github.com/mailfeed/mailfeed/internal/shared/errors"
	"github.com/samber/oops"
)

// Scheduler yields the subscriptions ready for delivery.
type Scheduler interface {
	Due(ctx context.Context) ([]subservice.DueSubscription, error)
}

// Service runs the delivery dispatch loop: on every tick it asks the
// scheduler for due subscriptions, batches their unseen items and fans
// each batch out to the subscription's channels. The watermark advances
// after the first channel success, so a batch that fails everywhere is
// re-batched on a later tick.
type Service struct {
	cfg       *config.Config
	scheduler Scheduler
	feeds     feedrepo.Repository
	subs      subrepo.Repository
	users     userrepo.Repository
	senders   map[domain.Channel]channel.Sender
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	busy      atomic.Bool
	now       func() time.Time
}

// New creates a new delivery coordinator service.
func New(cfg *config.Config, scheduler Scheduler, feeds feedrepo.Repository, subs subrepo.Repository, users userrepo.Repository, senders []channel.Sender) *Service {
	byChannel := make(map[domain.Channel]channel.Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:       cfg,
		scheduler: scheduler,
		feeds:     feeds,
		subs:      subs,
		users:     users,
		senders:   byChannel,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Start begins the dispatch loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.dispatchLoop()
}

// Stop stops the dispatch loop and waits for in-flight deliveries.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.DispatchInterval) * time.Second)
	defer ticker.Stop()

	s.DispatchOnce(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.DispatchOnce(s.ctx)
		}
	}
}

// DispatchOnce runs a single dispatch cycle. Returns immediately if a
// previous cycle is still running.
func (s *Service) DispatchOnce(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		slog.Debug("Dispatch tick skipped, previous cycle still running")
		return
	}
	defer s.busy.Store(false)

	due, err := s.scheduler.Due(ctx)
	if err != nil {
		slog.Error("Failed to evaluate due subscriptions", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	workers := s.cfg.DeliveryWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, d := range due {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(d subservice.DueSubscription) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.deliver(ctx, d); err != nil {
				slog.Error("Delivery failed",
					"subscription_id", d.Subscription.ID, "error", err)
			}
		}(d)
	}
	wg.Wait()
}

// deliver batches one subscription's unseen items and sends the batch to
// every channel its delivery method names. Channels run concurrently and
// fail independently; one success is enough to advance the watermark.
func (s *Service) deliver(ctx context.Context, d subservice.DueSubscription) error {
	sub := d.Subscription

	feed, err := s.feeds.GetFeed(ctx, sub.FeedID)
	if err != nil {
		return oops.With("feed_id", sub.FeedID, "context", "loading feed").Wrap(err)
	}
	items, err := s.feeds.ItemsAfter(ctx, sub.FeedID, sub.LastSentTime)
	if err != nil {
		return oops.With("feed_id", sub.FeedID, "context", "loading unseen items").Wrap(err)
	}

	batch := domain.NewBatch(sub, feed, items)
	if batch == nil {
		return nil
	}

	channels := domain.ChannelsFor(sub.DeliveryMethod)
	if len(channels) == 0 {
		return oops.With("delivery_method", sub.DeliveryMethod).Wrap(errors.ErrUnknownChannel)
	}

	succeeded := s.fanOut(ctx, d, batch, channels)
	if !succeeded {
		return oops.Errorf("all %d channel(s) failed, watermark not advanced", len(channels))
	}

	if err := s.subs.AdvanceWatermark(ctx, sub.ID, batch.Watermark); err != nil {
		return oops.With("subscription_id", sub.ID, "context", "advancing watermark").Wrap(err)
	}
	slog.Info("Delivered batch",
		"subscription_id", sub.ID,
		"items", len(batch.Entries),
		"watermark", batch.Watermark)
	return nil
}

// fanOut sends the batch on every channel concurrently and reports
// whether at least one send succeeded.
func (s *Service) fanOut(ctx context.Context, d subservice.DueSubscription, batch *domain.Batch, channels []domain.Channel) bool {
	results := make(chan error, len(channels))
	for _, ch := range channels {
		go func(ch domain.Channel) {
			results <- s.sendOn(ctx, ch, d, batch)
		}(ch)
	}

	succeeded := false
	for range channels {
		if err := <-results; err == nil {
			succeeded = true
		}
	}
	return succeeded
}

func (s *Service) sendOn(ctx context.Context, ch domain.Channel, d subservice.DueSubscription, batch *domain.Batch) error {
	sender, ok := s.senders[ch]
	if !ok {
		slog.Error("Channel has no configured sender",
			"channel", ch, "subscription_id", d.Subscription.ID)
		return errors.ErrChannelUnavailable
	}

	sendCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.SendTimeout)*time.Second)
	defer cancel()

	if err := sender.Send(sendCtx, d.User, batch); err != nil {
		slog.Error("Channel send failed",
			"channel", ch,
			"subscription_id", d.Subscription.ID,
			"items", len(batch.Entries),
			"error", err)
		return err
	}
	return nil
}

// SendTest delivers a synthetic single-item batch to one of the user's
// channels. It exercises the full send path but never touches any
// subscription watermark.
func (s *Service) SendTest(ctx context.Context, userID int64, ch domain.Channel) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	sender, ok := s.senders[ch]
	if !ok {
		return errors.ErrChannelUnavailable
	}

	now := s.now()
	batch := &domain.Batch{
		Subscription: &subdomain.Subscription{FriendlyName: "Test delivery"},
		Entries: []domain.Entry{{
			Item: feeddomain.FeedItem{
				Title:       "Test delivery",
				Link:        "https://github.com/mailfeed/mailfeed",
				PubDate:     now,
				Description: "If you can read this, this channel is configured correctly.",
			},
		}},
		Watermark: now,
	}

	sendCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.SendTimeout)*time.Second)
	defer cancel()
	return sender.Send(sendCtx, user, batch)
}
