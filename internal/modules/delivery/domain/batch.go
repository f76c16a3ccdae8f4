package domain

import (
	"sort"
	"time"

	feeddomain "github.com/mailfeed/mailfeed/internal/modules/feed/domain"
	subdomain "github.com/mailfeed/mailfeed/internal/modules/subscription/domain"
)

// Channel identifies a concrete delivery transport.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// ChannelsFor expands a subscription's delivery method into the channel
// set it fans out to.
func ChannelsFor(method subdomain.DeliveryMethod) []Channel {
	switch method {
	case subdomain.DeliveryEmail:
		return []Channel{ChannelEmail}
	case subdomain.DeliveryTelegram:
		return []Channel{ChannelTelegram}
	case subdomain.DeliveryBoth:
		return []Channel{ChannelEmail, ChannelTelegram}
	}
	return nil
}

// Entry is one item within a delivery. LinkOnly entries render as a bare
// link when the batch exceeds the subscription's item cap.
type Entry struct {
	Item     feeddomain.FeedItem
	LinkOnly bool
}

// Batch is one delivery unit: every unseen item of one subscription,
// oldest first, rendered identically on every channel. Watermark is the
// newest included item's publication date; the coordinator advances the
// subscription to it after the first channel success.
type Batch struct {
	Subscription *subdomain.Subscription
	FeedTitle    string
	FeedURL      string
	Entries      []Entry
	Watermark    time.Time
}

// NewBatch assembles a batch from a subscription's unseen items. All
// items are always included; when MaxItems caps the batch, the newest
// MaxItems render in full and the older overflow renders link-only.
// Returns nil when there is nothing to deliver.
func NewBatch(sub *subdomain.Subscription, feed *feeddomain.Feed, items []feeddomain.FeedItem) *Batch {
	if len(items) == 0 {
		return nil
	}

	sorted := make([]feeddomain.FeedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PubDate.Before(sorted[j].PubDate)
	})

	overflow := 0
	if sub.MaxItems > 0 && len(sorted) > sub.MaxItems {
		overflow = len(sorted) - sub.MaxItems
	}

	entries := make([]Entry, len(sorted))
	for i, item := range sorted {
		entries[i] = Entry{Item: item, LinkOnly: i < overflow}
	}

	return &Batch{
		Subscription: sub,
		FeedTitle:    feed.Title,
		FeedURL:      feed.URL,
		Entries:      entries,
		Watermark:    sorted[len(sorted)-1].PubDate,
	}
}

// Title returns the display name for the batch: the subscription's
// friendly name when set, otherwise the feed title, otherwise the URL.
func (b *Batch) Title() string {
	if b.Subscription != nil && b.Subscription.FriendlyName != "" {
		return b.Subscription.FriendlyName
	}
	if b.FeedTitle != "" {
		return b.FeedTitle
	}
	return b.FeedURL
}
