package repository

import (
	"context"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/feed/domain"
)

// Repository defines persistence for feeds and their items. All mutating
// methods are short single-entity transactions; the poller is the only
// writer of the checked/updated/error columns.
type Repository interface {
	CreateFeed(ctx context.Context, feed *domain.Feed) error
	GetFeed(ctx context.Context, id int64) (*domain.Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*domain.Feed, error)
	GetAllFeeds(ctx context.Context) ([]*domain.Feed, error)

	// MarkFetchSuccess records a successful fetch: last_checked advances,
	// the error streak clears, last_updated advances only when hasNewItems,
	// and an empty title is backfilled from the document.
	MarkFetchSuccess(ctx context.Context, id int64, checkedAt time.Time, hasNewItems bool, title string, feedType domain.FeedType) error
	// MarkFetchFailure records a failed fetch: last_checked advances,
	// error_since is set only when starting a streak, and error_message is
	// always overwritten with the latest attempt's text.
	MarkFetchFailure(ctx context.Context, id int64, checkedAt time.Time, message string) error

	// InsertItems stores the items whose (feed, link, pub_date) key is not
	// already present and reports how many were new.
	InsertItems(ctx context.Context, feedID int64, items []domain.FeedItem) (int, error)
	ItemsAfter(ctx context.Context, feedID int64, after time.Time) ([]domain.FeedItem, error)
	CountItemsAfter(ctx context.Context, feedID int64, after time.Time) (int, error)

	// DeleteItemsBefore enforces the retention policy.
	DeleteItemsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteOrphanFeeds removes feeds with zero subscriptions, cascading
	// to their items.
	DeleteOrphanFeeds(ctx context.Context) (int64, error)
}
