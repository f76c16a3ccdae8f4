package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/feed/domain"
	"github.com/mailfeed/mailfeed/internal/shared/errors"
	"github.com/samber/oops"
)

// SQLiteStorage implements Repository on the shared SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(db *sql.DB) Repository {
	return &SQLiteStorage{db: db}
}

func (s *SQLiteStorage) CreateFeed(ctx context.Context, feed *domain.Feed) error {
	if feed.Type == "" {
		feed.Type = domain.FeedTypeUnknown
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (url, feed_type, title, last_checked, last_updated, error_since, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		feed.URL, string(feed.Type), feed.Title,
		unix(feed.LastChecked), unix(feed.LastUpdated), unix(feed.ErrorSince), feed.ErrorMessage)
	if err != nil {
		return oops.With("url", feed.URL, "context", "inserting feed").Wrap(err)
	}
	feed.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStorage) GetFeed(ctx context.Context, id int64) (*domain.Feed, error) {
	return s.scanFeed(s.db.QueryRowContext(ctx,
		`SELECT id, url, feed_type, title, last_checked, last_updated, error_since, error_message
		 FROM feeds WHERE id = ?`, id))
}

func (s *SQLiteStorage) GetFeedByURL(ctx context.Context, url string) (*domain.Feed, error) {
	return s.scanFeed(s.db.QueryRowContext(ctx,
		`SELECT id, url, feed_type, title, last_checked, last_updated, error_since, error_message
		 FROM feeds WHERE url = ?`, url))
}

func (s *SQLiteStorage) scanFeed(row *sql.Row) (*domain.Feed, error) {
	var f domain.Feed
	var feedType string
	var checked, updated, errSince int64
	err := row.Scan(&f.ID, &f.URL, &feedType, &f.Title, &checked, &updated, &errSince, &f.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, errors.ErrFeedNotFound
	}
	if err != nil {
		return nil, oops.With("context", "scanning feed").Wrap(err)
	}
	f.Type, _ = domain.ParseFeedType(feedType)
	f.LastChecked = fromUnix(checked)
	f.LastUpdated = fromUnix(updated)
	f.ErrorSince = fromUnix(errSince)
	return &f, nil
}

func (s *SQLiteStorage) GetAllFeeds(ctx context.Context) ([]*domain.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, feed_type, title, last_checked, last_updated, error_since, error_message
		 FROM feeds ORDER BY id`)
	if err != nil {
		return nil, oops.With("context", "listing feeds").Wrap(err)
	}
	defer rows.Close()

	var feeds []*domain.Feed
	for rows.Next() {
		var f domain.Feed
		var feedType string
		var checked, updated, errSince int64
		if err := rows.Scan(&f.ID, &f.URL, &feedType, &f.Title, &checked, &updated, &errSince, &f.ErrorMessage); err != nil {
			return nil, oops.With("context", "scanning feed row").Wrap(err)
		}
		f.Type, _ = domain.ParseFeedType(feedType)
		f.LastChecked = fromUnix(checked)
		f.LastUpdated = fromUnix(updated)
		f.ErrorSince = fromUnix(errSince)
		feeds = append(feeds, &f)
	}
	return feeds, rows.Err()
}

func (s *SQLiteStorage) MarkFetchSuccess(ctx context.Context, id int64, checkedAt time.Time, hasNewItems bool, title string, feedType domain.FeedType) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET
			last_checked = ?,
			last_updated = CASE WHEN ? THEN ? ELSE last_updated END,
			error_since = 0,
			error_message = '',
			title = CASE WHEN title = '' AND ? <> '' THEN ? ELSE title END,
			feed_type = ?
		 WHERE id = ?`,
		unix(checkedAt), hasNewItems, unix(checkedAt), title, title, string(feedType), id)
	if err != nil {
		return oops.With("feed_id", id, "context", "recording fetch success").Wrap(err)
	}
	return nil
}

func (s *SQLiteStorage) MarkFetchFailure(ctx context.Context, id int64, checkedAt time.Time, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET
			last_checked = ?,
			error_since = CASE WHEN error_since = 0 THEN ? ELSE error_since END,
			error_message = ?
		 WHERE id = ?`,
		unix(checkedAt), unix(checkedAt), message, id)
	if err != nil {
		return oops.With("feed_id", id, "context", "recording fetch failure").Wrap(err)
	}
	return nil
}

func (s *SQLiteStorage) InsertItems(ctx context.Context, feedID int64, items []domain.FeedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, oops.With("feed_id", feedID, "context", "beginning item insert").Wrap(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO feed_items (feed_id, title, link, pub_date, description, author, categories, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, oops.With("feed_id", feedID, "context", "preparing item insert").Wrap(err)
	}
	defer stmt.Close()

	inserted := 0
	for _, item := range items {
		res, err := stmt.ExecContext(ctx,
			feedID, item.Title, item.Link, unix(item.PubDate),
			item.Description, item.Author, strings.Join(item.Categories, ","), unix(item.CreatedAt))
		if err != nil {
			return 0, oops.With("feed_id", feedID, "link", item.Link, "context", "inserting item").Wrap(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, oops.With("feed_id", feedID, "context", "committing item insert").Wrap(err)
	}
	return inserted, nil
}

func (s *SQLiteStorage) ItemsAfter(ctx context.Context, feedID int64, after time.Time) ([]domain.FeedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_id, title, link, pub_date, description, author, categories, created_at
		 FROM feed_items WHERE feed_id = ? AND pub_date > ? ORDER BY pub_date ASC, id ASC`,
		feedID, unix(after))
	if err != nil {
		return nil, oops.With("feed_id", feedID, "context", "querying unseen items").Wrap(err)
	}
	defer rows.Close()

	var items []domain.FeedItem
	for rows.Next() {
		var it domain.FeedItem
		var pub, created int64
		var categories string
		if err := rows.Scan(&it.ID, &it.FeedID, &it.Title, &it.Link, &pub, &it.Description, &it.Author, &categories, &created); err != nil {
			return nil, oops.With("feed_id", feedID, "context", "scanning item row").Wrap(err)
		}
		it.PubDate = fromUnix(pub)
		it.CreatedAt = fromUnix(created)
		if categories != "" {
			it.Categories = strings.Split(categories, ",")
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLiteStorage) CountItemsAfter(ctx context.Context, feedID int64, after time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_items WHERE feed_id = ? AND pub_date > ?`,
		feedID, unix(after)).Scan(&count)
	if err != nil {
		return 0, oops.With("feed_id", feedID, "context", "counting unseen items").Wrap(err)
	}
	return count, nil
}

func (s *SQLiteStorage) DeleteItemsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feed_items WHERE pub_date < ?`, unix(cutoff))
	if err != nil {
		return 0, oops.With("context", "pruning items").Wrap(err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) DeleteOrphanFeeds(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM feeds WHERE id NOT IN (SELECT DISTINCT feed_id FROM subscriptions)`)
	if err != nil {
		return 0, oops.With("context", "deleting orphan feeds").Wrap(err)
	}
	return res.RowsAffected()
}

// Times are stored as unix seconds; zero means "never".
func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
