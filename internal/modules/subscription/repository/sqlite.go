package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/subscription/domain"
	"github.com/mailfeed/mailfeed/internal/shared/errors"
	"github.com/samber/oops"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(db *sql.DB) Repository {
	return &SQLiteStorage{db: db}
}

const subscriptionColumns = `id, user_id, feed_id, friendly_name, frequency, last_sent_time, max_items, is_active, delivery_method`

func (s *SQLiteStorage) Create(ctx context.Context, sub *domain.Subscription) error {
	if sub.Frequency == "" {
		sub.Frequency = domain.FrequencyRealtime
	}
	if sub.DeliveryMethod == "" {
		sub.DeliveryMethod = domain.DeliveryEmail
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, feed_id, friendly_name, frequency, last_sent_time, max_items, is_active, delivery_method)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.FeedID, sub.FriendlyName, string(sub.Frequency),
		unix(sub.LastSentTime), sub.MaxItems, sub.IsActive, string(sub.DeliveryMethod))
	if err != nil {
		return oops.With("user_id", sub.UserID, "feed_id", sub.FeedID, "context", "inserting subscription").Wrap(err)
	}
	sub.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStorage) GetByID(ctx context.Context, id int64) (*domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, oops.With("subscription_id", id, "context", "reading subscription").Wrap(err)
	}
	return sub, nil
}

func (s *SQLiteStorage) GetAllActive(ctx context.Context) ([]*domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, oops.With("context", "listing active subscriptions").Wrap(err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, oops.With("context", "scanning subscription row").Wrap(err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStorage) Update(ctx context.Context, sub *domain.Subscription) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET friendly_name = ?, frequency = ?, max_items = ?, is_active = ?, delivery_method = ?
		 WHERE id = ?`,
		sub.FriendlyName, string(sub.Frequency), sub.MaxItems, sub.IsActive, string(sub.DeliveryMethod), sub.ID)
	if err != nil {
		return oops.With("subscription_id", sub.ID, "context", "updating subscription").Wrap(err)
	}
	return requireRow(res, errors.ErrSubscriptionNotFound)
}

func (s *SQLiteStorage) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return oops.With("subscription_id", id, "context", "deleting subscription").Wrap(err)
	}
	return requireRow(res, errors.ErrSubscriptionNotFound)
}

func (s *SQLiteStorage) AdvanceWatermark(ctx context.Context, id int64, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_sent_time = ? WHERE id = ?`, unix(sentAt), id)
	if err != nil {
		return oops.With("subscription_id", id, "context", "advancing watermark").Wrap(err)
	}
	return requireRow(res, errors.ErrSubscriptionNotFound)
}

func scanSubscription(scan func(dest ...any) error) (*domain.Subscription, error) {
	var sub domain.Subscription
	var frequency, method string
	var lastSent int64
	err := scan(&sub.ID, &sub.UserID, &sub.FeedID, &sub.FriendlyName, &frequency,
		&lastSent, &sub.MaxItems, &sub.IsActive, &method)
	if err != nil {
		return nil, err
	}
	sub.Frequency, _ = domain.ParseFrequency(frequency)
	sub.DeliveryMethod, _ = domain.ParseDeliveryMethod(method)
	sub.LastSentTime = fromUnix(lastSent)
	return &sub, nil
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

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
