package repository

import (
	"context"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/subscription/domain"
)

// Repository defines persistence for subscriptions. AdvanceWatermark is
// the only write the delivery coordinator performs; the rest exist for
// the CRUD collaborator.
type Repository interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	GetByID(ctx context.Context, id int64) (*domain.Subscription, error)
	GetAllActive(ctx context.Context) ([]*domain.Subscription, error)
	Update(ctx context.Context, sub *domain.Subscription) error
	Delete(ctx context.Context, id int64) error

	// AdvanceWatermark sets last_sent_time to sentAt (the newest included
	// item's publication time, never "now").
	AdvanceWatermark(ctx context.Context, id int64, sentAt time.Time) error
}
