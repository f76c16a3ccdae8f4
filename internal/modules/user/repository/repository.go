package repository

import (
	"context"

	"github.com/mailfeed/mailfeed/internal/modules/user/domain"
)

// Repository defines read access to users. User rows are owned by the
// account CRUD layer; the core only reads them (Save exists for that
// collaborator and for test setup).
type Repository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetAllActive(ctx context.Context) ([]*domain.User, error)
	Save(ctx context.Context, user *domain.User) error
}
