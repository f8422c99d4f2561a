package media

import (
	"context"

	"github.com/dmitrijs2005/ishlearn/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, m *models.Media) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Media, error)
	GetByURL(ctx context.Context, url string) (*models.Media, error)
	FindForProduct(ctx context.Context, productID, url string) ([]*models.Media, error)
	FindByProduct(ctx context.Context, productID string) ([]*models.Media, error)
	DeleteByID(ctx context.Context, id int64) error
}
