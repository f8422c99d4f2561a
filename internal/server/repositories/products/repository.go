package products

import (
	"context"

	"github.com/dmitrijs2005/ishlearn/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.Product, error)
	CanWrite(ctx context.Context, productID, userID string) (bool, error)
	SetLastModified(ctx context.Context, productID, userID string) error
}
