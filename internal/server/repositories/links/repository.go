package links

import (
	"context"

	"github.com/dmitrijs2005/ishlearn/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, l *models.MediaLink) error
	GetByMediaID(ctx context.Context, mediaID int64) (*models.MediaLink, error)
	DeleteByMediaID(ctx context.Context, mediaID int64) error
}
