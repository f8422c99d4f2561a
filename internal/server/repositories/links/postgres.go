// Package links stores the ownership links between media and products.
package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/dbx"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
)

// UniqueURLConstraint guards one url per product.
const UniqueURLConstraint = "media_part_of_product_product_id_url_key"

// PostgresRepository implements link storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert links a media row to its product. A second link for the same
// product and url violates UniqueURLConstraint and yields common.ErrorDuplicate.
func (r *PostgresRepository) Insert(ctx context.Context, l *models.MediaLink) error {
	query := `
		INSERT INTO media_part_of_product (media_id, product_id, url, added_by)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, l.MediaID, l.ProductID, l.URL, l.AddedBy); err != nil {
		if dbx.IsUniqueViolation(err, UniqueURLConstraint) {
			return common.ErrorDuplicate
		}
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// GetByMediaID returns common.ErrorNotFound when the media has no link.
func (r *PostgresRepository) GetByMediaID(ctx context.Context, mediaID int64) (*models.MediaLink, error) {
	query := `SELECT media_id, product_id, url, added_by FROM media_part_of_product WHERE media_id=$1`

	l := &models.MediaLink{}
	err := r.db.QueryRowContext(ctx, query, mediaID).Scan(&l.MediaID, &l.ProductID, &l.URL, &l.AddedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select link: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) DeleteByMediaID(ctx context.Context, mediaID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM media_part_of_product WHERE media_id=$1`, mediaID); err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	return nil
}
