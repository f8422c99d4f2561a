// Package products reads products and their collaborators, and stamps
// products as modified when their media change.
package products

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/dbx"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
)

// PostgresRepository implements product access over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Product, error) {
	query := `SELECT id, title, last_modified, last_modified_by FROM products WHERE id=$1`

	p := &models.Product{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Title, &p.LastModified, &p.LastModifiedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select product: %w", err)
	}
	return p, nil
}

// CanWrite reports whether userID is a collaborator with write access.
// Non-collaborators simply get false.
func (r *PostgresRepository) CanWrite(ctx context.Context, productID, userID string) (bool, error) {
	query := `SELECT can_write FROM product_collaborators WHERE product_id=$1 AND user_id=$2`

	var canWrite bool
	err := r.db.QueryRowContext(ctx, query, productID, userID).Scan(&canWrite)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to select collaborator: %w", err)
	}
	return canWrite, nil
}

// SetLastModified stamps the product with the current time and the user.
// Exactly one row must be affected.
func (r *PostgresRepository) SetLastModified(ctx context.Context, productID, userID string) error {
	query := `UPDATE products SET last_modified=now(), last_modified_by=$2 WHERE id=$1`
	result, err := r.db.ExecContext(ctx, query, productID, userID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}
