// Package media stores media records in PostgreSQL.
package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/dbx"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
)

// PostgresRepository implements media storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert adds a media row and fills in the generated ID and UploadedDate.
func (r *PostgresRepository) Insert(ctx context.Context, m *models.Media) (int64, error) {
	query := `
		INSERT INTO media (filename, url, filetype)
		VALUES ($1, $2, $3)
		RETURNING id, uploaded_date
	`
	if err := r.db.QueryRowContext(ctx, query, m.Filename, m.URL, m.FileType).Scan(&m.ID, &m.UploadedDate); err != nil {
		return 0, fmt.Errorf("failed to insert media: %w", err)
	}
	return m.ID, nil
}

// GetByID returns common.ErrorNotFound when no row matches.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Media, error) {
	query := `SELECT id, filename, url, filetype, uploaded_date FROM media WHERE id=$1`
	return r.getOne(ctx, query, id)
}

// GetByURL returns the newest record stored under url, or common.ErrorNotFound.
func (r *PostgresRepository) GetByURL(ctx context.Context, url string) (*models.Media, error) {
	query := `SELECT id, filename, url, filetype, uploaded_date FROM media WHERE url=$1 ORDER BY id DESC LIMIT 1`
	return r.getOne(ctx, query, url)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Media, error) {
	item := &models.Media{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&item.ID, &item.Filename, &item.URL, &item.FileType, &item.UploadedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select media: %w", err)
	}
	return item, nil
}

// FindForProduct returns the media linked to productID whose url equals the
// candidate, or whose legacy un-normalized url normalizes to it.
func (r *PostgresRepository) FindForProduct(ctx context.Context, productID, url string) ([]*models.Media, error) {
	query := `
		SELECT m.id, m.filename, m.url, m.filetype, m.uploaded_date
		FROM media m
		JOIN media_part_of_product l ON l.media_id = m.id
		WHERE l.product_id=$1
		  AND (m.url=$2 OR regexp_replace(m.url, '[^a-zA-Z0-9._/-]', '_', 'g')=$2)
		ORDER BY m.id
	`
	return r.list(ctx, query, productID, url)
}

// FindByProduct returns every media item linked to productID, oldest first.
func (r *PostgresRepository) FindByProduct(ctx context.Context, productID string) ([]*models.Media, error) {
	query := `
		SELECT m.id, m.filename, m.url, m.filetype, m.uploaded_date
		FROM media m
		JOIN media_part_of_product l ON l.media_id = m.id
		WHERE l.product_id=$1
		ORDER BY m.id
	`
	return r.list(ctx, query, productID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Media, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select media: %w", err)
	}
	defer rows.Close()

	var result []*models.Media
	for rows.Next() {
		var item models.Media
		if err := rows.Scan(&item.ID, &item.Filename, &item.URL, &item.FileType, &item.UploadedDate); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteByID removes a media row; its link goes with it via ON DELETE CASCADE.
// A missing row is not an error.
func (r *PostgresRepository) DeleteByID(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM media WHERE id=$1`, id); err != nil {
		return fmt.Errorf("failed to delete media: %w", err)
	}
	return nil
}
