package media

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/ishlearn/internal/dbx"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/repomanager"
)

// Commit is what the Persister writes once the object is stored.
type Commit struct {
	ProductID   string
	Path        string
	Filename    string
	ContentType string
	Principal   string
	Evict       []*models.Media
}

// Persister writes media records and their ownership links.
type Persister struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewPersister(db *sql.DB, rm repomanager.RepositoryManager) *Persister {
	return &Persister{db: db, repomanager: rm}
}

// Persist evicts c.Evict, inserts the media row, links it to the product
// and stamps the product as modified, all in one transaction. A concurrent
// upload that linked the same path first makes the link insert fail with
// common.ErrorDuplicate and nothing is written.
func (p *Persister) Persist(ctx context.Context, c Commit) (int64, error) {
	var mediaID int64

	err := dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		mediaRepo := p.repomanager.Media(tx)
		linkRepo := p.repomanager.Links(tx)

		for _, old := range c.Evict {
			if err := linkRepo.DeleteByMediaID(ctx, old.ID); err != nil {
				return fmt.Errorf("evict %d: %w", old.ID, err)
			}
			if err := mediaRepo.DeleteByID(ctx, old.ID); err != nil {
				return fmt.Errorf("evict %d: %w", old.ID, err)
			}
		}

		m := &models.Media{Filename: c.Filename, URL: c.Path}
		if c.ContentType != "" {
			m.FileType = sql.NullString{String: c.ContentType, Valid: true}
		}
		id, err := mediaRepo.Insert(ctx, m)
		if err != nil {
			return err
		}

		if err := linkRepo.Insert(ctx, &models.MediaLink{
			MediaID:   id,
			ProductID: c.ProductID,
			URL:       c.Path,
			AddedBy:   c.Principal,
		}); err != nil {
			return err
		}

		if err := p.repomanager.Products(tx).SetLastModified(ctx, c.ProductID, c.Principal); err != nil {
			return fmt.Errorf("touch product: %w", err)
		}

		mediaID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return mediaID, nil
}

// Remove deletes one media record with its link and stamps the product.
func (p *Persister) Remove(ctx context.Context, link *models.MediaLink, principal string) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := p.repomanager.Links(tx).DeleteByMediaID(ctx, link.MediaID); err != nil {
			return err
		}
		if err := p.repomanager.Media(tx).DeleteByID(ctx, link.MediaID); err != nil {
			return err
		}
		if err := p.repomanager.Products(tx).SetLastModified(ctx, link.ProductID, principal); err != nil {
			return fmt.Errorf("touch product: %w", err)
		}
		return nil
	})
}
