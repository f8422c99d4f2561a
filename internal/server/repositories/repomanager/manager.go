package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/ishlearn/internal/dbx"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/links"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/media"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/products"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Media(db dbx.DBTX) media.Repository
	Links(db dbx.DBTX) links.Repository
	Products(db dbx.DBTX) products.Repository
}
