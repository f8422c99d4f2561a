package links

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const insertQ = `(?s)^\s*INSERT\s+INTO\s+media_part_of_product\s*\(media_id, product_id, url, added_by\)`

func TestInsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).
		WithArgs(int64(1), "p1", "p1/essay.md", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.MediaLink{MediaID: 1, ProductID: "p1", URL: "p1/essay.md", AddedBy: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsert_UniqueViolationIsDuplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: UniqueURLConstraint})

	err := repo.Insert(context.Background(), &models.MediaLink{MediaID: 2, ProductID: "p1", URL: "p1/essay.md", AddedBy: "u1"})
	if !errors.Is(err, common.ErrorDuplicate) {
		t.Fatalf("want ErrorDuplicate, got %v", err)
	}
}

func TestInsert_OtherUniqueViolationIsNotDuplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "media_part_of_product_pkey"})

	err := repo.Insert(context.Background(), &models.MediaLink{MediaID: 2, ProductID: "p1", URL: "p1/a", AddedBy: "u1"})
	if err == nil || errors.Is(err, common.ErrorDuplicate) {
		t.Fatalf("want plain db error, got %v", err)
	}
}

func TestGetByMediaID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM media_part_of_product WHERE media_id=\$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"media_id", "product_id", "url", "added_by"}).AddRow(int64(5), "p1", "p1/a", "u1"))
	mock.ExpectQuery(`FROM media_part_of_product WHERE media_id=\$1`).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"media_id", "product_id", "url", "added_by"}))

	l, err := repo.GetByMediaID(context.Background(), 5)
	if err != nil || l.ProductID != "p1" || l.AddedBy != "u1" {
		t.Fatalf("unexpected result: %+v, %v", l, err)
	}
	if _, err := repo.GetByMediaID(context.Background(), 6); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestDeleteByMediaID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^DELETE FROM media_part_of_product WHERE media_id=\$1$`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteByMediaID(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
