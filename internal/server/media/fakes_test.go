package media

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/dbx"
	"github.com/dmitrijs2005/ishlearn/internal/logging"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
	"github.com/dmitrijs2005/ishlearn/internal/server/objectstore"
	"github.com/dmitrijs2005/ishlearn/internal/server/objectstore/objectstoretest"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/links"
	mediarepo "github.com/dmitrijs2005/ishlearn/internal/server/repositories/media"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/products"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/repomanager"
)

// -------- test fakes --------

// memDB backs the fake repositories. It does not roll back; tests that
// need rollback semantics use sqlmock with the Postgres repositories.
type memDB struct {
	mu      sync.Mutex
	nextID  int64
	media   map[int64]*models.Media
	links   map[int64]*models.MediaLink
	writers map[string]bool
	// products holds every product id that has been granted to someone.
	products map[string]bool
	touched  []string

	findErr     error
	canWriteErr error
	insertErr   error
}

func newMemDB() *memDB {
	return &memDB{media: map[int64]*models.Media{}, links: map[int64]*models.MediaLink{}, writers: map[string]bool{}, products: map[string]bool{}}
}

func (m *memDB) grant(productID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writers[productID+"|"+userID] = true
	m.products[productID] = true
}

// add inserts a linked record directly.
func (m *memDB) add(productID, filename, url string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.media[m.nextID] = &models.Media{ID: m.nextID, Filename: filename, URL: url, UploadedDate: time.Now()}
	m.links[m.nextID] = &models.MediaLink{MediaID: m.nextID, ProductID: productID, URL: url, AddedBy: "seed"}
	return m.nextID
}

func (m *memDB) countURL(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.media {
		if r.URL == url {
			n++
		}
	}
	return n
}

func (m *memDB) byURL(url string) *models.Media {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.media {
		if r.URL == url {
			return r
		}
	}
	return nil
}

type fakeMediaRepo struct {
	mediarepo.Repository
	db *memDB
}

func (f *fakeMediaRepo) Insert(ctx context.Context, m *models.Media) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.insertErr != nil {
		return 0, f.db.insertErr
	}
	f.db.nextID++
	m.ID = f.db.nextID
	m.UploadedDate = time.Now()
	cp := *m
	f.db.media[m.ID] = &cp
	return m.ID, nil
}

func (f *fakeMediaRepo) GetByID(ctx context.Context, id int64) (*models.Media, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.media[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeMediaRepo) GetByURL(ctx context.Context, url string) (*models.Media, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var best *models.Media
	for _, r := range f.db.media {
		if r.URL == url && (best == nil || r.ID > best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, common.ErrorNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeMediaRepo) FindForProduct(ctx context.Context, productID, url string) ([]*models.Media, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.findErr != nil {
		return nil, f.db.findErr
	}
	var out []*models.Media
	for id, l := range f.db.links {
		r := f.db.media[id]
		if l.ProductID == productID && r != nil && (r.URL == url || SanitizeFilename(r.URL) == url) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMediaRepo) FindByProduct(ctx context.Context, productID string) ([]*models.Media, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.findErr != nil {
		return nil, f.db.findErr
	}
	var out []*models.Media
	for id, l := range f.db.links {
		if r := f.db.media[id]; r != nil && l.ProductID == productID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMediaRepo) DeleteByID(ctx context.Context, id int64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	delete(f.db.media, id)
	delete(f.db.links, id)
	return nil
}

type fakeLinkRepo struct {
	links.Repository
	db *memDB
}

func (f *fakeLinkRepo) Insert(ctx context.Context, l *models.MediaLink) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, other := range f.db.links {
		if other.ProductID == l.ProductID && other.URL == l.URL {
			delete(f.db.media, l.MediaID)
			return common.ErrorDuplicate
		}
	}
	cp := *l
	f.db.links[l.MediaID] = &cp
	return nil
}

func (f *fakeLinkRepo) GetByMediaID(ctx context.Context, id int64) (*models.MediaLink, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	l, ok := f.db.links[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLinkRepo) DeleteByMediaID(ctx context.Context, id int64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	delete(f.db.links, id)
	return nil
}

type fakeProductsRepo struct {
	products.Repository
	db *memDB
}

func (f *fakeProductsRepo) Get(ctx context.Context, id string) (*models.Product, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if !f.db.products[id] {
		return nil, common.ErrorNotFound
	}
	return &models.Product{ID: id, Title: "product " + id}, nil
}

func (f *fakeProductsRepo) CanWrite(ctx context.Context, productID, userID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.canWriteErr != nil {
		return false, f.db.canWriteErr
	}
	return f.db.writers[productID+"|"+userID], nil
}

func (f *fakeProductsRepo) SetLastModified(ctx context.Context, productID, userID string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.touched = append(f.db.touched, productID+"|"+userID)
	return nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	db *memDB
}

func (m *fakeRepoManager) Media(dbx.DBTX) mediarepo.Repository   { return &fakeMediaRepo{db: m.db} }
func (m *fakeRepoManager) Links(dbx.DBTX) links.Repository       { return &fakeLinkRepo{db: m.db} }
func (m *fakeRepoManager) Products(dbx.DBTX) products.Repository { return &fakeProductsRepo{db: m.db} }

// -------- helpers --------

// newTxDB returns a sqlmock DB that accepts any number of transactions.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 20; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newMemStore(s3 *objectstoretest.S3) *objectstore.Store {
	return objectstore.New(s3, objectstore.Options{Bucket: "main"}, logging.Nop())
}

type recordedUpload struct {
	outcome string
	bytes   int64
}

type fakeObserver struct {
	mu        sync.Mutex
	uploads   []recordedUpload
	downloads []string
}

func (o *fakeObserver) Upload(outcome string, bytes int64, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploads = append(o.uploads, recordedUpload{outcome, bytes})
}

func (o *fakeObserver) Download(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.downloads = append(o.downloads, outcome)
}

func (o *fakeObserver) Downloads() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.downloads...)
}

func (o *fakeObserver) Uploads() []recordedUpload {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]recordedUpload(nil), o.uploads...)
}
