// Package media implements uploading media into object storage and serving
// it back. An accepted upload keeps running after the request that started
// it has been answered; its progress and outcome reach the client through
// the transfer registry.
package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/logging"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
	"github.com/dmitrijs2005/ishlearn/internal/server/objectstore"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/ishlearn/internal/server/transfer"
	"github.com/gabriel-vasile/mimetype"
)

// ObjectStore is the part of *objectstore.Store the service uses.
type ObjectStore interface {
	Begin(ctx context.Context, key string, body io.ReaderAt, size int64, contentType string) *objectstore.Upload
	BeginIfAbsent(ctx context.Context, key string, body io.ReaderAt, size int64, contentType string) *objectstore.Upload
	Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error)
	Tags(ctx context.Context, key string) (map[string]string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Observer receives transfer outcomes, e.g. for metrics.
type Observer interface {
	Upload(outcome string, bytes int64, elapsed time.Duration)
	Download(outcome string)
}

type nopObserver struct{}

func (nopObserver) Upload(string, int64, time.Duration) {}
func (nopObserver) Download(string)                     {}

// UploadRequest describes one file submitted for a product.
type UploadRequest struct {
	ProductID string
	Filename  string
	Principal string
	Override  bool
	// ContentType is what the client declared for the file part, if anything.
	ContentType string
}

type Options struct {
	// CompensateOrphans deletes a freshly stored object when its metadata
	// cannot be committed and no earlier record uses the same key.
	CompensateOrphans bool
	// SpoolDir holds payload copies while they upload; "" means os.TempDir.
	SpoolDir string
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       ObjectStore
	registry    *transfer.Registry
	guard       *Guard
	persister   *Persister
	observer    Observer
	opts        Options
	logger      logging.Logger

	// base outlives requests; background transfers run under it.
	base context.Context
	wg   sync.WaitGroup
}

func NewService(base context.Context, db *sql.DB, rm repomanager.RepositoryManager, store ObjectStore,
	registry *transfer.Registry, observer Observer, opts Options, logger logging.Logger) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Service{
		db:          db,
		repomanager: rm,
		store:       store,
		registry:    registry,
		guard:       NewGuard(rm.Media(db)),
		persister:   NewPersister(db, rm),
		observer:    observer,
		opts:        opts,
		logger:      logger.With("module", "media"),
		base:        base,
	}
}

// job is an upload that passed validation, authorization and the guard,
// with its payload spooled to a file the service owns.
type job struct {
	req     UploadRequest
	path    string
	verdict Verdict
	spool   *os.File
	size    int64
	ctype   string
	started time.Time
}

func (j *job) commit() Commit {
	return Commit{
		ProductID:   j.req.ProductID,
		Path:        j.path,
		Filename:    j.req.Filename,
		ContentType: j.ctype,
		Principal:   j.req.Principal,
		Evict:       j.verdict.Evict,
	}
}

func (j *job) release() {
	name := j.spool.Name()
	_ = j.spool.Close()
	_ = os.Remove(name)
}

// Upload accepts body for req and starts storing it in the background.
// It returns the transfer session id once the guard has passed; store and
// metadata failures after that are reported on the session's channel only.
func (s *Service) Upload(ctx context.Context, req UploadRequest, body io.Reader) (string, error) {
	j, err := s.prepare(ctx, req, body)
	if err != nil {
		return "", err
	}

	upCtx, cancel := context.WithCancel(s.base)
	up := s.begin(upCtx, j)

	id, err := s.registry.Register(up, req.Principal, req.Filename)
	if err != nil {
		cancel()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = up.Wait()
			j.release()
		}()
		return "", fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	filename := path.Base(j.path)
	up.OnProgress(func(p objectstore.Progress) {
		s.registry.Publish(id, transfer.ProgressEvent{
			ID:       id,
			Part:     p.Part,
			Loaded:   p.Loaded,
			Total:    p.Total,
			Filename: filename,
		})
	})

	s.logger.Info(ctx, "upload accepted",
		"session_id", id, "path", j.path, "size", j.size, "decision", j.verdict.Decision.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.finish(id, up, j)
	}()

	return id, nil
}

// UploadAndWait stores body and commits its record before returning the
// new media id. It is the path for server-side imports that have no push
// channel to report to.
func (s *Service) UploadAndWait(ctx context.Context, req UploadRequest, body io.Reader) (int64, error) {
	j, err := s.prepare(ctx, req, body)
	if err != nil {
		return 0, err
	}
	defer j.release()

	up := s.begin(ctx, j)
	if err := up.Wait(); err != nil {
		s.observer.Upload(storeOutcome(err), j.size, time.Since(j.started))
		return 0, err
	}
	mediaID, err := s.persist(ctx, j)
	if err != nil {
		return 0, err
	}
	return mediaID, nil
}

// Delete removes a media record, its link and its object. The principal
// needs write access to the owning product.
func (s *Service) Delete(ctx context.Context, principal string, mediaID int64) error {
	item, err := s.repomanager.Media(s.db).GetByID(ctx, mediaID)
	if err != nil {
		return err
	}
	link, err := s.repomanager.Links(s.db).GetByMediaID(ctx, mediaID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, link.ProductID, principal); err != nil {
		return err
	}
	if err := s.persister.Remove(ctx, link, principal); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, item.URL); err != nil {
		s.logger.Error(ctx, "object delete failed", "media_id", mediaID, "path", item.URL, "error", err)
		return err
	}
	s.logger.Info(ctx, "media deleted", "media_id", mediaID, "path", item.URL)
	return nil
}

// List returns the media attached to productID, oldest first. Any
// authenticated principal may list; an unknown product is common.ErrorNotFound.
func (s *Service) List(ctx context.Context, principal, productID string) ([]*models.Media, error) {
	if principal == "" {
		return nil, common.ErrorUnauthorized
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: project id is missing", common.ErrorValidation)
	}

	if _, err := s.repomanager.Products(s.db).Get(ctx, productID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
	}

	items, err := s.repomanager.Media(s.db).FindByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
	}
	return items, nil
}

// Wait blocks until every background transfer has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) prepare(ctx context.Context, req UploadRequest, body io.Reader) (*job, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Filename = strings.TrimSpace(req.Filename)

	if req.ProductID == "" {
		return nil, fmt.Errorf("%w: project id is missing", common.ErrorValidation)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: file is missing", common.ErrorValidation)
	}

	key, err := Normalize(req.ProductID, req.Filename)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, req.ProductID, req.Principal); err != nil {
		return nil, err
	}

	verdict, err := s.guard.Check(ctx, req.ProductID, key, req.Override)
	if err != nil {
		if errors.Is(err, common.ErrorDuplicate) {
			s.logger.Info(ctx, "upload rejected as duplicate", "path", key)
		}
		return nil, err
	}

	j := &job{req: req, path: key, verdict: verdict, started: time.Now()}
	if err := s.spool(j, body); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) authorize(ctx context.Context, productID, principal string) error {
	if principal == "" {
		return common.ErrorUnauthorized
	}
	ok, err := s.repomanager.Products(s.db).CanWrite(ctx, productID, principal)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
	}
	if !ok {
		return common.ErrorForbidden
	}
	return nil
}

// begin starts the object write. A fresh key is written only if nothing
// sits there yet, so a concurrent upload that lost the race cannot replace
// the winner's bytes. Overrides and evictions overwrite.
func (s *Service) begin(ctx context.Context, j *job) *objectstore.Upload {
	if j.verdict.Decision == Proceed && !j.req.Override {
		return s.store.BeginIfAbsent(ctx, j.path, j.spool, j.size, j.ctype)
	}
	return s.store.Begin(ctx, j.path, j.spool, j.size, j.ctype)
}

func storeOutcome(err error) string {
	if errors.Is(err, common.ErrorDuplicate) {
		return "duplicate"
	}
	return "store_failed"
}

// spool copies body into a file owned by the service, since the request's
// own temporary storage is gone once the handler returns, and sniffs its type.
func (s *Service) spool(j *job, body io.Reader) error {
	f, err := os.CreateTemp(s.opts.SpoolDir, "upload-*")
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("spool: %w", err)
	}

	var sniffed string
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if m, err := mimetype.DetectReader(f); err == nil {
			sniffed = m.String()
		}
	}

	j.spool = f
	j.size = n
	j.ctype = uploadContentType(j.req.ContentType, j.req.Filename, sniffed)
	return nil
}

// finish runs after the HTTP response: wait for the store, commit the
// record, then close the session with uploadDone or uploadFailed.
func (s *Service) finish(id string, up *objectstore.Upload, j *job) {
	defer j.release()
	ctx := s.base

	if err := up.Wait(); err != nil {
		outcome := storeOutcome(err)
		msg := "store write failed"
		if outcome == "duplicate" {
			msg = common.ErrorDuplicate.Error()
		}
		s.logger.Error(ctx, "upload failed", "session_id", id, "path", j.path, "error", err)
		s.observer.Upload(outcome, j.size, time.Since(j.started))
		s.registry.Finish(id, transfer.EventFailed, transfer.FailedEvent{ID: id, Error: msg})
		return
	}

	mediaID, err := s.persist(ctx, j)
	if err != nil {
		msg := "saving media failed"
		if errors.Is(err, common.ErrorDuplicate) {
			msg = common.ErrorDuplicate.Error()
		}
		s.registry.Finish(id, transfer.EventFailed, transfer.FailedEvent{ID: id, Error: msg})
		return
	}

	delivered := s.registry.Finish(id, transfer.EventDone, transfer.DoneEvent{ID: id, MediaID: mediaID})
	s.logger.Info(ctx, "upload done", "session_id", id, "media_id", mediaID, "path", j.path, "notified", delivered)
}

// persist commits the record, deletes objects of evicted legacy keys, and
// on failure removes the new object when nothing else refers to its key.
func (s *Service) persist(ctx context.Context, j *job) (int64, error) {
	mediaID, err := s.persister.Persist(ctx, j.commit())
	if err != nil {
		s.logger.Error(ctx, "persist failed", "path", j.path, "error", err)
		s.observer.Upload("persist_failed", j.size, time.Since(j.started))
		if s.opts.CompensateOrphans && j.verdict.Decision == Proceed && !errors.Is(err, common.ErrorDuplicate) {
			if derr := s.store.Delete(context.WithoutCancel(ctx), j.path); derr != nil {
				s.logger.Error(ctx, "orphan cleanup failed", "path", j.path, "error", derr)
			}
		}
		return 0, err
	}

	for _, old := range j.verdict.Evict {
		if old.URL == j.path {
			continue
		}
		if err := s.store.Delete(ctx, old.URL); err != nil {
			s.logger.Warn(ctx, "evicted object not deleted", "path", old.URL, "error", err)
		}
	}

	s.observer.Upload("ok", j.size, time.Since(j.started))
	return mediaID, nil
}
