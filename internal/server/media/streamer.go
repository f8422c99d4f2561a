package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/logging"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/repomanager"
)

// ErrStreamInterrupted is returned by Serve when the body copy failed after
// the status line was sent. The response cannot be changed at that point.
var ErrStreamInterrupted = errors.New("stream interrupted")

// TagHeaderPrefix prefixes object tags surfaced as response headers.
const TagHeaderPrefix = "X-TAG-"

type StreamerOptions struct {
	// CacheExpiration is the freshness window; zero sends no-cache headers.
	CacheExpiration time.Duration
	// StreamTags surfaces object tags as X-TAG-<key> headers.
	StreamTags bool
}

// Streamer serves stored media back to clients.
type Streamer struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       ObjectStore
	opts        StreamerOptions
	observer    Observer
	logger      logging.Logger
	now         func() time.Time
}

func NewStreamer(db *sql.DB, rm repomanager.RepositoryManager, store ObjectStore, opts StreamerOptions, observer Observer, logger logging.Logger) *Streamer {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Streamer{
		db:          db,
		repomanager: rm,
		store:       store,
		opts:        opts,
		observer:    observer,
		logger:      logger.With("module", "streamer"),
		now:         time.Now,
	}
}

// Serve writes the object stored under path to w. path is sanitized the
// way upload keys are, so "p1/my essay.md" finds "p1/my_essay.md".
// Without a media record it returns common.ErrorNotFound and never
// touches the store. Store failures come back as common.ErrorNotFound or
// *objectstore.StatusError before anything is written; a failure while
// copying the body returns ErrStreamInterrupted.
func (s *Streamer) Serve(ctx context.Context, w http.ResponseWriter, path string) (err error) {
	defer func() { s.observer.Download(downloadOutcome(err)) }()

	path = SanitizeFilename(path)

	record, err := s.repomanager.Media(s.db).GetByURL(ctx, path)
	if errors.Is(err, common.ErrorNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
	}

	info, err := s.store.Head(ctx, path)
	if err != nil {
		return err
	}

	var tags map[string]string
	if s.opts.StreamTags {
		tags, err = s.store.Tags(ctx, path)
		if err != nil {
			s.logger.Warn(ctx, "object tags unavailable", "path", path, "error", err)
			tags = nil
		}
	}

	body, err := s.store.Get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()

	h := w.Header()
	for k, v := range tags {
		h.Set(TagHeaderPrefix+k, v)
	}
	s.setCacheHeaders(h)
	h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	h.Set("Content-Type", downloadContentType(record.FileType.String, info.ContentType, record.Filename))
	h.Set("Content-Disposition", contentDisposition(record.Filename))
	if info.ETag != "" {
		h.Set("ETag", info.ETag)
	}
	if !info.LastModified.IsZero() {
		h.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(w, body, buf); err != nil {
		s.logger.Warn(ctx, "download stream ended early", "path", path, "error", err)
		return fmt.Errorf("%w: %w", ErrStreamInterrupted, err)
	}
	return nil
}

func (s *Streamer) setCacheHeaders(h http.Header) {
	if s.opts.CacheExpiration > 0 {
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.opts.CacheExpiration.Seconds())))
		h.Set("Expires", s.now().Add(s.opts.CacheExpiration).UTC().Format(http.TimeFormat))
		return
	}
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")
	h.Set("Expires", "0")
}

func contentDisposition(filename string) string {
	name := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "").Replace(filename)
	return `inline; filename="` + name + `"`
}

func downloadOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	case errors.Is(err, ErrStreamInterrupted):
		return "interrupted"
	default:
		return "error"
	}
}
