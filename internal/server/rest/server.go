// Package rest exposes the media service over HTTP.
package rest

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/logging"
	"github.com/dmitrijs2005/ishlearn/internal/server/media"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Uploads is the part of *media.Service the handlers use.
type Uploads interface {
	Upload(ctx context.Context, req media.UploadRequest, body io.Reader) (string, error)
	Delete(ctx context.Context, principal string, mediaID int64) error
	List(ctx context.Context, principal, productID string) ([]*models.Media, error)
}

// Downloads is satisfied by *media.Streamer.
type Downloads interface {
	Serve(ctx context.Context, w http.ResponseWriter, path string) error
}

// Events is satisfied by *push.Hub.
type Events interface {
	Serve(w http.ResponseWriter, r *http.Request, principal string) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Address       string
	SecretKey     string
	MaxUploadSize int64
	EnableCORS    bool
}

type Server struct {
	address   string
	engine    *gin.Engine
	logger    logging.Logger
	jwtSecret []byte
	maxUpload int64

	uploads   Uploads
	downloads Downloads
	events    Events
	health    map[string]HealthCheck
	metrics   http.Handler
}

// NewServer builds the router. metrics may be nil, in which case /metrics
// is not served.
func NewServer(opts Options, l logging.Logger, uploads Uploads, downloads Downloads, events Events,
	health map[string]HealthCheck, metrics http.Handler) *Server {

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		address:   opts.Address,
		engine:    gin.New(),
		logger:    l.With("module", "rest_server"),
		jwtSecret: []byte(opts.SecretKey),
		maxUpload: opts.MaxUploadSize,
		uploads:   uploads,
		downloads: downloads,
		events:    events,
		health:    health,
		metrics:   metrics,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger)
	if opts.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "access_token"}
		corsConfig.ExposeHeaders = []string{"Content-Disposition", "ETag"}
		corsConfig.AllowWebSockets = true
		s.engine.Use(cors.New(corsConfig))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	files := s.engine.Group("/files")
	files.GET("/download/*path", s.handleDownload)
	files.POST("/download", s.handleDownloadByName)

	authed := files.Group("", s.accessTokenMiddleware)
	authed.POST("/upload", s.handleUpload)
	authed.DELETE("/media/:id", s.handleDelete)
	authed.GET("/products/:id/media", s.handleListMedia)
	authed.GET("/events", s.handleEvents)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
