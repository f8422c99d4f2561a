package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/server/media"
	"github.com/gin-gonic/gin"
)

const (
	minFilenameLen  = 3
	minProductIDLen = 6
)

func (s *Server) handleUpload(c *gin.Context) {
	ctx := c.Request.Context()

	if s.maxUpload > 0 {
		if c.Request.ContentLength > s.maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		s.writeError(c, fmt.Errorf("%w: file is missing", common.ErrorValidation))
		return
	}

	filename := strings.TrimSpace(c.PostForm("filename"))
	if filename == "" {
		filename = strings.TrimSpace(fh.Filename)
	}
	projectID := strings.TrimSpace(c.PostForm("projectId"))

	if len(filename) < minFilenameLen {
		s.writeError(c, fmt.Errorf("%w: filename must be at least %d characters", common.ErrorValidation, minFilenameLen))
		return
	}
	if len(projectID) < minProductIDLen {
		s.writeError(c, fmt.Errorf("%w: project id must be at least %d characters", common.ErrorValidation, minProductIDLen))
		return
	}
	override, _ := strconv.ParseBool(c.PostForm("overrideIfNecessary"))

	f, err := fh.Open()
	if err != nil {
		s.writeError(c, fmt.Errorf("open form file: %w", err))
		return
	}
	defer f.Close()

	id, err := s.uploads.Upload(ctx, media.UploadRequest{
		ProductID:   projectID,
		Filename:    filename,
		Principal:   principal(c),
		Override:    override,
		ContentType: fh.Header.Get("Content-Type"),
	}, f)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "uploadId": id})
}

func (s *Server) handleDownload(c *gin.Context) {
	s.download(c, strings.TrimPrefix(c.Param("path"), "/"))
}

type downloadRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) handleDownloadByName(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", common.ErrorValidation, err))
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if len(req.Filename) < minFilenameLen {
		s.writeError(c, fmt.Errorf("%w: filename must be at least %d characters", common.ErrorValidation, minFilenameLen))
		return
	}
	s.download(c, req.Filename)
}

func (s *Server) download(c *gin.Context, path string) {
	if path == "" {
		c.JSON(http.StatusNotFound, gin.H{"msg": "File not found"})
		return
	}
	err := s.downloads.Serve(c.Request.Context(), c.Writer, path)
	if errors.Is(err, media.ErrStreamInterrupted) {
		// status and part of the body are already out
		s.logger.Warn(c.Request.Context(), "download interrupted", "path", path, "error", err)
		c.Abort()
		return
	}
	if err != nil {
		s.writeError(c, err)
	}
}

func (s *Server) handleDelete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(c, fmt.Errorf("%w: bad media id", common.ErrorValidation))
		return
	}
	if err := s.uploads.Delete(c.Request.Context(), principal(c), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type mediaItem struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	FileType string `json:"fileType"`
}

func (s *Server) handleListMedia(c *gin.Context) {
	items, err := s.uploads.List(c.Request.Context(), principal(c), c.Param("id"))
	if errors.Is(err, common.ErrorNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"msg": "Product not found"})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]mediaItem, 0, len(items))
	for _, m := range items {
		out = append(out, mediaItem{ID: m.ID, Filename: m.Filename, URL: m.URL, FileType: m.FileType.String})
	}
	c.JSON(http.StatusOK, gin.H{"media": out})
}

func (s *Server) handleEvents(c *gin.Context) {
	if err := s.events.Serve(c.Writer, c.Request, principal(c)); err != nil {
		s.logger.Debug(c.Request.Context(), "push channel ended", "error", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	healthy := true
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}
