// Package server exposes the gallery over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"gallery/internal/gallery"
	"gallery/internal/models"
)

type Server struct {
	cfg     *models.Config
	router  *gin.Engine
	srv     *http.Server
	gallery *gallery.Manager
	log     *slog.Logger
	limiter *ipLimiter
}

func NewServer(cfg *models.Config, m *gallery.Manager, logger *slog.Logger) (*Server, error) {
	const op = "server.NewServer"

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.MaxMultipartMemory = 32 << 20

	s := &Server{
		cfg:     cfg,
		router:  r,
		gallery: m,
		log:     logger.With("component", "server"),
	}

	r.Use(gin.Recovery(), s.accessLog())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}
	// JPEG bodies do not compress.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`^/api/photos/[^/]+/(thumbnail|original)$`})))
	if cfg.RateLimitRPS > 0 {
		s.limiter = newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		r.Use(s.limiter.middleware())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	admin := api.Group("", s.requireToken())

	api.GET("/albums", s.handleListAlbums)
	api.GET("/albums/:id", s.handleGetAlbum)
	api.GET("/albums/:id/photos", s.handleListPhotos)
	api.GET("/photos/:id/thumbnail", s.handleThumbnail)
	api.GET("/photos/:id/original", s.handleOriginal)

	admin.POST("/albums", s.handleCreateAlbum)
	admin.PATCH("/albums/:id/cover", s.handleSetCover)
	admin.DELETE("/albums/:id", s.handleDeleteAlbum)
	admin.POST("/albums/:id/sweep", s.handleSweepAlbum)
	admin.POST("/albums/:id/photos", s.handleUpload)
	admin.DELETE("/photos/:id", s.handleDeletePhoto)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.cfg.ServerAddr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.srv.Shutdown(ctx)
}
