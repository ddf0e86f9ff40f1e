package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"gallery/internal/gallery"
	"gallery/internal/models"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

type errorBody struct {
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Photos  []models.Photo `json:"photos,omitempty"`
}

type createAlbumRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type setCoverRequest struct {
	PhotoID string `json:"photoId"`
}

func (s *Server) handleListAlbums(c *gin.Context) {
	albums, err := s.gallery.ListAlbums(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, albums)
}

func (s *Server) handleGetAlbum(c *gin.Context) {
	album, err := s.gallery.GetAlbum(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, album)
}

func (s *Server) handleCreateAlbum(c *gin.Context) {
	var req createAlbumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, models.ErrInvalidInput.WithMessage("malformed request body").WithCause(err))
		return
	}
	album, err := s.gallery.CreateAlbum(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, album)
}

func (s *Server) handleSetCover(c *gin.Context) {
	var req setCoverRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PhotoID == "" {
		s.fail(c, models.ErrInvalidInput.WithMessage("photoId is required"))
		return
	}
	album, err := s.gallery.SetAlbumCover(c.Request.Context(), c.Param("id"), req.PhotoID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, album)
}

func (s *Server) handleDeleteAlbum(c *gin.Context) {
	if err := s.gallery.DeleteAlbum(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Album deleted successfully"})
}

// handleSweepAlbum removes derivative files that no photo row owns.
func (s *Server) handleSweepAlbum(c *gin.Context) {
	ctx := c.Request.Context()
	albumID := c.Param("id")

	if _, err := s.gallery.GetAlbum(ctx, albumID); err != nil {
		s.fail(c, err)
		return
	}
	removed, err := s.gallery.SweepAlbum(ctx, albumID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleListPhotos(c *gin.Context) {
	photos, err := s.gallery.ListPhotos(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, photos)
}

func (s *Server) handleUpload(c *gin.Context) {
	ctx := c.Request.Context()
	albumID := c.Param("id")

	if _, err := s.gallery.GetAlbum(ctx, albumID); err != nil {
		s.fail(c, err)
		return
	}

	maxFiles := s.cfg.MaxFilesPerUpload
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(maxFiles)*s.cfg.MaxUploadBytes+1<<20)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, models.ErrFileTooLarge.WithMessage("request exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.fail(c, models.ErrInvalidInput.WithMessage("malformed multipart body").WithCause(err))
		return
	}

	files := form.File["photos"]
	switch {
	case len(files) == 0:
		s.fail(c, models.ErrInvalidInput.WithMessage("No files uploaded"))
		return
	case len(files) > maxFiles:
		s.fail(c, models.ErrInvalidInput.WithMessage("at most %d files per upload", maxFiles))
		return
	}

	uploads := make([]gallery.Upload, 0, len(files))
	for _, fh := range files {
		up, err := s.readUpload(fh)
		if err != nil {
			s.fail(c, err)
			return
		}
		uploads = append(uploads, up)
	}

	photos, err := s.gallery.IngestPhotos(ctx, albumID, uploads)
	if err != nil {
		s.failBatch(c, photos, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"photos": photos})
}

func (s *Server) readUpload(fh *multipart.FileHeader) (gallery.Upload, error) {
	if !allowedExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
		return gallery.Upload{}, models.ErrUnsupportedFormat.WithMessage("%s: only image files are allowed", fh.Filename)
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		return gallery.Upload{}, models.ErrFileTooLarge.WithMessage("%s exceeds %d bytes", fh.Filename, s.cfg.MaxUploadBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return gallery.Upload{}, models.ErrInvalidInput.WithMessage("cannot read %s", fh.Filename).WithCause(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return gallery.Upload{}, models.ErrInvalidInput.WithMessage("cannot read %s", fh.Filename).WithCause(err)
	}
	return gallery.Upload{Name: fh.Filename, Data: data}, nil
}

func (s *Server) handleDeletePhoto(c *gin.Context) {
	if err := s.gallery.DeletePhoto(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Photo deleted successfully"})
}

func (s *Server) handleThumbnail(c *gin.Context) {
	path, err := s.gallery.ResolveThumbnailPath(c.Request.Context(), c.Param("id"))
	s.serveDerivative(c, path, err)
}

func (s *Server) handleOriginal(c *gin.Context) {
	path, err := s.gallery.ResolveOriginalPath(c.Request.Context(), c.Param("id"))
	s.serveDerivative(c, path, err)
}

func (s *Server) serveDerivative(c *gin.Context, path string, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.fail(c, models.ErrPhotoNotFound.WithMessage("photo file missing"))
			return
		}
		s.fail(c, models.ErrStorageFailure.WithCause(err))
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(path)
}

func (s *Server) fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(s.errorResponse(c, err))
}

// failBatch reports a batch failure along with the photos that did make it in.
func (s *Server) failBatch(c *gin.Context, created []models.Photo, err error) {
	status, body := s.errorResponse(c, err)
	var batchErr *gallery.BatchError
	if errors.As(err, &batchErr) {
		body.Message = fmt.Sprintf("%s: %s", batchErr.Name, body.Message)
	}
	body.Photos = created
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) errorResponse(c *gin.Context, err error) (int, errorBody) {
	status := models.StatusOf(err)
	body := errorBody{Code: "INTERNAL", Message: "internal server error"}

	var domainErr *models.Error
	if errors.As(err, &domainErr) {
		body.Code = domainErr.Code
		body.Message = domainErr.Message
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	return status, body
}
