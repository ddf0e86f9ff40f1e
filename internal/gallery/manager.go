// Package gallery keeps photo metadata rows and their on-disk JPEG
// derivatives in lockstep.
//
// Every photo row owns exactly two files, {originals}/{id}.jpg and
// {thumbnails}/{id}.jpg. Ingestion writes both files before the row; deletion
// removes both files before the row.
package gallery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"gallery/internal/codec"
	"gallery/internal/models"
)

// Store is the metadata store. Missing rows are reported as
// models.ErrAlbumNotFound / models.ErrPhotoNotFound; deletes of absent rows
// succeed.
type Store interface {
	CreateAlbum(ctx context.Context, album *models.Album) error
	GetAlbum(ctx context.Context, id string) (*models.Album, error)
	ListAlbums(ctx context.Context) ([]models.Album, error)
	UpdateAlbumCover(ctx context.Context, albumID, photoID string) error
	DeleteAlbum(ctx context.Context, id string) error

	CreatePhoto(ctx context.Context, photo *models.Photo) error
	GetPhoto(ctx context.Context, id string) (*models.Photo, error)
	ListPhotos(ctx context.Context, albumID string) ([]models.Photo, error)
	DeletePhoto(ctx context.Context, id string) error
}

// Codec decodes uploads and renders derivatives.
type Codec interface {
	Decode(raw []byte) (image.Image, error)
	Derive(w io.Writer, src image.Image, spec codec.Spec) error
}

type Config struct {
	Store      Store
	Codec      Codec
	UploadsDir string
	// MaxUploadBytes caps a single upload; zero disables the check.
	MaxUploadBytes int64
	Publisher      Publisher
	// PublishTimeout bounds each event delivery; zero means DefaultPublishTimeout.
	PublishTimeout time.Duration
	Logger         *slog.Logger

	Now   func() time.Time
	NewID func() string
}

// Upload is one raw file handed over by the ingress layer.
type Upload struct {
	Name string
	Data []byte
}

const DefaultPublishTimeout = 2 * time.Second

type Manager struct {
	store          Store
	codec          Codec
	layout         Layout
	maxUpload      int64
	events         Publisher
	publishTimeout time.Duration
	log            *slog.Logger
	locks          *albumLocks
	now            func() time.Time
	newID          func() string
}

func New(cfg Config) (*Manager, error) {
	const op = "gallery.New"

	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: store is required", op)
	}
	if strings.TrimSpace(cfg.UploadsDir) == "" {
		return nil, fmt.Errorf("%s: uploads dir is required", op)
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.New()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = NoopPublisher()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Manager{
		store:          cfg.Store,
		codec:          cfg.Codec,
		layout:         NewLayout(cfg.UploadsDir),
		maxUpload:      cfg.MaxUploadBytes,
		events:         cfg.Publisher,
		publishTimeout: cfg.PublishTimeout,
		log:            cfg.Logger.With("component", "gallery"),
		locks:          newAlbumLocks(),
		now:            cfg.Now,
		newID:          cfg.NewID,
	}, nil
}

func (m *Manager) Layout() Layout {
	return m.layout
}

func (m *Manager) CreateAlbum(ctx context.Context, name string, description *string) (*models.Album, error) {
	const op = "gallery.CreateAlbum"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.ErrInvalidInput.WithMessage("album name is required")
	}
	if description != nil && strings.TrimSpace(*description) == "" {
		description = nil
	}

	album := &models.Album{
		ID:          m.newID(),
		Name:        name,
		Description: description,
		CreatedDate: m.timestamp(),
	}
	if err := m.store.CreateAlbum(ctx, album); err != nil {
		return nil, storeErr(op, err)
	}
	m.log.Info("album created", "album_id", album.ID)
	return album, nil
}

func (m *Manager) GetAlbum(ctx context.Context, albumID string) (*models.Album, error) {
	album, err := m.store.GetAlbum(ctx, albumID)
	if err != nil {
		return nil, storeErr("gallery.GetAlbum", err)
	}
	return album, nil
}

func (m *Manager) ListAlbums(ctx context.Context) ([]models.Album, error) {
	albums, err := m.store.ListAlbums(ctx)
	if err != nil {
		return nil, storeErr("gallery.ListAlbums", err)
	}
	return albums, nil
}

func (m *Manager) ListPhotos(ctx context.Context, albumID string) ([]models.Photo, error) {
	const op = "gallery.ListPhotos"

	if _, err := m.store.GetAlbum(ctx, albumID); err != nil {
		return nil, storeErr(op, err)
	}
	photos, err := m.store.ListPhotos(ctx, albumID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return photos, nil
}

func (m *Manager) GetPhoto(ctx context.Context, photoID string) (*models.Photo, error) {
	photo, err := m.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, storeErr("gallery.GetPhoto", err)
	}
	return photo, nil
}

// IngestPhoto normalizes one upload into its original and thumbnail
// derivatives, then records the photo row. If the row insert fails the files
// stay behind and a photo.orphaned event is published for the sweeper.
func (m *Manager) IngestPhoto(ctx context.Context, albumID string, up Upload) (*models.Photo, error) {
	const op = "gallery.IngestPhoto"

	if m.maxUpload > 0 && int64(len(up.Data)) > m.maxUpload {
		return nil, models.ErrFileTooLarge.WithMessage("%s exceeds %d bytes", up.Name, m.maxUpload)
	}

	unlock := m.locks.shared(albumID)
	defer unlock()

	if _, err := m.store.GetAlbum(ctx, albumID); err != nil {
		return nil, storeErr(op, err)
	}

	src, err := m.codec.Decode(up.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, up.Name, err)
	}

	// From here on the operation runs to completion regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	photo := &models.Photo{
		ID:           m.newID(),
		OriginalName: up.Name,
		AlbumID:      albumID,
		FileSize:     int64(len(up.Data)),
	}
	photo.Filename = CanonicalFilename(photo.ID)

	if err := m.layout.EnsureAlbumDirs(albumID); err != nil {
		return nil, models.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
	}
	if err := m.writeDerivative(m.layout.OriginalPath(photo), src, codec.Original); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.writeDerivative(m.layout.ThumbnailPath(photo), src, codec.Thumbnail); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	photo.UploadDate = m.timestamp()
	if err := m.store.CreatePhoto(ctx, photo); err != nil {
		m.log.Warn("photo row insert failed, derivatives orphaned",
			"album_id", albumID,
			"photo_id", photo.ID,
			"error", err,
		)
		m.publish(ctx, EventPhotoOrphaned, albumID, photo.ID)
		return nil, storeErr(op, err)
	}

	m.log.Info("photo ingested",
		"album_id", albumID,
		"photo_id", photo.ID,
		"original_name", up.Name,
		"size", photo.FileSize,
	)
	m.publish(ctx, EventPhotoCreated, albumID, photo.ID)
	return photo, nil
}

// IngestPhotos ingests uploads in order. Each file is atomic on its own: on
// failure the photos created so far are returned with the error.
func (m *Manager) IngestPhotos(ctx context.Context, albumID string, uploads []Upload) ([]models.Photo, error) {
	created := make([]models.Photo, 0, len(uploads))
	for i, up := range uploads {
		photo, err := m.IngestPhoto(ctx, albumID, up)
		if err != nil {
			return created, &BatchError{Index: i, Name: up.Name, Err: err}
		}
		created = append(created, *photo)
	}
	return created, nil
}

// BatchError reports which upload of a batch failed.
type BatchError struct {
	Index int
	Name  string
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upload %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// DeletePhoto removes both derivatives and then the row. Missing files are
// tolerated; any other filesystem error aborts before the row is touched.
func (m *Manager) DeletePhoto(ctx context.Context, photoID string) error {
	const op = "gallery.DeletePhoto"

	photo, err := m.store.GetPhoto(ctx, photoID)
	if err != nil {
		return storeErr(op, err)
	}

	unlock := m.locks.shared(photo.AlbumID)
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	if err := m.removeDerivatives(photo); err != nil {
		return models.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
	}
	if err := m.store.DeletePhoto(ctx, photo.ID); err != nil {
		return storeErr(op, err)
	}

	m.log.Info("photo deleted", "album_id", photo.AlbumID, "photo_id", photo.ID)
	m.publish(ctx, EventPhotoDeleted, photo.AlbumID, photo.ID)
	return nil
}

// DeleteAlbum cascades: every photo's files then its row, then the album
// directory tree, then the album row.
func (m *Manager) DeleteAlbum(ctx context.Context, albumID string) error {
	const op = "gallery.DeleteAlbum"

	unlock := m.locks.exclusive(albumID)
	defer unlock()

	if _, err := m.store.GetAlbum(ctx, albumID); err != nil {
		return storeErr(op, err)
	}
	photos, err := m.store.ListPhotos(ctx, albumID)
	if err != nil {
		return storeErr(op, err)
	}

	ctx = context.WithoutCancel(ctx)
	for i := range photos {
		photo := &photos[i]
		if err := m.removeDerivatives(photo); err != nil {
			return models.ErrStorageFailure.WithCause(fmt.Errorf("%s: photo %s: %w", op, photo.ID, err))
		}
		if err := m.store.DeletePhoto(ctx, photo.ID); err != nil {
			return storeErr(op, err)
		}
	}

	if err := os.RemoveAll(m.layout.AlbumDir(albumID)); err != nil {
		return models.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
	}
	if err := m.store.DeleteAlbum(ctx, albumID); err != nil {
		return storeErr(op, err)
	}
	m.locks.forget(albumID)

	m.log.Info("album deleted", "album_id", albumID, "photos", len(photos))
	m.publish(ctx, EventAlbumDeleted, albumID, "")
	return nil
}

// SetAlbumCover points the album's cover at a photo of the same album.
func (m *Manager) SetAlbumCover(ctx context.Context, albumID, photoID string) (*models.Album, error) {
	const op = "gallery.SetAlbumCover"

	unlock := m.locks.shared(albumID)
	defer unlock()

	if _, err := m.store.GetAlbum(ctx, albumID); err != nil {
		return nil, storeErr(op, err)
	}

	photo, err := m.store.GetPhoto(ctx, photoID)
	switch {
	case errors.Is(err, models.ErrPhotoNotFound):
		return nil, models.ErrPhotoNotInAlbum.WithMessage("photo %s does not exist", photoID)
	case err != nil:
		return nil, storeErr(op, err)
	case photo.AlbumID != albumID:
		return nil, models.ErrPhotoNotInAlbum.WithMessage("photo %s does not belong to album %s", photoID, albumID)
	}

	if err := m.store.UpdateAlbumCover(ctx, albumID, photoID); err != nil {
		return nil, storeErr(op, err)
	}
	album, err := m.store.GetAlbum(ctx, albumID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return album, nil
}

// ResolveOriginalPath returns the path of a photo's original derivative.
func (m *Manager) ResolveOriginalPath(ctx context.Context, photoID string) (string, error) {
	photo, err := m.store.GetPhoto(ctx, photoID)
	if err != nil {
		return "", storeErr("gallery.ResolveOriginalPath", err)
	}
	return m.layout.OriginalPath(photo), nil
}

// ResolveThumbnailPath returns the path of a photo's thumbnail derivative.
func (m *Manager) ResolveThumbnailPath(ctx context.Context, photoID string) (string, error) {
	photo, err := m.store.GetPhoto(ctx, photoID)
	if err != nil {
		return "", storeErr("gallery.ResolveThumbnailPath", err)
	}
	return m.layout.ThumbnailPath(photo), nil
}

// PurgeOrphan removes the derivatives of photoID if no row owns them.
// It returns true when files were purged.
func (m *Manager) PurgeOrphan(ctx context.Context, albumID, photoID string) (bool, error) {
	const op = "gallery.PurgeOrphan"

	if !validID(albumID) || !validID(photoID) {
		return false, models.ErrInvalidInput.WithMessage("invalid orphan reference %q/%q", albumID, photoID)
	}

	unlock := m.locks.shared(albumID)
	defer unlock()

	_, err := m.store.GetPhoto(ctx, photoID)
	switch {
	case err == nil:
		return false, nil
	case !models.IsNotFound(err):
		return false, storeErr(op, err)
	}

	orphan := &models.Photo{ID: photoID, AlbumID: albumID, Filename: CanonicalFilename(photoID)}
	if err := m.removeDerivatives(orphan); err != nil {
		return false, models.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
	}
	m.log.Info("orphaned derivatives purged", "album_id", albumID, "photo_id", photoID)
	return true, nil
}

// SweepAlbum removes files in an album's derivative directories that no photo
// row references, including leftover temp files. It holds the album's
// exclusive lock so in-flight ingests are never mistaken for orphans.
func (m *Manager) SweepAlbum(ctx context.Context, albumID string) (int, error) {
	const op = "gallery.SweepAlbum"

	if !validID(albumID) {
		return 0, models.ErrInvalidInput.WithMessage("invalid album id %q", albumID)
	}

	unlock := m.locks.exclusive(albumID)
	defer unlock()

	photos, err := m.store.ListPhotos(ctx, albumID)
	if err != nil {
		return 0, storeErr(op, err)
	}
	owned := make(map[string]bool, len(photos))
	for _, p := range photos {
		owned[p.Filename] = true
	}

	removed := 0
	for _, dir := range []string{m.layout.OriginalsDir(albumID), m.layout.ThumbnailsDir(albumID)} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, models.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || owned[e.Name()] {
				continue
			}
			if err := removeFile(filepath.Join(dir, e.Name())); err != nil {
				return removed, models.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
			}
			removed++
		}
	}

	if removed > 0 {
		m.log.Info("album swept", "album_id", albumID, "removed", removed)
	}
	return removed, nil
}

func (m *Manager) writeDerivative(path string, src image.Image, spec codec.Spec) error {
	err := writeFileAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := m.codec.Derive(w, src, spec); err != nil {
			return err
		}
		return w.Flush()
	})
	if err == nil {
		return nil
	}
	var de *models.Error
	if errors.As(err, &de) {
		return err
	}
	return models.ErrStorageFailure.WithCause(fmt.Errorf("write %s: %w", spec.Name, err))
}

func (m *Manager) removeDerivatives(photo *models.Photo) error {
	var errs []error
	for _, path := range []string{m.layout.OriginalPath(photo), m.layout.ThumbnailPath(photo)} {
		err := os.Remove(path)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			m.log.Debug("derivative already absent", "photo_id", photo.ID, "path", path)
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) publish(ctx context.Context, typ EventType, albumID, photoID string) {
	ctx, cancel := context.WithTimeout(ctx, m.publishTimeout)
	defer cancel()

	ev := Event{Type: typ, AlbumID: albumID, PhotoID: photoID, OccurredAt: m.now().UTC()}
	if err := m.events.Publish(ctx, ev); err != nil {
		m.log.Warn("failed to publish event", "type", typ, "album_id", albumID, "photo_id", photoID, "error", err)
	}
}

func (m *Manager) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// storeErr keeps domain errors as they are and classifies the rest as
// storage failures.
func storeErr(op string, err error) error {
	var de *models.Error
	if errors.As(err, &de) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return models.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
}
