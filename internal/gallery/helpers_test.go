package gallery

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gallery/internal/codec"
	"gallery/internal/logger"
	"gallery/internal/models"
)

// memStore is an in-memory Store with fault injection.
type memStore struct {
	mu     sync.Mutex
	albums map[string]models.Album
	photos map[string]models.Photo

	failCreatePhoto error
	failGetPhoto    error
	failListPhotos  error
}

func newMemStore() *memStore {
	return &memStore{
		albums: make(map[string]models.Album),
		photos: make(map[string]models.Photo),
	}
}

func (s *memStore) CreateAlbum(_ context.Context, a *models.Album) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.albums[a.ID] = *a
	return nil
}

func (s *memStore) GetAlbum(_ context.Context, id string) (*models.Album, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.albums[id]
	if !ok {
		return nil, models.ErrAlbumNotFound
	}
	return &a, nil
}

func (s *memStore) ListAlbums(context.Context) ([]models.Album, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Album, 0, len(s.albums))
	for _, a := range s.albums {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.After(out[j].CreatedDate) })
	return out, nil
}

func (s *memStore) UpdateAlbumCover(_ context.Context, albumID, photoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.albums[albumID]
	if !ok {
		return models.ErrAlbumNotFound
	}
	a.CoverPhotoID = &photoID
	s.albums[albumID] = a
	return nil
}

func (s *memStore) DeleteAlbum(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.albums, id)
	return nil
}

func (s *memStore) CreatePhoto(_ context.Context, p *models.Photo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreatePhoto != nil {
		return s.failCreatePhoto
	}
	if _, ok := s.albums[p.AlbumID]; !ok {
		return models.ErrAlbumNotFound
	}
	s.photos[p.ID] = *p
	return nil
}

func (s *memStore) GetPhoto(_ context.Context, id string) (*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGetPhoto != nil {
		return nil, s.failGetPhoto
	}
	p, ok := s.photos[id]
	if !ok {
		return nil, models.ErrPhotoNotFound
	}
	return &p, nil
}

func (s *memStore) ListPhotos(_ context.Context, albumID string) ([]models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failListPhotos != nil {
		return nil, s.failListPhotos
	}
	var out []models.Photo
	for _, p := range s.photos {
		if p.AlbumID == albumID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadDate.After(out[j].UploadDate) })
	return out, nil
}

func (s *memStore) DeletePhoto(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.photos, id)
	for aid, a := range s.albums {
		if a.CoverPhotoID != nil && *a.CoverPhotoID == id {
			a.CoverPhotoID = nil
			s.albums[aid] = a
		}
	}
	return nil
}

func (s *memStore) photoCount(albumID string) int {
	photos, _ := s.ListPhotos(context.Background(), albumID)
	return len(photos)
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// failingCodec delegates to the real codec but fails the named derivative.
type failingCodec struct {
	*codec.Imaging
	failOn string
}

func (c failingCodec) Derive(w io.Writer, src image.Image, spec codec.Spec) error {
	if spec.Name == c.failOn {
		return models.ErrCodecFailure.WithMessage("encode %s failed", spec.Name)
	}
	return c.Imaging.Derive(w, src, spec)
}

type fixture struct {
	m      *Manager
	store  *memStore
	events *recorder
	root   string
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), events: &recorder{}, root: t.TempDir()}
	cfg := Config{
		Store:          f.store,
		UploadsDir:     f.root,
		MaxUploadBytes: models.DefaultMaxUploadBytes,
		Publisher:      f.events,
		Logger:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	f.m = m
	return f
}

func (f *fixture) album(t *testing.T, name string) *models.Album {
	t.Helper()
	a, err := f.m.CreateAlbum(context.Background(), name, nil)
	require.NoError(t, err)
	return a
}

func (f *fixture) ingest(t *testing.T, albumID string, raw []byte) *models.Photo {
	t.Helper()
	p, err := f.m.IngestPhoto(context.Background(), albumID, Upload{Name: "IMG_0001.JPG", Data: raw})
	require.NoError(t, err)
	return p
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

// jpegSize decodes the file at path and returns its dimensions.
func jpegSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return cfg.Width, cfg.Height
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
