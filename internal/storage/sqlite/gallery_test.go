package sqlite

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery/internal/gallery"
	"gallery/internal/logger"
	"gallery/internal/models"
)

func sampleJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestManagerOnSQLite(t *testing.T) {
	ctx := context.Background()
	store := openTemp(t)
	m, err := gallery.New(gallery.Config{
		Store:          store,
		UploadsDir:     t.TempDir(),
		MaxUploadBytes: models.DefaultMaxUploadBytes,
		Logger:         logger.Discard(),
	})
	require.NoError(t, err)

	album, err := m.CreateAlbum(ctx, "Trip", nil)
	require.NoError(t, err)

	var photos []*models.Photo
	for i := 0; i < 3; i++ {
		p, err := m.IngestPhoto(ctx, album.ID, gallery.Upload{Name: "img.jpg", Data: sampleJPEG(t, 640, 480)})
		require.NoError(t, err)
		photos = append(photos, p)
	}

	_, err = m.SetAlbumCover(ctx, album.ID, photos[0].ID)
	require.NoError(t, err)

	require.NoError(t, m.DeletePhoto(ctx, photos[0].ID))
	got, err := m.GetAlbum(ctx, album.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CoverPhotoID, "cover cleared with its photo")

	require.NoError(t, m.DeleteAlbum(ctx, album.ID))

	_, err = m.GetAlbum(ctx, album.ID)
	assert.ErrorIs(t, err, models.ErrAlbumNotFound)
	for _, p := range photos {
		_, err := store.GetPhoto(ctx, p.ID)
		assert.ErrorIs(t, err, models.ErrPhotoNotFound)
	}
	_, err = os.Stat(m.Layout().AlbumDir(album.ID))
	assert.True(t, os.IsNotExist(err))
}
