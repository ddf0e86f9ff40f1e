// Package storetest holds behavior tests shared by every metadata store.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery/internal/gallery"
	"gallery/internal/models"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) gallery.Store) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)

	t.Run("album round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		desc := "summer trip"
		in := &models.Album{ID: "a1", Name: "Summer", Description: &desc, CreatedDate: base}
		require.NoError(t, s.CreateAlbum(ctx, in))

		got, err := s.GetAlbum(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "Summer", got.Name)
		require.NotNil(t, got.Description)
		assert.Equal(t, desc, *got.Description)
		assert.Nil(t, got.CoverPhotoID)
		assert.True(t, base.Equal(got.CreatedDate), "created date %v", got.CreatedDate)
	})

	t.Run("missing album", func(t *testing.T) {
		s := open(t)
		_, err := s.GetAlbum(context.Background(), "nope")
		assert.ErrorIs(t, err, models.ErrAlbumNotFound)
	})

	t.Run("albums listed newest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			a := &models.Album{ID: fmt.Sprintf("a%d", i), Name: "album", CreatedDate: base.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, s.CreateAlbum(ctx, a))
		}

		albums, err := s.ListAlbums(ctx)
		require.NoError(t, err)
		require.Len(t, albums, 3)
		assert.Equal(t, []string{"a2", "a1", "a0"}, albumIDs(albums))
	})

	t.Run("empty album list is not nil", func(t *testing.T) {
		s := open(t)
		albums, err := s.ListAlbums(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, albums)
		assert.Empty(t, albums)
	})

	t.Run("photo round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAlbum(ctx, &models.Album{ID: "a1", Name: "A", CreatedDate: base}))

		in := &models.Photo{
			ID:           "p1",
			Filename:     "p1.jpg",
			OriginalName: "IMG_0001.HEIC.png",
			AlbumID:      "a1",
			UploadDate:   base,
			FileSize:     123456,
		}
		require.NoError(t, s.CreatePhoto(ctx, in))

		got, err := s.GetPhoto(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, in.Filename, got.Filename)
		assert.Equal(t, in.OriginalName, got.OriginalName)
		assert.Equal(t, in.AlbumID, got.AlbumID)
		assert.Equal(t, in.FileSize, got.FileSize)
		assert.True(t, base.Equal(got.UploadDate))
	})

	t.Run("photo requires existing album", func(t *testing.T) {
		s := open(t)
		err := s.CreatePhoto(context.Background(), &models.Photo{
			ID: "p1", Filename: "p1.jpg", OriginalName: "x.jpg", AlbumID: "ghost", UploadDate: base, FileSize: 1,
		})
		assert.ErrorIs(t, err, models.ErrAlbumNotFound)
	})

	t.Run("missing photo", func(t *testing.T) {
		s := open(t)
		_, err := s.GetPhoto(context.Background(), "nope")
		assert.ErrorIs(t, err, models.ErrPhotoNotFound)
	})

	t.Run("photos listed newest first per album", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAlbum(ctx, &models.Album{ID: "a1", Name: "A", CreatedDate: base}))
		require.NoError(t, s.CreateAlbum(ctx, &models.Album{ID: "a2", Name: "B", CreatedDate: base}))

		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("p%d", i)
			require.NoError(t, s.CreatePhoto(ctx, &models.Photo{
				ID: id, Filename: id + ".jpg", OriginalName: "x.jpg", AlbumID: "a1",
				UploadDate: base.Add(time.Duration(i) * time.Second), FileSize: 10,
			}))
		}
		require.NoError(t, s.CreatePhoto(ctx, &models.Photo{
			ID: "other", Filename: "other.jpg", OriginalName: "x.jpg", AlbumID: "a2", UploadDate: base, FileSize: 10,
		}))

		photos, err := s.ListPhotos(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, []string{"p2", "p1", "p0"}, photoIDs(photos))

		photos, err = s.ListPhotos(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, photos)
	})

	t.Run("cover update", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAlbum(ctx, &models.Album{ID: "a1", Name: "A", CreatedDate: base}))
		require.NoError(t, s.CreatePhoto(ctx, &models.Photo{
			ID: "p1", Filename: "p1.jpg", OriginalName: "x.jpg", AlbumID: "a1", UploadDate: base, FileSize: 1,
		}))

		require.NoError(t, s.UpdateAlbumCover(ctx, "a1", "p1"))
		got, err := s.GetAlbum(ctx, "a1")
		require.NoError(t, err)
		require.NotNil(t, got.CoverPhotoID)
		assert.Equal(t, "p1", *got.CoverPhotoID)

		err = s.UpdateAlbumCover(ctx, "ghost", "p1")
		assert.ErrorIs(t, err, models.ErrAlbumNotFound)
	})

	t.Run("photo delete clears cover", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAlbum(ctx, &models.Album{ID: "a1", Name: "A", CreatedDate: base}))
		require.NoError(t, s.CreatePhoto(ctx, &models.Photo{
			ID: "p1", Filename: "p1.jpg", OriginalName: "x.jpg", AlbumID: "a1", UploadDate: base, FileSize: 1,
		}))
		require.NoError(t, s.UpdateAlbumCover(ctx, "a1", "p1"))

		require.NoError(t, s.DeletePhoto(ctx, "p1"))

		_, err := s.GetPhoto(ctx, "p1")
		assert.ErrorIs(t, err, models.ErrPhotoNotFound)
		got, err := s.GetAlbum(ctx, "a1")
		require.NoError(t, err)
		assert.Nil(t, got.CoverPhotoID)
	})

	t.Run("deleting absent rows is a no-op", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		assert.NoError(t, s.DeletePhoto(ctx, "nope"))
		assert.NoError(t, s.DeleteAlbum(ctx, "nope"))
	})

	t.Run("album delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAlbum(ctx, &models.Album{ID: "a1", Name: "A", CreatedDate: base}))

		require.NoError(t, s.DeleteAlbum(ctx, "a1"))
		_, err := s.GetAlbum(ctx, "a1")
		assert.ErrorIs(t, err, models.ErrAlbumNotFound)
	})
}

func albumIDs(albums []models.Album) []string {
	ids := make([]string, len(albums))
	for i, a := range albums {
		ids[i] = a.ID
	}
	return ids
}

func photoIDs(photos []models.Photo) []string {
	ids := make([]string, len(photos))
	for i, p := range photos {
		ids[i] = p.ID
	}
	return ids
}
