package gallery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gallery/internal/models"
)

const (
	albumsDir     = "albums"
	originalsDir  = "originals"
	thumbnailsDir = "thumbnails"
	derivativeExt = ".jpg"
)

// Layout maps album ids onto the on-disk derivative tree:
//
//	{root}/albums/{albumID}/originals/{photoID}.jpg
//	{root}/albums/{albumID}/thumbnails/{photoID}.jpg
type Layout struct {
	root string
}

func NewLayout(root string) Layout {
	return Layout{root: root}
}

func (l Layout) Root() string {
	return l.root
}

func (l Layout) AlbumDir(albumID string) string {
	return filepath.Join(l.root, albumsDir, albumID)
}

func (l Layout) OriginalsDir(albumID string) string {
	return filepath.Join(l.AlbumDir(albumID), originalsDir)
}

func (l Layout) ThumbnailsDir(albumID string) string {
	return filepath.Join(l.AlbumDir(albumID), thumbnailsDir)
}

func (l Layout) OriginalPath(p *models.Photo) string {
	return filepath.Join(l.OriginalsDir(p.AlbumID), p.Filename)
}

func (l Layout) ThumbnailPath(p *models.Photo) string {
	return filepath.Join(l.ThumbnailsDir(p.AlbumID), p.Filename)
}

// CanonicalFilename is the derivative name for a photo id.
func CanonicalFilename(photoID string) string {
	return photoID + derivativeExt
}

// EnsureAlbumDirs creates both derivative directories of an album. It is
// idempotent.
func (l Layout) EnsureAlbumDirs(albumID string) error {
	for _, dir := range []string{l.OriginalsDir(albumID), l.ThumbnailsDir(albumID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// validID rejects ids that could escape the album tree.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// removeFile deletes path, treating a missing file as success.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// writeFileAtomic writes data to a temp file beside path, syncs it and renames
// it into place.
func writeFileAtomic(path string, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	return os.Rename(tmp.Name(), path)
}
