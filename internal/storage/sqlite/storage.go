// Package sqlite implements the metadata store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"gallery/internal/models"
	"gallery/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z"

var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

type Storage struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Storage, error) {
	const op = "sqlite.Open"

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := storage.RunMigrations(ctx, db, goose.DialectSQLite3, fsys, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

// dsn appends connection pragmas so every pooled connection gets them.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) CreateAlbum(ctx context.Context, a *models.Album) error {
	const op = "sqlite.CreateAlbum"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO albums (id, name, description, created_date, cover_photo_id) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, formatTime(a.CreatedDate), a.CoverPhotoID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetAlbum(ctx context.Context, id string) (*models.Album, error) {
	const op = "sqlite.GetAlbum"

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_date, cover_photo_id FROM albums WHERE id = ?`, id)
	album, err := scanAlbum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAlbumNotFound.WithMessage("album %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return album, nil
}

func (s *Storage) ListAlbums(ctx context.Context) ([]models.Album, error) {
	const op = "sqlite.ListAlbums"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_date, cover_photo_id FROM albums ORDER BY created_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	albums := []models.Album{}
	for rows.Next() {
		album, err := scanAlbum(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		albums = append(albums, *album)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return albums, nil
}

func (s *Storage) UpdateAlbumCover(ctx context.Context, albumID, photoID string) error {
	const op = "sqlite.UpdateAlbumCover"

	res, err := s.db.ExecContext(ctx, `UPDATE albums SET cover_photo_id = ? WHERE id = ?`, photoID, albumID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return models.ErrAlbumNotFound.WithMessage("album %s not found", albumID)
	}
	return nil
}

func (s *Storage) DeleteAlbum(ctx context.Context, id string) error {
	const op = "sqlite.DeleteAlbum"

	if _, err := s.db.ExecContext(ctx, `DELETE FROM albums WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreatePhoto inserts the row only when its album exists.
func (s *Storage) CreatePhoto(ctx context.Context, p *models.Photo) error {
	const op = "sqlite.CreatePhoto"

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO photos (id, filename, original_name, album_id, upload_date, file_size)
		SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM albums WHERE id = ?)`,
		p.ID, p.Filename, p.OriginalName, p.AlbumID, formatTime(p.UploadDate), p.FileSize, p.AlbumID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return models.ErrAlbumNotFound.WithMessage("album %s not found", p.AlbumID)
	}
	return nil
}

func (s *Storage) GetPhoto(ctx context.Context, id string) (*models.Photo, error) {
	const op = "sqlite.GetPhoto"

	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, original_name, album_id, upload_date, file_size FROM photos WHERE id = ?`, id)
	photo, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPhotoNotFound.WithMessage("photo %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return photo, nil
}

func (s *Storage) ListPhotos(ctx context.Context, albumID string) ([]models.Photo, error) {
	const op = "sqlite.ListPhotos"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, original_name, album_id, upload_date, file_size
		FROM photos WHERE album_id = ? ORDER BY upload_date DESC`, albumID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	photos := []models.Photo{}
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		photos = append(photos, *photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return photos, nil
}

// DeletePhoto removes the row and clears any album cover pointing at it.
// Deleting an absent photo is a no-op.
func (s *Storage) DeletePhoto(ctx context.Context, id string) error {
	const op = "sqlite.DeletePhoto"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE albums SET cover_photo_id = NULL WHERE cover_photo_id = ?`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlbum(row scanner) (*models.Album, error) {
	var (
		a           models.Album
		description sql.NullString
		cover       sql.NullString
		created     string
	)
	if err := row.Scan(&a.ID, &a.Name, &description, &created, &cover); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	a.CreatedDate = t
	if description.Valid {
		a.Description = &description.String
	}
	if cover.Valid {
		a.CoverPhotoID = &cover.String
	}
	return &a, nil
}

func scanPhoto(row scanner) (*models.Photo, error) {
	var (
		p        models.Photo
		uploaded string
	)
	if err := row.Scan(&p.ID, &p.Filename, &p.OriginalName, &p.AlbumID, &uploaded, &p.FileSize); err != nil {
		return nil, err
	}
	t, err := parseTime(uploaded)
	if err != nil {
		return nil, err
	}
	p.UploadDate = t
	return &p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
