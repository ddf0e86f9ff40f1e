// Package postgres implements the metadata store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"gallery/internal/models"
	"gallery/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const foreignKeyViolation = "23503"

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(ctx context.Context, dsn string, logger *slog.Logger) (*Storage, error) {
	const op = "postgres.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := storage.RunMigrations(ctx, db, goose.DialectPostgres, fsys, logger); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() error {
	err := s.db.Close()
	s.pool.Close()
	return err
}

func (s *Storage) CreateAlbum(ctx context.Context, a *models.Album) error {
	const op = "postgres.CreateAlbum"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO albums (id, name, description, created_date, cover_photo_id)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Name, a.Description, a.CreatedDate, a.CoverPhotoID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetAlbum(ctx context.Context, id string) (*models.Album, error) {
	const op = "postgres.GetAlbum"

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, created_date, cover_photo_id FROM albums WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	album, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[models.Album])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrAlbumNotFound.WithMessage("album %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &album, nil
}

func (s *Storage) ListAlbums(ctx context.Context) ([]models.Album, error) {
	const op = "postgres.ListAlbums"

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, created_date, cover_photo_id FROM albums ORDER BY created_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	albums, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Album])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return albums, nil
}

func (s *Storage) UpdateAlbumCover(ctx context.Context, albumID, photoID string) error {
	const op = "postgres.UpdateAlbumCover"

	tag, err := s.pool.Exec(ctx, `UPDATE albums SET cover_photo_id = $2 WHERE id = $1`, albumID, photoID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlbumNotFound.WithMessage("album %s not found", albumID)
	}
	return nil
}

func (s *Storage) DeleteAlbum(ctx context.Context, id string) error {
	const op = "postgres.DeleteAlbum"

	if _, err := s.pool.Exec(ctx, `DELETE FROM albums WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) CreatePhoto(ctx context.Context, p *models.Photo) error {
	const op = "postgres.CreatePhoto"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO photos (id, filename, original_name, album_id, upload_date, file_size)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Filename, p.OriginalName, p.AlbumID, p.UploadDate, p.FileSize)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return models.ErrAlbumNotFound.WithMessage("album %s not found", p.AlbumID)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetPhoto(ctx context.Context, id string) (*models.Photo, error) {
	const op = "postgres.GetPhoto"

	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, original_name, album_id, upload_date, file_size FROM photos WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	photo, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[models.Photo])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrPhotoNotFound.WithMessage("photo %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &photo, nil
}

func (s *Storage) ListPhotos(ctx context.Context, albumID string) ([]models.Photo, error) {
	const op = "postgres.ListPhotos"

	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, original_name, album_id, upload_date, file_size
		FROM photos WHERE album_id = $1 ORDER BY upload_date DESC`, albumID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	photos, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Photo])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return photos, nil
}

// DeletePhoto removes the row and clears any album cover pointing at it.
// Deleting an absent photo is a no-op.
func (s *Storage) DeletePhoto(ctx context.Context, id string) error {
	const op = "postgres.DeletePhoto"

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE albums SET cover_photo_id = NULL WHERE cover_photo_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM photos WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
