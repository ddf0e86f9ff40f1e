package models

import "time"

type Album struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Description  *string   `db:"description" json:"description"`
	CreatedDate  time.Time `db:"created_date" json:"createdDate"`
	CoverPhotoID *string   `db:"cover_photo_id" json:"coverPhotoId"`
}

// Photo is the metadata row of an ingested image. Filename is the canonical
// derivative name shared by the originals and thumbnails directories.
type Photo struct {
	ID           string    `db:"id" json:"id"`
	Filename     string    `db:"filename" json:"filename"`
	OriginalName string    `db:"original_name" json:"originalName"`
	AlbumID      string    `db:"album_id" json:"albumId"`
	UploadDate   time.Time `db:"upload_date" json:"uploadDate"`
	FileSize     int64     `db:"file_size" json:"fileSize"`
}
