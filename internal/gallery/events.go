package gallery

import (
	"context"
	"time"
)

type EventType string

const (
	EventPhotoCreated  EventType = "photo.created"
	EventPhotoDeleted  EventType = "photo.deleted"
	EventPhotoOrphaned EventType = "photo.orphaned"
	EventAlbumDeleted  EventType = "album.deleted"
)

// Event is a lifecycle notification. PhotoID is empty for album events.
type Event struct {
	Type       EventType `json:"type"`
	AlbumID    string    `json:"albumId"`
	PhotoID    string    `json:"photoId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers lifecycle events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

// NoopPublisher discards every event.
func NoopPublisher() Publisher {
	return noopPublisher{}
}
