// Package events carries gallery lifecycle events over Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"gallery/internal/gallery"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Publisher struct {
	writer MessageWriter
}

func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

// NewWriter returns a writer that keys messages by album so that events of one
// album stay ordered on a single partition. Each event is flushed on its own;
// callers bound the wait with their context.
func NewWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		MaxAttempts:            3,
		WriteTimeout:           2 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

func NewReader(broker, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: groupID,
	})
}

func (p *Publisher) Publish(ctx context.Context, ev gallery.Event) error {
	const op = "events.Publish"

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.AlbumID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Handler processes one decoded event.
type Handler func(ctx context.Context, ev gallery.Event) error

// Consume reads events until ctx is cancelled. Undecodable messages and
// handler failures are logged and skipped.
func Consume(ctx context.Context, r MessageReader, logger *slog.Logger, handle Handler) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			logger.Error("error reading message", "error", err)
			continue
		}

		var ev gallery.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Warn("skipping malformed event", "offset", msg.Offset, "error", err)
			continue
		}
		if err := handle(ctx, ev); err != nil {
			logger.Error("error handling event",
				"type", ev.Type,
				"album_id", ev.AlbumID,
				"photo_id", ev.PhotoID,
				"error", err,
			)
		}
	}
}

// OrphanSweeper returns a handler that purges the files of photo.orphaned
// events and ignores every other type.
func OrphanSweeper(m *gallery.Manager, logger *slog.Logger) Handler {
	return func(ctx context.Context, ev gallery.Event) error {
		if ev.Type != gallery.EventPhotoOrphaned {
			return nil
		}
		removed, err := m.PurgeOrphan(ctx, ev.AlbumID, ev.PhotoID)
		if err != nil {
			return err
		}
		logger.Info("orphan handled", "album_id", ev.AlbumID, "photo_id", ev.PhotoID, "removed", removed)
		return nil
	}
}
