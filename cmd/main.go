package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gallery/internal/codec"
	"gallery/internal/events"
	"gallery/internal/gallery"
	"gallery/internal/logger"
	"gallery/internal/models"
	"gallery/internal/server"
	"gallery/internal/storage/postgres"
	"gallery/internal/storage/sqlite"
)

type store interface {
	gallery.Store
	io.Closer
}

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("gallery stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *models.Config, w io.Writer) *slog.Logger {
	return logger.New(logger.Config{
		Writer: w,
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
	})
}

func run(cfg *models.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	var publisher gallery.Publisher = gallery.NoopPublisher()
	var producer *events.Publisher
	if cfg.EventsEnabled() {
		producer = events.NewPublisher(events.NewWriter(cfg.KafkaBroker, cfg.KafkaTopic))
		defer producer.Close()
		publisher = producer
	}

	m, err := gallery.New(gallery.Config{
		Store:          db,
		Codec:          codec.NewWithMaxPixels(cfg.MaxImagePixels),
		UploadsDir:     cfg.UploadsDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Publisher:      publisher,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if producer != nil {
		reader := events.NewReader(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()
			consumerLog := log.With("component", "orphan-sweeper")
			if err := events.Consume(ctx, reader, consumerLog, events.OrphanSweeper(m, consumerLog)); err != nil {
				consumerLog.Error("consumer stopped", "error", err)
			}
		}()
	}

	srv, err := server.NewServer(cfg, m, log)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
		stop()
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if stopErr := srv.Stop(shutdownCtx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	wg.Wait()
	return err
}

func openStore(ctx context.Context, cfg *models.Config, log *slog.Logger) (store, error) {
	switch cfg.DatabaseDriver {
	case models.DriverPostgres:
		return postgres.NewStorage(ctx, cfg.DatabaseURL, log)
	default:
		return sqlite.Open(ctx, cfg.DatabaseURL, log)
	}
}
