// Package app is the composition root. Every component is constructed
// once into an explicit Registry and handed its collaborators by
// reference; an archive path change rebuilds the registry rather than
// mutating hidden global state.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	fieldvault "github.com/mkaverti/fieldvault"
	"github.com/mkaverti/fieldvault/internal/bag"
	"github.com/mkaverti/fieldvault/internal/config"
	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/events"
	"github.com/mkaverti/fieldvault/internal/importer"
	"github.com/mkaverti/fieldvault/internal/probe"
	"github.com/mkaverti/fieldvault/internal/queue"
	"github.com/mkaverti/fieldvault/internal/server"
	"github.com/mkaverti/fieldvault/internal/worker"
)

type Registry struct {
	Cfg          *config.Config
	DB           *sql.DB
	Hub          *events.Hub
	Queue        *queue.Queue
	Sync         *bag.Synchronizer
	Validator    *bag.Validator
	Orchestrator *importer.Orchestrator
	Pool         *worker.Pool
}

// NewRegistry opens the database, applies migrations, and wires all
// components.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, fieldvault.MigrationFS); err != nil {
		database.Close()
		return nil, err
	}
	slog.Info("database ready")

	return buildRegistry(cfg, database)
}

func buildRegistry(cfg *config.Config, database *sql.DB) (*Registry, error) {
	archive, err := db.GetSetting(database, db.ArchiveFolderKey)
	if err != nil {
		database.Close()
		return nil, err
	}
	if archive == "" {
		slog.Warn("archive folder not configured; imports will be refused until it is set")
	}

	hub := events.New()
	q := queue.New(database)
	sync := &bag.Synchronizer{Archive: archive}
	validator := &bag.Validator{
		DB:            database,
		Sync:          sync,
		Limiter:       rate.NewLimiter(rate.Limit(cfg.ValidateFilesPerSec), 1),
		ValidateEvery: time.Duration(cfg.ValidateEveryDays) * 24 * time.Hour,
	}
	orchestrator := importer.New(database, q, sync, hub)
	pool := worker.NewPool(database, q, hub, probe.FFmpegTranscoder{}, cfg.WorkerPollInterval)

	return &Registry{
		Cfg:          cfg,
		DB:           database,
		Hub:          hub,
		Queue:        q,
		Sync:         sync,
		Validator:    validator,
		Orchestrator: orchestrator,
		Pool:         pool,
	}, nil
}

// Rebuild reconstructs the component graph after the archive folder
// setting changed. The database handle is reused.
func (r *Registry) Rebuild() (*Registry, error) {
	return buildRegistry(r.Cfg, r.DB)
}

func (r *Registry) Close() error {
	return r.DB.Close()
}

// Run starts the daemon: worker pool, scheduled maintenance, and the
// local admin API. It blocks until the context is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	reg, err := NewRegistry(cfg)
	if err != nil {
		return err
	}
	defer reg.Close()

	reg.Pool.Start(ctx)
	defer reg.Pool.Stop()

	// daily maintenance: kick a validation run when one is due, and
	// garbage-collect completed jobs past retention
	scheduler := cron.New()
	scheduler.AddFunc("@daily", func() {
		if _, err := reg.Validator.ScheduleValidationIfDue(ctx); err != nil {
			slog.Error("schedule validation", "error", err)
		}
		retention := time.Duration(cfg.JobRetentionDays) * 24 * time.Hour
		if n, err := reg.Queue.ClearCompleted(retention); err != nil {
			slog.Error("clear completed jobs", "error", err)
		} else if n > 0 {
			slog.Info("cleared completed jobs", "count", n)
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	// startup check per the validation-due policy
	if _, err := reg.Validator.ScheduleValidationIfDue(ctx); err != nil {
		slog.Error("startup validation check", "error", err)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(reg.DB, reg.Orchestrator, reg.Queue, reg.Validator, reg.Hub).Routes(),
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		srv.Shutdown(context.Background())
	}()

	slog.Info("admin api listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
