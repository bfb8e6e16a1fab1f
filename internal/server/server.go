// Package server wires the whole process together: configuration, storage,
// downloader, orchestrator and the HTTP surface.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"localtube/internal/api"
	"localtube/internal/config"
	"localtube/internal/infra/sqlite"
	"localtube/internal/infra/watcher"
	"localtube/internal/infra/ytdlp"
	"localtube/internal/tasks"
)

// Run starts everything and blocks until SIGINT/SIGTERM.
func Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.NewStore(cfg.Library.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("path", store.Path()).Msg("database ready")

	dl := ytdlp.New(cfg.YtDlp, cfg.Library.MediaDir, log.Logger)
	orch := tasks.New(store, dl, orchestratorOptions(cfg), log.Logger)

	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("orchestrator stopped with error")
		}
	}()

	if cfg.Library.WatchMedia {
		w := watcher.New(cfg.Library.MediaDir, store, log.Logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("media watcher stopped with error")
			}
		}()
	}

	srv := api.NewServer(store, orch, cfg.Library.MediaDir, log.Logger)
	if err := srv.Run(ctx, cfg.Server.Port); err != nil {
		return err
	}

	orch.Wait()
	log.Info().Msg("shutdown complete")
	return nil
}

// RefreshOnce enqueues a refresh for every source (due ones only unless
// force is set) and drives the orchestrator until the queue drains.
func RefreshOnce(cfg *config.Config, force bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.NewStore(cfg.Library.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	dl := ytdlp.New(cfg.YtDlp, cfg.Library.MediaDir, log.Logger)
	orch := tasks.New(store, dl, orchestratorOptions(cfg), log.Logger)

	if force {
		sources, err := store.ListSources(ctx)
		if err != nil {
			return err
		}
		for i := range sources {
			if _, err := orch.EnqueueRefresh(&sources[i]); err != nil {
				log.Debug().Err(err).Str("source", sources[i].ID).Msg("refresh not enqueued")
			}
		}
	}

	// tick until every queued task has reached a terminal state
	ticker := time.NewTicker(cfg.Tasks.TickInterval)
	defer ticker.Stop()
	orch.TickOnce(ctx)
	for !orch.Idle() {
		select {
		case <-ctx.Done():
			orch.Wait()
			return ctx.Err()
		case <-ticker.C:
			orch.TickOnce(ctx)
		}
	}
	orch.Wait()
	log.Info().Msg("refresh complete")
	return nil
}

func orchestratorOptions(cfg *config.Config) tasks.Options {
	return tasks.Options{
		Concurrency:        cfg.Tasks.Concurrency,
		TaskTimeout:        cfg.Tasks.TaskTimeout,
		TickInterval:       cfg.Tasks.TickInterval,
		MaxAttempts:        cfg.Tasks.MaxAttempts,
		BaseBackoff:        cfg.Tasks.BaseBackoff,
		MaxBackoff:         cfg.Tasks.MaxBackoff,
		CompletedRetention: cfg.Tasks.CompletedRetention,
		FailedRetention:    cfg.Tasks.FailedRetention,
		MediaDir:           cfg.Library.MediaDir,
	}
}
