package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/composite/internal/adapters/repository"
	service "github.com/okian/composite/internal/app"
	"github.com/okian/composite/internal/config"
	"github.com/okian/composite/internal/domain/settings"
	"github.com/okian/composite/pkg/logger"
)

// deps holds what a command builds from the loaded config.
type deps struct {
	svc      *service.Service
	repo     repository.Repository
	settings settings.Provider

	// watcher is set when settings come from a file.
	watcher *settings.FileProvider
}

// Close releases the repository.
func (d *deps) Close() error {
	return d.repo.Close()
}

func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	if cfg.DatabasePath == "" {
		return repository.NewMemory(repository.WithShardCount(cfg.ShardCount)), nil
	}
	repo, err := repository.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func openSettings(ctx context.Context, cfg *config.Config) (settings.Provider, *settings.FileProvider, error) {
	if cfg.SettingsPath == "" {
		return settings.NewStatic(cfg.Weights, cfg.Bands), nil, nil
	}
	fp, err := settings.NewFileProvider(ctx, cfg.SettingsPath)
	if err != nil {
		return nil, nil, err
	}
	return fp, fp, nil
}

// buildDeps opens storage and settings and constructs the Service.
// Callers must Close the returned deps.
func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	provider, watcher, err := openSettings(ctx, cfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open settings: %w", err), repo.Close())
	}

	svc := service.New(
		service.WithRepository(repo),
		service.WithSettings(provider),
		service.WithLockTimeout(cfg.LockTimeout()),
		service.WithLockShards(cfg.LockShards),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.EventQueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithMaxIngestRetries(cfg.MaxIngestRetries),
		service.WithBackfillConcurrency(cfg.BackfillConcurrency),
		service.WithLogger(logger.Named("coordinator")),
	)
	return &deps{svc: svc, repo: repo, settings: provider, watcher: watcher}, nil
}
