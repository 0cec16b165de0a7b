package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/filedrop/internal/config"
	"github.com/JonMunkholm/filedrop/internal/core"
	"github.com/JonMunkholm/filedrop/internal/history"
	"github.com/JonMunkholm/filedrop/internal/i18n"
	"github.com/JonMunkholm/filedrop/internal/postprocess"
	"github.com/JonMunkholm/filedrop/internal/sessionstore"
	"github.com/JonMunkholm/filedrop/internal/storage"
)

// application holds the wired collaborators and what must be closed.
type application struct {
	assembler  *core.Assembler
	uploader   *core.Uploader
	translator *i18n.Translator
	history    *history.Recorder

	closers []func()
}

// Close releases connections in reverse order of creation.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{translator: i18n.New()}

	store, err := buildSessionStore(ctx, cfg, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	assembler, err := core.NewAssembler(store, cfg.Upload.ScratchDir, cfg.Session.TombstoneTTL)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.assembler = assembler

	validator, err := core.NewRuleValidator(core.Rules{
		MaxFileSize:       cfg.Upload.MaxFileSize,
		AllowedPaths:      cfg.Upload.AllowedPaths,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		AllowedMimeTypes:  cfg.Upload.AllowedMimeTypes,
		MaxImageWidth:     cfg.Upload.MaxImageWidth,
		MaxImageHeight:    cfg.Upload.MaxImageHeight,
	}, core.DecodeConfigInspector{})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("upload rules: %w", err)
	}

	backend, err := buildStorage(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	hooks := &core.Hooks{}
	hooks.Subscribe(func(ctx context.Context, ev core.LifecycleEvent) {
		slog.DebugContext(ctx, "upload lifecycle", "event", ev.Kind, "disk", ev.Disk, "path", ev.Path)
	})
	if cfg.Database.URL != "" {
		recorder, err := buildHistory(ctx, cfg, app)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.history = recorder
		hooks.Subscribe(recorder.Hook())
	}

	deps := core.UploaderDeps{
		Receiver:               core.NewReceiver(assembler.ScratchDir(), cfg.Upload.MaxMemory, validator),
		Assembler:              assembler,
		Committer:              core.NewCommitter(backend, validator, hooks, app.translator),
		Limiter:                core.NewFinalizeLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		LogPostProcessFailures: cfg.PostProcess.LogFailures,
	}
	if cfg.PostProcess.Enabled {
		deps.PostProcessor = postprocess.New(postprocess.Config{
			Enabled:        true,
			Endpoint:       cfg.PostProcess.Endpoint,
			Quality:        cfg.PostProcess.Quality,
			ConnectTimeout: cfg.PostProcess.ConnectTimeout,
			Timeout:        cfg.PostProcess.Timeout,
			Retries:        cfg.PostProcess.Retries,
			MimeTypes:      cfg.PostProcess.MimeTypes,
		})
	}
	app.uploader = core.NewUploader(deps)

	return app, nil
}

func buildSessionStore(ctx context.Context, cfg *config.Config, app *application) (core.SessionStore, error) {
	if !strings.EqualFold(cfg.Session.Store, "redis") {
		return core.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	app.closers = append(app.closers, func() { client.Close() })

	store := sessionstore.NewRedisStore(client, cfg.Session.IdleTimeout)
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
	}
	slog.Info("connected to redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	return store, nil
}

func buildStorage(ctx context.Context, cfg *config.Config) (core.StorageBackend, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "s3":
		disk, err := storage.NewS3Disk(ctx, storage.S3Config{
			Disk:            cfg.Storage.Disk,
			Bucket:          cfg.Storage.S3Bucket,
			Region:          cfg.Storage.S3Region,
			Prefix:          cfg.Storage.S3Prefix,
			AccessKeyID:     cfg.Storage.S3AccessKeyID,
			SecretAccessKey: cfg.Storage.S3SecretAccessKey,
			PartSize:        cfg.Storage.S3PartSize,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		return disk, nil
	default:
		disk, err := storage.NewLocalDisk(cfg.Storage.Root, cfg.Storage.Disk)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		slog.Info("local storage ready", "root", disk.Root(), "disk", disk.Disk())
		return disk, nil
	}
}

func buildHistory(ctx context.Context, cfg *config.Config, app *application) (*history.Recorder, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	app.closers = append(app.closers, pool.Close)

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	recorder := history.NewRecorder(pool)
	if err := recorder.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return recorder, nil
}
