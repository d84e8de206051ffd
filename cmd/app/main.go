package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/api"
	cfgpkg "github.com/local/printpreview/internal/config"
	"github.com/local/printpreview/internal/jobs"
	"github.com/local/printpreview/internal/limiter"
	logpkg "github.com/local/printpreview/internal/logger"
	"github.com/local/printpreview/internal/metrics"
	"github.com/local/printpreview/internal/preview"
	"github.com/local/printpreview/internal/queue"
	"github.com/local/printpreview/internal/rasterize"
	"github.com/local/printpreview/internal/source"
	"github.com/local/printpreview/internal/statuscheck"
	"github.com/local/printpreview/internal/storage"
	"github.com/local/printpreview/internal/store"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:         cfg.Logging.Level,
		Pretty:        cfg.Logging.Pretty,
		File:          cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxBackups:    cfg.Logging.MaxBackups,
		MaxAgeDays:    cfg.Logging.MaxAgeDays,
		Compress:      cfg.Logging.Compress,
		SendToAxiom:   cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:   cfg.Axiom.APIKey,
		AxiomOrgID:    cfg.Axiom.OrgID,
		AxiomDataset:  cfg.Axiom.Dataset,
		AxiomFlush:    cfg.Axiom.FlushInterval,
		AxiomMinLevel: cfg.Axiom.MinLevel,
	})
	defer logpkg.Close()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs quota, job history and the print stream. Preview works without it.
	var (
		rdb    *redis.Client
		jobSvc *jobs.Service
		rq     *queue.RedisQueue
	)
	if c, err := store.Connect(ctx, cfg.Redis.URL); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, job submission disabled")
	} else {
		rdb = c
		defer rdb.Close()
		jobSvc = jobs.NewService(rdb, cfg.Redis.JobStream, cfg.Quota.DefaultLimit, source.CountPages)
		rq = jobSvc.Queue
		if err := jobSvc.Quota.SetLimits(ctx, cfg.Quota.Overrides); err != nil {
			log.Warn().Err(err).Msg("quota overrides not applied")
		}
	}

	// S3 is optional; without it only uploads and http(s) references work.
	var s3c *storage.S3Client
	if cfg.Storage.S3Region != "" || cfg.Storage.S3Endpoint != "" {
		c, err := storage.NewS3Client(ctx, storage.S3Options{
			Region:          cfg.Storage.S3Region,
			Endpoint:        cfg.Storage.S3Endpoint,
			AccessKeyID:     cfg.Storage.S3AccessKeyID,
			SecretAccessKey: cfg.Storage.S3SecretKey,
			UsePathStyle:    cfg.Storage.S3UsePathStyle,
		})
		if err != nil {
			log.Warn().Err(err).Msg("s3 client init failed")
		} else {
			s3c = c
		}
	}

	registry := preview.NewRegistry(preview.Options{
		ResizeDebounce: cfg.Preview.ResizeDebounce,
		Breakpoint:     cfg.Preview.Breakpoint,
		SuppressWindow: cfg.Preview.SuppressWindow,
	}, cfg.Preview.SessionIdle)
	go registry.Run(ctx, cfg.Preview.SweepInterval)

	go cleanupLoop(ctx, cfg.Storage.TempDir, cfg.Storage.TempMaxAge)

	checkOpts := statuscheck.Options{
		S3Bucket: cfg.Storage.S3Bucket,
		SpoolDir: cfg.Storage.SpoolDir,
	}
	if rq != nil {
		checkOpts.Redis = rq
		checkOpts.Queue = rq
	}
	if s3c != nil {
		checkOpts.S3 = s3c
	}

	colorMode := rasterize.ColorRGB
	if cfg.Preview.Grayscale {
		colorMode = rasterize.ColorGray
	}
	deps := api.Dependencies{
		Sessions: registry,
		Limiter: limiter.New(rdb, limiter.Options{
			MaxInflight: cfg.Server.MaxInflightUploads,
			BaseBackoff: cfg.Storage.FetchBackoff,
			MaxBackoff:  cfg.Storage.FetchMaxBackoff,
		}),
		Fetcher: &source.Fetcher{
			HTTP:     &http.Client{Timeout: cfg.Storage.FetchTimeout},
			S3:       s3c,
			TempDir:  cfg.Storage.TempDir,
			MaxBytes: cfg.Server.MaxUploadMB << 20,
		},
		Spool:          &source.Spool{Dir: cfg.Storage.SpoolDir},
		Status:         statuscheck.New(checkOpts),
		JPEGQuality:    cfg.Preview.JPEGQuality,
		ColorMode:      colorMode,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	}
	if jobSvc != nil {
		deps.Jobs = jobSvc
	}

	mux := http.NewServeMux()
	api.New(deps).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Msgf("HTTP server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	registry.CloseAll()
	fmt.Println("shutdown complete")
}

// cleanupLoop removes stale downloaded documents left behind by failed fetches.
func cleanupLoop(ctx context.Context, dir string, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	ticker := time.NewTicker(maxAge / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := source.CleanupTemps(dir, maxAge); n > 0 {
				log.Info().Int("removed", n).Msg("cleaned up temp documents")
			}
		}
	}
}
