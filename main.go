package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stevecastle/dicomalbum/album"
	"github.com/stevecastle/dicomalbum/api"
	"github.com/stevecastle/dicomalbum/appconfig"
	"github.com/stevecastle/dicomalbum/auth"
	"github.com/stevecastle/dicomalbum/cloudstore"
	"github.com/stevecastle/dicomalbum/dicomscan"
	"github.com/stevecastle/dicomalbum/history"
	"github.com/stevecastle/dicomalbum/imaging"
	"github.com/stevecastle/dicomalbum/ingest"
	"github.com/stevecastle/dicomalbum/logger"
	"github.com/stevecastle/dicomalbum/metadata"
	"github.com/stevecastle/dicomalbum/metrics"
	"github.com/stevecastle/dicomalbum/platform"
	"github.com/stevecastle/dicomalbum/store"
	"github.com/stevecastle/dicomalbum/stream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	openUI := flag.Bool("open", false, "open the album list in a browser once the server is up")
	flag.Parse()

	cfg, cfgPath, err := appconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("dicomalbum", logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Str("config", cfgPath).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *openUI); err != nil {
		log.Fatal().Stack().Err(err).Msg("server stopped with error")
	}
}

func run(ctx context.Context, cfg appconfig.Config, log zerolog.Logger, openUI bool) error {
	if err := platform.EnsureDirs(cfg.AlbumsDir, cfg.UploadsDir, cfg.TempDir); err != nil {
		return errors.Wrap(err, "create data directories")
	}

	db, err := store.Open(ctx, cfg.DBPath, logger.Component(log, "store"))
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New(nil)
	events := stream.NewHub(logger.Component(log, "stream"))
	defer events.Shutdown()
	extractor := dicomscan.New(logger.Component(log, "dicomscan"))

	opts := album.Options{Metrics: m}
	if cfg.Anonymize {
		opts.Anonymize = func(path string) error { return dicomscan.AnonymizeFile(path) }
	}
	if cfg.Cloud.Enabled {
		mirror, err := cloudstore.New(ctx, cloudstore.Config{
			Bucket:       cfg.Cloud.Bucket,
			Region:       cfg.Cloud.Region,
			Endpoint:     cfg.Cloud.Endpoint,
			AccessKey:    cfg.Cloud.AccessKey,
			SecretKey:    cfg.Cloud.SecretKey,
			UsePathStyle: cfg.Cloud.UsePathStyle,
			PresignTTL:   cfg.Cloud.PresignTTL(),
		}, logger.Component(log, "cloudstore"))
		if err != nil {
			return errors.Wrap(err, "connect cloud storage")
		}
		if err := mirror.Verify(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", mirror.Bucket()).Msg("cloud bucket not reachable; album mirroring may fail")
		}
		opts.Mirror = mirror
	}

	deps := &api.Dependencies{
		Session: &metadata.Session{},
		Scanner: extractor,
		Ingester: ingest.New(ingest.Options{
			Dir:        cfg.UploadsDir,
			StagingDir: cfg.TempDir,
			Extensions: cfg.AllowedExtensions,
			Archives:   cfg.AllowArchives,
			MaxBytes:   cfg.MaxUploadBytes,
		}, logger.Component(log, "ingest")),
		Albums:         album.New(db, extractor, cfg.AlbumsDir, logger.Component(log, "album"), opts),
		History:        history.New(db, logger.Component(log, "history")),
		Images:         imaging.NewRenderer(extractor, cfg.MaxImageDim),
		Events:         events,
		Metrics:        m,
		Log:            logger.Component(log, "http"),
		ResultLimit:    cfg.ResultLimit,
		HistoryLimit:   cfg.HistoryLimit,
		ThumbnailWidth: uint(cfg.ThumbnailWidth),
		PresignTTL:     cfg.Cloud.PresignTTL(),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	if cfg.AuthEnabled {
		svc := auth.NewAuthService(db.DB(), cfg.JWTSecret)
		if err := svc.CreateDefaultUser(ctx); err != nil {
			return errors.Wrap(err, "create default user")
		}
		deps.Auth = svc
		log.Info().Msg("user accounts enabled")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	if openUI {
		url := fmt.Sprintf("http://localhost:%d/albums", cfg.Port)
		if err := browser.OpenURL(url); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("could not open browser")
		}
	}

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "http server")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down HTTP server")
	// open event streams would otherwise hold Shutdown until the timeout
	events.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown")
	}
	log.Info().Msg("shutdown complete")
	return nil
}
