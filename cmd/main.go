package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/image-captioner/internal/caption"
	"github.com/MimeLyc/image-captioner/internal/config"
	"github.com/MimeLyc/image-captioner/internal/httpapi"
	"github.com/MimeLyc/image-captioner/internal/imaging"
	"github.com/MimeLyc/image-captioner/internal/jobs"
	"github.com/MimeLyc/image-captioner/internal/metrics"
	"github.com/MimeLyc/image-captioner/internal/monitor"
	"github.com/MimeLyc/image-captioner/internal/persistence"
	"github.com/MimeLyc/image-captioner/internal/resultlog"
	"github.com/MimeLyc/image-captioner/internal/service"
	"github.com/MimeLyc/image-captioner/internal/stats"
	"github.com/MimeLyc/image-captioner/pkg/log"
)

const shutdownTimeout = 30 * time.Second

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronRunner interface {
	Start()
	Stop() context.Context
}

type httpRunner interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type workerPool interface {
	Stop(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load .env: %v", err)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.GetLogger().SetLevel(log.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal("Server exited: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var persist jobs.Persister
	if cfg.Storage.JobsDBPath != "" {
		db, err := persistence.NewSQLiteStore(cfg.Storage.JobsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		persist = db
		log.Info("Mirroring jobs to %s", cfg.Storage.JobsDBPath)
	}

	captioner, err := newCaptioner(cfg.Caption)
	if err != nil {
		return err
	}
	results, err := resultlog.NewWriter(cfg.Storage.ResultsLog)
	if err != nil {
		return err
	}
	log.Info("Appending results to %s", results.Path())

	store := jobs.NewStore(persist)
	aggregator := stats.NewAggregator()
	dispatcher := jobs.NewDispatcher(cfg.Worker.Count, cfg.Worker.QueueSize)

	codec := imaging.NewCodec(
		imaging.WithJPEGQuality(cfg.Storage.ThumbnailQuality),
		imaging.WithMaxPixels(cfg.Storage.MaxImagePixels),
	)
	processor := service.NewProcessor(codec, captioner, store, aggregator, results)
	intake, err := service.NewIntake(cfg.Storage.ImagesDir, store, dispatcher, processor, aggregator)
	if err != nil {
		return err
	}
	query := service.NewQuery(cfg.Storage.ImagesDir, store, aggregator)

	httpSrv := httpapi.NewServer(
		intake,
		query,
		httpapi.WithMetrics(metrics.New(aggregator.Snapshot, dispatcher.Pending)),
		httpapi.WithMaxUploadBytes(cfg.HTTP.MaxUploadBytes()),
	)

	cronEngine := cron.New()
	var mon scheduler
	if cfg.Monitor.Enabled() {
		mon = monitor.New(cfg.Monitor.CronExpr, cfg.Monitor.StaleAfter, store, aggregator, cronEngine)
	}

	dispatcher.Start()
	return runWithComponents(ctx, cfg, mon, cronEngine, httpSrv, dispatcher)
}

func newCaptioner(cfg config.CaptionConfig) (service.Captioner, error) {
	switch cfg.Backend {
	case config.BackendCommand:
		log.Info("Captioning with command %q", cfg.Command)
		return caption.NewCommand(cfg.Command)
	default:
		log.Info("Captioning with model %s at %s", cfg.Model, cfg.APIURL)
		return caption.NewClient(cfg.Client())
	}
}

// runWithComponents serves until ctx is cancelled, then stops accepting
// requests and drains queued work.
func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	mon scheduler,
	cronEngine cronRunner,
	httpSrv httpRunner,
	workers workerPool,
) error {
	if mon != nil {
		if err := mon.Schedule(ctx); err != nil {
			return err
		}
	}
	cronEngine.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		cronEngine.Stop()
		if workers != nil {
			if err := workers.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("drain workers: %w", err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
