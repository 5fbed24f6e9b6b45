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

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	otellib "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/museai/lora-api/cmd/server/internal/routes"
	"github.com/museai/lora-api/cmd/server/internal/routes/api"
	"github.com/museai/lora-api/internal/archive"
	"github.com/museai/lora-api/internal/artifact"
	"github.com/museai/lora-api/internal/audit"
	"github.com/museai/lora-api/internal/config"
	"github.com/museai/lora-api/internal/diffusion"
	"github.com/museai/lora-api/internal/gallery"
	"github.com/museai/lora-api/internal/history"
	"github.com/museai/lora-api/internal/inference"
	"github.com/museai/lora-api/internal/intake"
	"github.com/museai/lora-api/internal/ledger"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/metrics"
	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/otel"
	"github.com/museai/lora-api/internal/queue"
	"github.com/museai/lora-api/internal/upload"
)

const name string = "github.com/museai/lora-api/server"

var tracer = otellib.Tracer(name)

// set at build time with -ldflags "-X main.version=..."
var version = "dev"

type server struct {
	router       *echo.Echo
	config       *config.Config
	supervisor   *orchestrator.Supervisor
	inference    *inference.Server
	metrics      *metrics.Metrics
	db           *gorm.DB
	redis        *redis.Client
	otelShutdown func(context.Context) error
}

func initServer(ctx context.Context) (*server, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server config: %w", err)
	}

	shutdownOTel, err := otel.SetupOTelSDK(ctx, otel.Options{
		ServiceName:    routes.ServiceName,
		ServiceVersion: version,
		UseOTLP:        cfg.Logging.UseOTLP,
		SampleRatio:    cfg.Logging.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OTEL SDK: %w", err)
	}

	server, err := newServer(ctx, cfg)
	if err != nil {
		// Something failed to initialize, make sure everything gets flushed to the server
		otelShutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Second*time.Duration(cfg.GracefulShutdownSecs),
		)
		defer cancel()

		if shutdownErr := shutdownOTel(otelShutdownCtx); shutdownErr != nil {
			logger.Logger.Error("failed to flush otel data", "error", shutdownErr)
		}
		return nil, err
	}

	server.otelShutdown = shutdownOTel
	return server, nil
}

func newBackend(cfg *config.Config) (diffusion.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendRemote:
		return diffusion.NewRemote(cfg.Backend.URL, diffusion.RemoteOptions{
			BaseModel:      cfg.BaseModel,
			PollInterval:   cfg.Backend.PollInterval,
			RequestTimeout: cfg.Backend.RequestTimeout,
		})
	case config.BackendPlaceholder:
		return diffusion.NewPlaceholder(cfg.BaseModel, cfg.Backend.StepDelay), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// newServer builds every component from cfg. It does not touch global otel
// state so tests can call it directly.
func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	srv := &server{config: cfg}

	ctx, span := tracer.Start(ctx, "newServer")
	defer span.End()

	fail := func(msg string, err error) (*server, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		_ = srv.closeClients()
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	logger.SetLevel(cfg.Logging.App.Level)

	store, err := artifact.NewStore(cfg.Storage.ModelsDir)
	if err != nil {
		return fail("failed to open model store", err)
	}
	uploads, err := intake.New(cfg.Storage.UploadsDir)
	if err != nil {
		return fail("failed to open upload directory", err)
	}
	images, err := gallery.New(cfg.Storage.GeneratedDir)
	if err != nil {
		return fail("failed to open gallery", err)
	}

	span.AddEvent("initialized storage")

	backend, err := newBackend(cfg)
	if err != nil {
		return fail("failed to initialize diffusion backend", err)
	}

	span.AddEvent("initialized diffusion backend")

	srv.metrics = metrics.New()
	observers := []orchestrator.Observer{audit.JobObserver{}, srv.metrics}

	var mirror *archive.Mirror
	uploader, err := upload.FromConfig(ctx, cfg.Mirror)
	if err != nil {
		return fail("failed to initialize mirror", err)
	}
	if uploader != nil {
		mirror, err = archive.NewMirror(uploader, store, cfg.Mirror.PresignTTL)
		if err != nil {
			return fail("failed to initialize mirror", err)
		}
		observers = append(observers, mirror)
		span.AddEvent("initialized artifact mirror")
	}

	if cfg.EventsEnabled() {
		q, err := queue.FromConfig(ctx, cfg.Events)
		if err != nil {
			return fail("failed to initialize event queue", err)
		}
		observers = append(observers, queue.NewEventPublisher(q))
		span.AddEvent("initialized event queue")
	}

	var recorder *history.Recorder
	if cfg.HistoryEnabled() {
		srv.db, err = history.Open(ctx, cfg.PostgresDSN(), cfg.History.Postgres, cfg.Logging.Gorm)
		if err != nil {
			return fail("failed to initialize job history", err)
		}
		recorder = history.NewRecorder(srv.db)
		observers = append(observers, recorder)
		span.AddEvent("initialized job history")
	}

	jobs := ledger.New()
	srv.supervisor, err = orchestrator.New(orchestrator.Options{
		Ledger:    jobs,
		Intake:    uploads,
		Store:     store,
		Trainer:   backend,
		WorkDir:   cfg.Storage.WorkDir,
		BaseModel: cfg.BaseModel,
		Observers: observers,
	})
	if err != nil {
		return fail("failed to initialize training supervisor", err)
	}

	srv.inference = inference.New(store, backend)
	srv.metrics.TrackResident(srv.inference.Resident)

	span.AddEvent("initialized training and inference")

	opts := api.Options{
		Submitter:   srv.supervisor,
		Jobs:        jobs,
		Models:      store,
		Generator:   srv.inference,
		Gallery:     images,
		Accelerator: backend,
		Metrics:     srv.metrics,
	}
	// typed nils must not leak into the optional interfaces
	if recorder != nil {
		opts.History = recorder
	}
	if mirror != nil {
		opts.Archiver = mirror
	}
	if cfg.RateLimit != nil && (cfg.RateLimit.TrainPerMinute > 0 || cfg.RateLimit.GeneratePerMinute > 0) {
		srv.redis = redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisHost})
		opts.Redis = srv.redis
		opts.RateLimit = *cfg.RateLimit
	}

	apiHandler, err := api.NewHandler(opts)
	if err != nil {
		return fail("failed to create api handler", err)
	}

	e, err := routes.BuildEcho(logger.Logger, srv.metrics.Handler())
	if err != nil {
		return fail("error building router", err)
	}
	apiHandler.AddRoutes(e)

	span.AddEvent("created echo router")

	srv.router = e

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "initialized server")
	return srv, nil
}

func (s *server) closeClients() error {
	var errs error
	if s.redis != nil {
		errs = errors.Join(errs, s.redis.Close())
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		errs = errors.Join(errs, err)
	}
	return errs
}

func (s *server) Start(_ context.Context) error {
	logger.Logger.Info("Starting services...", "address", s.config.ListenAddress)

	err := s.router.Start(s.config.ListenAddress)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops accepting requests, fails running jobs, then releases
// pipelines and clients.
func (s *server) Shutdown() error {
	var errs error

	ctx, cancelTimeout := context.WithTimeout(
		context.Background(),
		time.Second*time.Duration(s.config.GracefulShutdownSecs),
	)
	defer cancelTimeout()

	if err := s.router.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, err)
	}

	if err := s.supervisor.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to shutdown training supervisor gracefully: %w", err))
	}

	s.inference.Close()

	errs = errors.Join(errs, s.closeClients())

	if s.otelShutdown != nil {
		errs = errors.Join(errs, s.otelShutdown(ctx))
	}

	return errs
}

func main() {
	ctx, cancelSignal := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)

	logger.InitSlog()

	server, err := initServer(ctx)
	if err != nil {
		logger.Logger.Error(err.Error())
		cancelSignal()
		os.Exit(1)
	}

	errch := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Got shutdown signal!")
		errch <- server.Shutdown()
		close(errch)
	}()

	if err := server.Start(ctx); err != nil {
		logger.Logger.Error(err.Error())
		cancelSignal()
		os.Exit(1)
	}

	if err := <-errch; err != nil {
		logger.Logger.Error("Error shutting down server", "error", err)
	}

	cancelSignal()
}
