package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinica/internal/api"
	"clinica/internal/config"
	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/events"
	"clinica/internal/feed"
	"clinica/internal/google"
	"clinica/internal/logging"
	"clinica/internal/metrics"
	"clinica/internal/notify"
	"clinica/internal/repository"
	"clinica/internal/service"
	"clinica/internal/session"
	"clinica/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	mintUser := flag.String("mint", "", "print a session token for this user id and exit")
	mintEmail := flag.String("email", "", "email embedded in the minted token")
	flag.Parse()

	if err := run(*mintUser, *mintEmail); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(mintUser, mintEmail string) error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if mintUser != "" {
		token, err := session.NewIssuer(cfg.Session).Mint(mintUser, mintEmail)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	bus := events.NewEventBus()
	db.SetPublisher(bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	startRelay(ctx, cfg, redisClient, bus, logger)
	startKafka(ctx, cfg, bus, logger)
	startSheets(ctx, cfg, db, redisClient, bus, logger)
	startTelegram(ctx, cfg, db, bus, logger)

	go database.NewBackupService(cfg.Database.Path, cfg.Backup, logger).Start(ctx)

	hub := feed.NewHub(db, bus, logger)
	defer hub.Close()

	provider := session.NewProvider(session.NewVerifier(cfg.Session), db, cfg.Admins, logger)
	schedule := service.NewScheduleService(db, logger)

	svc := api.Services{
		Catalog:    service.NewCatalogService(db, logger),
		Schedule:   schedule,
		Booking:    service.NewBookingService(db, schedule, idempotencyKeys(redisClient, logger), cfg.Booking.IdempotencyTTL, logger),
		Moderation: service.NewModerationService(db, logger),
		Dashboard:  service.NewDashboardService(db, db),
		Location:   service.NewLocationService(db, logger),
		Profile:    service.NewProfileService(db),
		Users:      service.NewUserService(db, provider, logger),
		Feeds:      hub,
		Sessions:   provider,
	}
	httpServer := api.NewHTTPServer(cfg.API, cfg.Exports, svc, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, db, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	startMetrics(ctx, cfg, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// idempotencyKeys prefers the shared Redis key space and falls back to
// process memory while Redis is unreachable.
func idempotencyKeys(client *redis.Client, logger *zerolog.Logger) domain.IdempotencyRepository {
	memory := repository.NewMemoryIdempotencyRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverIdempotencyRepository(repository.NewRedisIdempotencyRepository(client), memory, logger)
}

func startRelay(ctx context.Context, cfg *config.Config, client *redis.Client, bus *events.EventBus, logger *zerolog.Logger) {
	if client == nil || cfg.Redis.RelayDisabled {
		return
	}

	relay := events.NewRedisRelay(client, bus, cfg.Redis.RelayChannel, logging.Component(logger, "relay"))
	go func() {
		if err := relay.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("event relay stopped")
		}
	}()
}

func startKafka(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if len(cfg.Kafka.Brokers) == 0 {
		return
	}

	forwarder := events.NewKafkaForwarder(
		events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
		0,
		logging.Component(logger, "kafka"),
	)
	bus.Subscribe(forwarder.Handle, events.AppointmentEventTypes...)
	go forwarder.Run(ctx)

	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka forwarding enabled")
}

func startSheets(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	client *redis.Client,
	bus *events.EventBus,
	logger *zerolog.Logger,
) {
	if cfg.Google.CredentialsFile == "" || cfg.Google.SpreadsheetID == "" {
		return
	}

	sheets, err := google.NewSheetsClient(ctx, cfg.Google)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return
	}

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := sheets.TestConnection(initCtx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, tasks will retry")
	} else {
		if err := sheets.EnsureHeader(initCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to write sheet header")
		}
		if err := sheets.WarmUpCache(initCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to warm up sheet row cache")
		}
	}

	w := worker.NewSheetsWorker(db, sheets, client, worker.DefaultRetryPolicy(), logger)
	w.Subscribe(bus)
	go w.Start(ctx)

	logger.Info().Str("spreadsheet", cfg.Google.SpreadsheetID).Msg("google sheets mirroring enabled")
}

func startTelegram(ctx context.Context, cfg *config.Config, db *database.DB, bus *events.EventBus, logger *zerolog.Logger) {
	if cfg.Telegram.BotToken == "" {
		return
	}

	sender, err := notify.NewTelegramSender(cfg.Telegram)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}

	notifier := notify.NewTelegramNotifier(sender, db, cfg.Telegram.AdminChats, logger)
	notifier.Subscribe(bus)
	go notifier.Start(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)

	if grpcServer != nil {
		go grpcServer.WatchHealth(ctx, 0)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		logger.Info().Str("grpc_addr", grpcServer.Addr()).Msg("grpc health server started")
	}

	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("http server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
