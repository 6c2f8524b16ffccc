package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firdaus0729/casino-frontend/internal/blocksource"
	"github.com/firdaus0729/casino-frontend/internal/config"
	"github.com/firdaus0729/casino-frontend/internal/handlers"
	"github.com/firdaus0729/casino-frontend/internal/logger"
	"github.com/firdaus0729/casino-frontend/internal/metrics"
	"github.com/firdaus0729/casino-frontend/internal/models"
	"github.com/firdaus0729/casino-frontend/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("service stopped with error", zap.Error(err))
	}
	zl.Info("service stopped")
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	source, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	wsHandler := handlers.NewWebSocketHandler(zl)
	sinks := services.MultiBroadcaster{services.NewLogSink(zl), wsHandler}

	if cfg.KafkaBrokers != "" {
		kafkaSink := services.NewKafkaSink(services.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		zl.Info("publishing events to kafka", zap.String("topic", cfg.KafkaTopic))
	}

	if cfg.PostgresDSN != "" {
		db, err := services.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		archive, err := services.NewPostgresArchive(ctx, db)
		if err != nil {
			return err
		}
		sinks = append(sinks, archive)
		zl.Info("archiving rounds to postgres")
	}

	var alerter services.Alerter = services.NewLogAlerter(zl)
	if cfg.AlertWebhookURL != "" {
		alerter = services.NewWebhookAlerter(cfg.AlertWebhookURL, zl)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	games := make([]models.GameType, 0, len(cfg.Games))
	for _, g := range cfg.Games {
		gt, err := models.ParseGameType(g)
		if err != nil {
			return err
		}
		games = append(games, gt)
	}

	engine, err := services.NewEngine(games, source, store, sinks, alerter, services.NewMetrics(reg), zl, services.EngineConfig{
		Tracker: services.TrackerConfig{
			Stride:         cfg.Stride,
			CloseOffset:    cfg.CloseOffset,
			BlockInterval:  cfg.BlockInterval,
			PollInterval:   cfg.PollInterval,
			BackoffMin:     cfg.BackoffMin,
			BackoffMax:     cfg.BackoffMax,
			StallTimeout:   cfg.StallTimeout,
			PendingTimeout: cfg.PendingTimeout,
		},
		Confirmations:  cfg.Confirmations,
		SettleInterval: cfg.SettleInterval,
		Limits: services.BetLimits{
			Min:        cfg.MinBet,
			Max:        cfg.MaxBet,
			Currencies: cfg.Currencies,
		},
		BetsPerMinute: cfg.BetsPerMinute,
		ExplorerURL:   cfg.ExplorerURL,
	})
	if err != nil {
		return err
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(zl))
	handlers.RegisterRoutes(router,
		handlers.NewGameHandler(engine, zl),
		handlers.NewUserHandler(engine),
		wsHandler,
		services.NewJWTService(cfg.JWTSecret),
		store,
	)

	apiServer := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := metrics.NewServer(cfg.MetricsPort, reg, engine.Ping)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return wsHandler.Run(ctx) })
	g.Go(func() error { return serve(ctx, apiServer, zl.Named("api")) })
	g.Go(func() error { return serve(ctx, metricsServer, zl.Named("metrics")) })

	zl.Info("service started",
		zap.String("port", cfg.Port),
		zap.String("metrics_port", cfg.MetricsPort),
		zap.String("store", cfg.StoreBackend),
		zap.String("block_source", source.Name()),
		zap.Strings("games", cfg.Games))

	return g.Wait()
}

func openStore(cfg *config.Config) (services.RoundStore, error) {
	if cfg.StoreBackend == "memory" {
		return services.NewMemoryStore(), nil
	}
	rs, err := services.NewRedisService(cfg)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func openSource(ctx context.Context, cfg *config.Config) (blocksource.Source, func(), error) {
	if cfg.BlockSource == "evm" {
		src, err := blocksource.DialEVM(ctx, cfg.EVMRPCURL)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}
	return blocksource.NewTronSource(cfg.TronAPIURL, cfg.TronAPIKey, cfg.SourceTimeout), func() {}, nil
}

// serve runs srv until ctx is cancelled, then drains it.
func serve(ctx context.Context, srv *http.Server, zl *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		zl.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(zl *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zl.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
