package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	aliasrepo "github.com/Ramsey-B/fern/internal/repositories/alias"
	codesrepo "github.com/Ramsey-B/fern/internal/repositories/codes"
	linkrepo "github.com/Ramsey-B/fern/internal/repositories/entitylink"
	historicalrepo "github.com/Ramsey-B/fern/internal/repositories/historical"
	candidaterepo "github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	oprepo "github.com/Ramsey-B/fern/internal/repositories/mergeop"
	personrepo "github.com/Ramsey-B/fern/internal/repositories/person"
	placerepo "github.com/Ramsey-B/fern/internal/repositories/place"
	sourcerepo "github.com/Ramsey-B/fern/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/fern/pkg/classify"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/review"
	"github.com/Ramsey-B/fern/pkg/routes/candidates"
	"github.com/Ramsey-B/fern/pkg/routes/codes"
	"github.com/Ramsey-B/fern/pkg/routes/entities"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/merges"
	"github.com/Ramsey-B/fern/pkg/routes/sourcerecords"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}

	zapLogger := newZapLogger(cfg)
	defer zapLogger.Sync() //nolint:errcheck
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger ectologger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// database
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)
	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	db := database.NewDatabaseInstance(sqlxDB, logger)
	defer db.Close()

	// migrations
	driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// redis
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	locker := redis.NewLocker(redisClient, "fern:job:")

	// repositories
	sourceRepo := sourcerepo.NewRepository(db, logger)
	personRepo := personrepo.NewRepository(db, logger)
	placeRepo := placerepo.NewRepository(db, logger)
	aliasRepo := aliasrepo.NewRepository(db, logger)
	entityLinkRepo := linkrepo.NewRepository(db, logger)
	candidateRepo := candidaterepo.NewRepository(db, logger)
	mergeOpRepo := oprepo.NewRepository(db, logger)
	historicalRepo := historicalrepo.NewRepository(db, logger)
	codesRepo := codesrepo.NewRepository(db, logger)

	// domain services
	policy := classify.DefaultPolicy()
	policy.ActiveMonths = cfg.RecencyActiveMonths
	policy.ResurgenceMonths = cfg.RecencyResurgenceMonths
	policy.FadeMonths = cfg.RecencyFadeMonths
	policy.PromotionQualityFloor = cfg.QualityPromotionFloor
	policy.DemotionQualityGuard = cfg.QualityDemotionGuard
	classifier := classify.New(policy)
	matchEngine := matching.NewEngine(logger, sourceRepo, personRepo, aliasRepo, candidateRepo, matching.EngineConfig{
		Tier0ConfidenceEmail: cfg.Tier0ConfidenceEmail,
		Tier0ConfidencePhone: cfg.Tier0ConfidencePhone,
		Tier1Confidence:      cfg.Tier1Confidence,
		Tier2Confidence:      cfg.Tier2Confidence,
		Tier3Confidence:      cfg.Tier3Confidence,
		Tier0NameSimilarity:  cfg.Tier0NameSimilarity,
		Tier2NameSimilarity:  cfg.Tier2NameSimilarity,
		Tier3NameSimilarity:  cfg.Tier3NameSimilarity,
		BatchSize:            cfg.MatchBatchSize,
	})
	mergeEngine := merging.NewEngine(logger, personRepo, placeRepo, aliasRepo, entityLinkRepo, mergeOpRepo)
	reviewQueue := review.NewQueue(logger, candidateRepo, sourceRepo, mergeEngine)

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaEventsTopic != "" {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaEventsTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
	}
	emitter := events.NewEmitter(producer, logger)

	intake := processor.NewIntake(logger, sourceRepo)
	generator := processor.NewGenerator(logger, matchEngine, reviewQueue, locker, processor.GeneratorConfig{
		BatchSize:         cfg.MatchBatchSize,
		LockTTL:           cfg.JobLockTTL,
		AutoAcceptEnabled: cfg.AutoAcceptEnabled,
	})

	// dependency container for route handlers
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	registrations := []error{
		ectoinject.RegisterInstance[ectologger.Logger](container, logger),
		ectoinject.RegisterInstance[*sourcerepo.Repository](container, sourceRepo),
		ectoinject.RegisterInstance[*personrepo.Repository](container, personRepo),
		ectoinject.RegisterInstance[*placerepo.Repository](container, placeRepo),
		ectoinject.RegisterInstance[*aliasrepo.Repository](container, aliasRepo),
		ectoinject.RegisterInstance[*linkrepo.Repository](container, entityLinkRepo),
		ectoinject.RegisterInstance[*candidaterepo.Repository](container, candidateRepo),
		ectoinject.RegisterInstance[*oprepo.Repository](container, mergeOpRepo),
		ectoinject.RegisterInstance[*historicalrepo.Repository](container, historicalRepo),
		ectoinject.RegisterInstance[*codesrepo.Repository](container, codesRepo),
		ectoinject.RegisterInstance[*classify.Classifier](container, classifier),
		ectoinject.RegisterInstance[*merging.Engine](container, mergeEngine),
		ectoinject.RegisterInstance[*review.Queue](container, reviewQueue),
		ectoinject.RegisterInstance[*events.Emitter](container, emitter),
		ectoinject.RegisterInstance[*processor.Intake](container, intake),
		ectoinject.RegisterInstance[*processor.Generator](container, generator),
	}
	for _, err := range registrations {
		if err != nil {
			return fmt.Errorf("failed to register dependency: %w", err)
		}
	}

	// background workers
	workers := startup.New(logger, cfg.StartupMaxAttempts)
	if cfg.KafkaConsumerEnabled {
		consumer := kafka.NewConsumer(cfg, logger, intake.HandleMessage)
		workers.Add(startup.Func{
			Name:    "intake-consumer",
			StartFn: consumer.Start,
			StopFn:  func(context.Context) error { return consumer.Stop() },
		})
	}
	workers.Add(startup.Func{
		Name:  "candidate-generator",
		Needs: workerNeeds(cfg),
		StartFn: func(ctx context.Context) error {
			generator.Start(ctx)
			return nil
		},
		StopFn: func(context.Context) error {
			generator.Stop()
			return nil
		},
	})
	if err := workers.Start(ctx); err != nil {
		return err
	}
	defer workers.Stop(context.Background())

	// http server
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.HTTPErrorHandler = middleware.Error(logger)

	checker := health.NewChecker(db, redisClient, version)
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	sourcerecords.Register(api.Group("/source-records"))
	candidates.Register(api.Group("/candidates"))
	merges.Register(api.Group("/merges"))
	entities.Register(api.Group("/entities"))
	codes.Register(api.Group("/codes"))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()
	checker.SetReady(true)
	logger.WithFields(map[string]any{"port": cfg.Port, "version": version}).Info("Service started")

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down http server cleanly")
	}

	return nil
}

// workerNeeds orders the generator after the consumer when both run, so
// intake backlog drains before the first generation pass.
func workerNeeds(cfg config.Config) []string {
	if cfg.KafkaConsumerEnabled {
		return []string{"intake-consumer"}
	}
	return nil
}

func newZapLogger(cfg config.Config) *zap.Logger {
	if cfg.PrettyLogs {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
