// Package bootstrap wires configuration, backing stores, adapters, and
// services into runnable API and worker processes.
package bootstrap

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"ingest_server/adapter/out/cache"
	"ingest_server/adapter/out/mongodb"
	"ingest_server/adapter/out/persistence"
	"ingest_server/adapter/out/provider"
	"ingest_server/adapter/out/storage"
	"ingest_server/config"
	"ingest_server/core/port/out"
	"ingest_server/core/service/auth"
	"ingest_server/core/service/ingest"
	"ingest_server/infra/database"
	"ingest_server/pkg/logger"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Adapters
	TokenProvider  *auth.TokenProvider
	MailProvider   *provider.GraphAdapter
	ImageStore     *storage.LocalImageStore
	NewsletterRepo out.NewsletterRepository
	SeenCache      out.SeenCache
	ReportRepo     out.ReportRepository

	// Services
	Coordinator *ingest.Coordinator
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	fail := func(err error) (*Dependencies, func(), error) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		return nil, nil, err
	}

	// Database (pgxpool, used by health checks)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return fail(err)
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the newsletter adapter)
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		logger.Error("sqlx connection failed: %v", err)
		return fail(err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	deps.NewsletterRepo = persistence.NewNewsletterAdapter(sqlDB)

	// Redis seen cache (optional; dedup falls back to Postgres)
	deps.SeenCache = cache.NoopSeenCache{}
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed, dedup cache disabled: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			deps.SeenCache = cache.NewRedisSeenCache(redisClient)
		}
	}

	// MongoDB run-report history (optional)
	if cfg.MongoDBURL != "" {
		mongoClient, err := database.NewMongo(cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, run history disabled: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				mongoClient.Disconnect(context.Background())
			})

			reportAdapter := mongodb.NewReportAdapter(mongoClient.Database(cfg.MongoDBName))
			if err := reportAdapter.EnsureIndexes(context.Background()); err != nil {
				logger.Warn("Failed to ensure run report indexes: %v", err)
			}
			deps.ReportRepo = reportAdapter
		}
	}

	// OAuth token lifecycle
	deps.TokenProvider = auth.NewTokenProvider(auth.Options{
		ClientID:          cfg.MicrosoftClientID,
		ClientSecret:      cfg.MicrosoftClientSecret,
		TenantID:          cfg.MicrosoftTenantID,
		CachePath:         cfg.TokenCachePath,
		Account:           cfg.MailboxUser,
		DeviceAuthTimeout: cfg.DeviceAuthTimeout,
		Notify:            deviceCodeNotifier(),
	})

	// Graph mail provider
	deps.MailProvider = provider.NewGraphAdapter(&provider.GraphConfig{
		Mailbox:     cfg.MailboxUser,
		CallTimeout: cfg.CallTimeout,
	}, deps.TokenProvider)

	// Local image assets
	imageStore, err := storage.NewLocalImageStore(cfg.ImageDir, cfg.ImageURLPrefix)
	if err != nil {
		return fail(err)
	}
	deps.ImageStore = imageStore

	// Ingest coordinator
	deps.Coordinator = ingest.NewCoordinator(
		ingest.CoordinatorConfig{
			Folder: ingest.FolderSpec{
				ID:  cfg.FolderID,
				Ref: cfg.FolderRef,
			},
			MaxMessages: cfg.MaxMessages,
		},
		deps.MailProvider,
		ingest.NewSenderValidator(cfg.AllowedSenderDomains),
		ingest.NewLinkUnwrapper(cfg.RedirectorHosts, cfg.RedirectorParam),
		ingest.NewContentSanitizer(),
		deps.ImageStore,
		deps.NewsletterRepo,
		deps.SeenCache,
		deps.ReportRepo,
	)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}

// deviceCodeNotifier prints the verification URI and user code to the
// console so an operator can complete the device-code flow.
func deviceCodeNotifier() func(verificationURI, userCode string) {
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	return func(verificationURI, userCode string) {
		zlog.Warn().
			Str("verification_uri", verificationURI).
			Str("user_code", userCode).
			Msg("authorization required: open the URI and enter the code")
	}
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}

	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	if d.MongoDB != nil {
		if err := d.MongoDB.Ping(ctx, nil); err != nil {
			return err
		}
	}

	return nil
}
