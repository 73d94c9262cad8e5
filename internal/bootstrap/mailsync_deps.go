package bootstrap

import (
	"context"
	"os"
	"strings"
	"time"

	"mailsync_server/adapter/in/worker"
	"mailsync_server/adapter/out/cache"
	"mailsync_server/adapter/out/categorizer"
	gmailadapter "mailsync_server/adapter/out/provider/gmail"
	"mailsync_server/adapter/out/messaging"
	"mailsync_server/adapter/out/mongodb"
	"mailsync_server/adapter/out/persistence"
	"mailsync_server/adapter/out/realtime"
	"mailsync_server/config"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/auth"
	"mailsync_server/core/service/categorize"
	"mailsync_server/core/service/notify"
	syncsvc "mailsync_server/core/service/sync"
	"mailsync_server/infra/database"
	"mailsync_server/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/oauth2"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	EmailRepo     out.EmailRepository
	BodyRepo      out.EmailBodyRepository
	SyncStateRepo out.SyncStateRepository
	TokenRepo     out.TokenRepository

	// Outbound adapters
	Cache       *cache.RedisCache
	Producer    out.MessageProducer
	QueueAdmin  out.QueueAdmin
	Provider    out.MailProvider
	Categorizer out.CategorizerPort

	// Realtime
	RealtimeAdapter *realtime.SSEAdapter
	SSEHub          *realtime.SSEHub

	// Services
	TokenService  *auth.TokenService
	Notifier      *notify.Notifier
	Pipeline      *syncsvc.Pipeline
	Orchestrator  *syncsvc.Orchestrator
	CategorizeSvc *categorize.Processor
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Database (pgxpool)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the persistence adapters). Simple protocol avoids
	// prepared statement conflicts behind PgBouncer.
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis connection failed: %v", err)
	} else {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })

		deps.Cache = cache.NewRedisCache(redisClient)
		deps.Producer = messaging.NewRedisProducer(redisClient)
		deps.QueueAdmin = messaging.NewRedisQueueAdmin(redisClient, consumerGroup)
	}

	// MongoDB (email bodies)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				mongoClient.Disconnect(context.Background())
			})

			bodyRepo, err := mongodb.NewBodyAdapter(mongoClient, cfg.MongoDBName)
			if err != nil {
				logger.Warn("MongoDB body store init failed: %v", err)
			} else {
				deps.BodyRepo = bodyRepo
			}
		}
	}

	// Repositories
	deps.EmailRepo = persistence.NewEmailAdapter(sqlDB)
	deps.SyncStateRepo = persistence.NewSyncStateAdapter(sqlDB)
	deps.TokenRepo = persistence.NewTokenAdapter(sqlDB)

	// Realtime (SSE)
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	deps.RealtimeAdapter = realtime.NewSSEAdapter(zlog)
	deps.SSEHub = realtime.NewSSEHub(deps.RealtimeAdapter, zlog)

	// Gmail provider
	deps.Provider = gmailadapter.NewAdapter()

	// Token service
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.readonly",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	deps.TokenService = auth.NewTokenService(deps.TokenRepo, oauthCfg)

	// Categorizer
	if cfg.CategorizerURL != "" {
		deps.Categorizer = categorizer.NewHTTPCategorizer(cfg.CategorizerURL, cfg.CategorizerAPIKey)
	} else {
		logger.Warn("CATEGORIZER_URL not set, emails will keep the fallback category")
	}

	// Notifier (cache + SSE fan-out)
	deps.Notifier = notify.NewNotifier(deps.Cache, deps.RealtimeAdapter)

	// Sync services
	deps.Pipeline = syncsvc.NewPipeline(
		deps.Provider,
		deps.EmailRepo,
		deps.BodyRepo,
		deps.Producer,
		deps.Notifier,
	)
	deps.Orchestrator = syncsvc.NewOrchestrator(
		deps.SyncStateRepo,
		deps.TokenService,
		deps.Provider,
		deps.Pipeline,
		deps.Producer,
		deps.Notifier,
	)

	// Categorization batch processor
	deps.CategorizeSvc = categorize.NewProcessor(deps.EmailRepo, deps.Categorizer, deps.Notifier)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}

// NewPool builds the worker pool from config.
func (d *Dependencies) NewPool(zlog zerolog.Logger) *worker.Pool {
	handler := worker.NewHandler(
		worker.NewSyncProcessor(d.Orchestrator, d.Producer),
		worker.NewCategorizeProcessor(d.CategorizeSvc),
	)

	poolConfig := worker.DefaultPoolConfig()
	if d.Config.WorkerMax > 0 {
		poolConfig.MaxWorkers = d.Config.WorkerMax
	}
	if d.Config.WorkerQueueSize > 0 {
		poolConfig.QueueSize = d.Config.WorkerQueueSize
	}
	if d.Config.WorkerJobTimeout > 0 {
		poolConfig.JobTimeout = d.Config.WorkerJobTimeout
	}

	return worker.NewPool(handler, poolConfig, zlog)
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
	return nil
}
