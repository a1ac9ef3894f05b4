package di

import (
	"context"
	"fmt"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/repository"
	"talenttrade/backend/internal/service"
	"talenttrade/backend/internal/ws"
	"talenttrade/backend/pkg/cache"
	"talenttrade/backend/pkg/config"
	"talenttrade/backend/pkg/events"
	"talenttrade/backend/pkg/health"
	"talenttrade/backend/pkg/jwt"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/redis"
	"talenttrade/backend/pkg/secrets"

	"gorm.io/gorm"
)

const healthCheckPeriod = 30 * time.Second

// Container holds all the dependencies for the application
type Container struct {
	Config     *config.Config
	DB         *gorm.DB
	Logger     *logger.Logger
	Store      *repository.Store
	Secrets    secrets.Manager
	JWTService *jwt.Service
	UserCache  *cache.Cache[models.User]
	Redis      *redis.Client
	LastSeen   redis.LastSeenStore
	Publisher  events.Publisher
	Identity   *service.IdentityService
	Chat       *service.ChatService
	Calls      *service.CallService
	Typing     *service.TypingRelay
	Hub        *ws.Hub
	Health     *health.Checker

	closers []func()
}

// New wires the application. db may be nil, in which case the in-memory
// store backs every repository.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		Health: health.NewChecker(log, healthCheckPeriod),
	}

	if db != nil {
		c.Store = repository.NewGormStore(db)
		c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
			return config.TestConnection(ctx, db)
		})
	} else {
		log.Warn("Using in-memory storage; data is lost on restart")
		c.Store = repository.NewMemoryStore()
	}

	manager, err := secrets.NewVaultManager(secrets.ConfigFrom(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise secrets: %w", err)
	}
	c.Secrets = manager
	c.JWTService = jwt.NewService(secrets.JWTSecret(ctx, manager, cfg.JWT.Secret), cfg.JWT.Expiry)

	if cfg.Cache.Enabled {
		c.UserCache = cache.New[models.User](cache.Options{
			TTL:             cfg.Cache.TTL,
			MaxItems:        cfg.Cache.MaxSize,
			CleanupInterval: cfg.Cache.PurgeWindow,
		})
		go c.UserCache.Run(ctx)
	}

	if cfg.Redis.Enabled {
		c.Redis = redis.NewClient(redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.LastSeen = redis.NewLastSeenStore(c.Redis, cfg.Redis.LastSeenTTL)
		c.Health.RegisterPing("redis", false, c.Redis.Ping)
		c.closers = append(c.closers, func() { c.Redis.Close() })
	} else {
		c.LastSeen = redis.NewMemoryLastSeen(cfg.Redis.LastSeenTTL, cfg.Cache.MaxSize)
	}

	c.Publisher = events.Noop{}
	if cfg.NATS.Enabled {
		publisher, err := events.Connect(events.Config{URL: cfg.NATS.URL, SubjectPrefix: cfg.NATS.SubjectPrefix}, log)
		if err != nil {
			log.LogError(err, "NATS unavailable, domain events disabled")
		} else {
			c.Publisher = publisher
			c.Health.RegisterPing("nats", false, publisher.Healthy)
		}
	}
	c.closers = append(c.closers, c.Publisher.Close)

	c.Hub = ws.NewHub(ws.OptionsFromConfig(cfg), log)
	c.Identity = service.NewIdentityService(c.Store.Users, c.JWTService, c.UserCache, log)
	c.Chat = service.NewChatService(
		c.Store.Exchanges,
		c.Store.Messages,
		c.Identity,
		c.Hub,
		c.Publisher,
		service.ChatConfig{MaxBodyLength: cfg.Chat.MaxBodyLength, PreviewLength: cfg.Chat.PreviewLength},
		log,
	)
	c.Calls = service.NewCallService(c.Store.Exchanges, c.Store.Calls, c.Hub, c.Publisher, log)
	c.Typing = service.NewTypingRelay(c.Hub)
	c.Hub.Bind(ws.Services{
		Verifier: c.Identity,
		Chat:     c.Chat,
		Calls:    c.Calls,
		Typing:   c.Typing,
		LastSeen: c.LastSeen,
	})

	return c, nil
}

// Close releases broker and cache connections
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
