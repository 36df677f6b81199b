// Package di wires the gateway's components together at startup.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/spb722/ai-companion/internal/api"
	"github.com/spb722/ai-companion/internal/chat"
	"github.com/spb722/ai-companion/internal/history"
	"github.com/spb722/ai-companion/internal/llm"
	"github.com/spb722/ai-companion/internal/prompt"
	"github.com/spb722/ai-companion/internal/quota"
	"github.com/spb722/ai-companion/internal/ratelimit"
	"github.com/spb722/ai-companion/internal/repository"
	"github.com/spb722/ai-companion/internal/ws"
	"github.com/spb722/ai-companion/pkg/config"
	"github.com/spb722/ai-companion/pkg/health"
	"github.com/spb722/ai-companion/pkg/jwt"
	"github.com/spb722/ai-companion/pkg/kv"
	"github.com/spb722/ai-companion/pkg/logger"
	"github.com/spb722/ai-companion/pkg/secrets"

	"gorm.io/gorm"
)

// Container holds every long-lived component of the gateway
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *gorm.DB
	Store  kv.Store

	JWTService *jwt.Service

	Users         *repository.UserRepository
	Characters    *repository.CharacterRepository
	Conversations *repository.ConversationRepository

	RateLimiter  *ratelimit.Limiter
	QuotaTracker *quota.Tracker
	History      *history.Cache
	Engine       *llm.Engine
	ChatService  *chat.Service

	AuthHandler      *api.AuthHandler
	CharacterHandler *api.CharacterHandler
	ChatHandler      *api.ChatHandler
	QuotaHandler     *api.QuotaHandler
	BillingHandler   *api.BillingHandler
	AdminHandler     *api.AdminHandler
	WSHandler        *ws.Handler

	Health *health.Checker
}

// New builds the container from configuration, an open database handle and a
// key-value store.
func New(cfg *config.Config, log *logger.Logger, db *gorm.DB, store kv.Store) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: log,
		DB:     db,
		Store:  store,
	}

	ctx := context.Background()
	jwtSecret := secrets.GetSecretWithDefault(ctx, "JWT_SECRET", cfg.JWT.Secret)
	c.JWTService = jwt.NewService(jwtSecret, cfg.JWT.Expiry)

	c.Users = repository.NewUserRepository(db)
	c.Characters = repository.NewCharacterRepository(db)
	c.Conversations = repository.NewConversationRepository(db)

	c.RateLimiter = ratelimit.New(store, cfg.Security.RateLimit, cfg.Security.RateLimitWindow, log)
	c.QuotaTracker = quota.NewTracker(store, cfg)
	c.History = history.NewCache(store, c.Conversations, history.Options{
		TTL:         cfg.Cache.TTL,
		TokenBudget: cfg.Cache.TokenBudget,
		MaxMessages: cfg.Cache.MaxMessages,
		Enabled:     cfg.Cache.Enabled,
	}, log)

	engine, err := buildEngine(ctx, cfg, store, log)
	if err != nil {
		return nil, err
	}
	c.Engine = engine

	builder := prompt.NewBuilder(cfg.LLM.MaxCompletionTokens)
	c.ChatService = chat.NewService(store, c.Characters, c.Conversations, c.History,
		c.QuotaTracker, engine, builder, log)

	c.AuthHandler = api.NewAuthHandler(c.Users, c.JWTService, log)
	c.CharacterHandler = api.NewCharacterHandler(c.Characters, c.Users, c.ChatService)
	c.ChatHandler = api.NewChatHandler(c.ChatService, c.Users, engine, log)
	c.QuotaHandler = api.NewQuotaHandler(c.QuotaTracker, c.Users)
	c.BillingHandler = api.NewBillingHandler(c.Users, c.QuotaTracker, cfg, log)
	c.AdminHandler = api.NewAdminHandler(engine, log)
	c.WSHandler = ws.NewHandler(c.ChatService, c.Users, log)

	c.Health = buildHealth(cfg, log, db, store)
	return c, nil
}

func buildEngine(ctx context.Context, cfg *config.Config, store kv.Store, log *logger.Logger) (*llm.Engine, error) {
	if len(cfg.LLM.Providers) == 0 {
		return nil, fmt.Errorf("di: no LLM providers configured; set GROQ_API_KEY or OPENAI_API_KEY")
	}

	providers := make([]llm.Provider, 0, len(cfg.LLM.Providers))
	priorities := make(map[string]int, len(cfg.LLM.Providers))
	for _, pc := range cfg.LLM.Providers {
		// Provider keys resolve through the secrets manager so Vault can
		// rotate them without an environment change.
		pc.APIKey = secrets.GetSecretWithDefault(ctx, providerKeyName(pc.Name), pc.APIKey)
		providers = append(providers, llm.NewOpenAIProvider(pc, cfg.LLM.RequestTimeout, cfg.LLM.FragmentTimeout, log))
		priorities[pc.Name] = pc.Priority
	}

	healthTracker := llm.NewHealth(store, cfg.LLM.DegradeThreshold, cfg.LLM.DegradeCooldown)
	return llm.NewEngine(providers, priorities, healthTracker, cfg.LLM.RetryBudget, log), nil
}

func providerKeyName(name string) string {
	switch name {
	case "groq":
		return "GROQ_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

func buildHealth(cfg *config.Config, log *logger.Logger, db *gorm.DB, store kv.Store) *health.Checker {
	checker := health.NewChecker(log, 30*time.Second)

	checker.Register("database", true, func(ctx context.Context) (health.Status, string, error) {
		sqlDB, err := db.DB()
		if err != nil {
			return health.StatusDown, "Database handle unavailable", err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return health.StatusDown, "Database ping failed", err
		}
		return health.StatusUp, "Database connection is established", nil
	})

	checker.Register("kv", false, func(ctx context.Context) (health.Status, string, error) {
		if err := store.Ping(ctx); err != nil {
			return health.StatusDegraded, "Key-value store unreachable; rate limiting degraded", err
		}
		return health.StatusUp, "Key-value store is reachable", nil
	})

	checker.Register("providers", false, func(ctx context.Context) (health.Status, string, error) {
		if len(cfg.LLM.Providers) == 0 {
			return health.StatusDown, "No LLM providers configured", nil
		}
		return health.StatusUp, fmt.Sprintf("%d providers configured", len(cfg.LLM.Providers)), nil
	})

	return checker
}
