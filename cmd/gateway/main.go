package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/replydesk/aigateway/internal/api"
	"github.com/replydesk/aigateway/internal/budget"
	"github.com/replydesk/aigateway/internal/cache"
	"github.com/replydesk/aigateway/internal/circuitbreaker"
	"github.com/replydesk/aigateway/internal/config"
	"github.com/replydesk/aigateway/internal/crypto"
	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/gateway"
	"github.com/replydesk/aigateway/internal/httputil"
	"github.com/replydesk/aigateway/internal/notifications"
	"github.com/replydesk/aigateway/internal/pricing"
	"github.com/replydesk/aigateway/internal/provider"
	"github.com/replydesk/aigateway/internal/provider/anthropic"
	"github.com/replydesk/aigateway/internal/provider/bedrock"
	"github.com/replydesk/aigateway/internal/provider/openaicompat"
	"github.com/replydesk/aigateway/internal/ratelimit"
	"github.com/replydesk/aigateway/internal/secrets"
	"github.com/replydesk/aigateway/internal/telemetry"
	"github.com/replydesk/aigateway/internal/tenantcfg"
	"github.com/replydesk/aigateway/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting gateway", "addr", cfg.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, "aigateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to redis")
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to postgres")
	}

	resolver := buildSecretResolver(ctx, cfg)
	tenants := buildTenantStore(cfg, db)
	ledger, policies, monitor := buildLedger(cfg, db, redisClient)
	responseCache := buildCache(redisClient)

	notifier := buildNotifier(ctx, cfg)
	monitor.OnAlert(budget.LogAlertHandler)
	if notifier != nil {
		monitor.OnAlert(notifications.BudgetAlertHandler(notifier))
	}

	var usageStore usage.Store
	if db != nil {
		usageStore = usage.NewPostgresStore(db)
	} else {
		slog.Info("using in-memory usage store")
		usageStore = usage.NewInMemoryStore()
	}

	recorder := buildRecorder(ctx, cfg, usageStore, ledger, notifier)
	defer recorder.Close()

	registry := buildRegistry(ctx, cfg)

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())

	gw := gateway.New(gateway.Config{
		Tenants:         tenants,
		Secrets:         resolver,
		Ledger:          ledger,
		Cache:           responseCache,
		Registry:        registry,
		Breakers:        breakers,
		Pricing:         pricing.NewTable(),
		Recorder:        recorder,
		CacheTTL:        cfg.CacheTTL,
		ProviderTimeout: cfg.ProviderTimeout,
	})

	var rateLimiter ratelimit.Limiter
	if redisClient != nil {
		rateLimiter = ratelimit.NewRedisLimiter(redisClient)
	} else {
		rateLimiter = ratelimit.NewInMemoryLimiter()
	}

	var checkers []api.HealthChecker
	if redisClient != nil {
		checkers = append(checkers, api.NewRedisHealthChecker(redisClient))
	}
	if db != nil {
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
	}

	admin := api.NewAdminHandler(ledger, policies, usageStore, responseCache, tenants)

	handler := api.NewHandler(api.HandlerConfig{
		Gateway:      gw,
		RateLimiter:  rateLimiter,
		RateLimitRPM: cfg.RateLimitRPM,
		Admin:        admin,
		Health:       api.HealthCheckConfig{Checkers: checkers, Timeout: 5 * time.Second},
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := telemetryShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

func buildSecretResolver(ctx context.Context, cfg *config.Config) secrets.Resolver {
	chain := secrets.NewChainResolver()

	if cfg.AWSRegion != "" {
		awsResolver, err := secrets.NewAWSResolver(ctx, cfg.AWSRegion, cfg.SecretCacheTTL)
		if err != nil {
			slog.Error("failed to init aws secrets resolver", "error", err)
			os.Exit(1)
		}
		chain.Register("aws", awsResolver)
		slog.Info("registered secret resolver", "scheme", "aws")
	}

	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("failed to init encryptor", "error", err)
			os.Exit(1)
		}
		chain.Register("enc", secrets.NewEncryptedResolver(enc))
		slog.Info("registered secret resolver", "scheme", "enc")
	}

	return chain
}

func buildTenantStore(cfg *config.Config, db *sql.DB) tenantcfg.Store {
	if db == nil {
		slog.Info("using in-memory tenant config store")
		return tenantcfg.NewInMemoryStore()
	}
	return tenantcfg.NewCached(tenantcfg.NewPostgresStore(db), cfg.ConfigCacheTTL)
}

func buildLedger(cfg *config.Config, db *sql.DB, redisClient *redis.Client) (*budget.Ledger, budget.PolicyStore, *budget.Monitor) {
	var policies budget.PolicyStore
	if db != nil {
		policies = budget.NewPostgresPolicyStore(db)
	} else {
		slog.Info("using in-memory budget policy store")
		policies = budget.NewInMemoryPolicyStore()
	}

	var counter budget.Counter
	var dedup budget.Deduplicator
	if redisClient != nil {
		counter = budget.NewRedisCounterWithClient(redisClient)
		dedup = budget.NewRedisDeduplicator(redisClient, time.Hour)
	} else {
		slog.Info("using in-memory budget counter")
		counter = budget.NewMemoryCounter()
		dedup = budget.NewInMemoryDeduplicator()
	}

	monitor := budget.NewMonitor(budget.DefaultThresholds(), dedup)
	return budget.NewLedger(policies, counter, monitor), policies, monitor
}

func buildCache(redisClient *redis.Client) cache.Cache {
	if redisClient != nil {
		slog.Info("using redis response cache")
		return cache.NewRedisCacheWithClient(redisClient)
	}
	slog.Info("using in-memory response cache")
	return cache.NewInMemoryCache()
}

func buildNotifier(ctx context.Context, cfg *config.Config) notifications.Notifier {
	if cfg.AlertTopicARN == "" || cfg.AWSRegion == "" {
		return nil
	}
	notifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
	if err != nil {
		slog.Error("failed to init sns notifier", "error", err)
		os.Exit(1)
	}
	slog.Info("sns notifications enabled", "topic", cfg.AlertTopicARN)
	return notifier
}

func buildRecorder(ctx context.Context, cfg *config.Config, store usage.Store, ledger *budget.Ledger, notifier notifications.Notifier) *usage.Recorder {
	opts := []usage.RecorderOption{}

	if cfg.UsageQueueURL != "" && cfg.AWSRegion != "" {
		sink, err := usage.NewSQSSink(ctx, cfg.AWSRegion, cfg.UsageQueueURL)
		if err != nil {
			slog.Error("failed to init sqs sink", "error", err)
			os.Exit(1)
		}
		opts = append(opts, usage.WithSink(sink))
		slog.Info("sqs usage export enabled", "queue", cfg.UsageQueueURL)
	}

	if notifier != nil {
		opts = append(opts, usage.WithErrorHandler(func(ctx context.Context, record domain.UsageRecord, err error) {
			sendErr := notifier.Send(ctx, notifications.Notification{
				Type:     notifications.NotificationUsagePersistFailed,
				TenantID: record.TenantID,
				Message:  "usage record could not be persisted",
				Data: map[string]any{
					"request_id": record.RequestID,
					"error":      err.Error(),
				},
			})
			if sendErr != nil {
				slog.Error("failed to send persist-failure notification", "error", sendErr)
			}
		}))
	}

	return usage.NewRecorder(store, ledger, opts...)
}

func buildRegistry(ctx context.Context, cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()
	httpClient := httputil.DefaultClient()

	registry.Register("openai", func(credential string) provider.Provider {
		return openaicompat.New("openai", cfg.OpenAIBaseURL, credential, httpClient)
	})
	registry.Register("groq", func(credential string) provider.Provider {
		return openaicompat.New("groq", cfg.GroqBaseURL, credential, httpClient)
	})
	registry.Register("anthropic", func(credential string) provider.Provider {
		return anthropic.New(cfg.AnthropicBaseURL, credential, httpClient)
	})

	if cfg.AWSRegion != "" {
		bedrockClient, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to init bedrock client", "error", err)
			os.Exit(1)
		}
		registry.RegisterCredentialFree("bedrock", func(string) provider.Provider {
			return bedrockClient
		})
	}

	for _, name := range registry.Names() {
		slog.Info("registered provider", "provider", name)
	}

	return registry
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
