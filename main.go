package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"devconnect/config"
	"devconnect/database"
	"devconnect/handlers"
	"devconnect/identity"
	"devconnect/logger"
	"devconnect/middleware"
	"devconnect/monitoring"
	"devconnect/otp"
	"devconnect/push"
	"devconnect/ratelimit"
	"devconnect/repository"
	"devconnect/routes"
	"devconnect/services"
	"devconnect/tracing"
	"devconnect/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		_ = logger.Init("development")
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if err := logger.Init(cfg.Env); err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting devconnect", zap.String("env", cfg.Env), zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitoring.Init(cfg.SentryDSN, cfg.Env, version); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer monitoring.Flush(2 * time.Second)

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// ===== MONGODB =====
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := database.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTransactions)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := store.EnsureIndexes(indexCtx); err != nil {
		logger.Error("index creation failed", zap.Error(err))
	}
	cancel()

	users := repository.NewUserRepository(store)
	accounts := repository.NewAccountRepository(store)

	// ===== REDIS (optional) =====
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without it", zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		}
		cancel()
	}

	resolver := identity.NewResolver(users, accounts)
	if rdb != nil {
		resolver = resolver.WithCache(rdb, cfg.IdentityCacheTTL)
	}

	// ===== WEBSOCKET =====
	tokens := middleware.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	wsOpts := []websocket.Option{websocket.WithPresenceStore(users)}
	if rdb != nil {
		wsOpts = append(wsOpts,
			websocket.WithBridge(websocket.NewRedisBridge(rdb, websocket.DefaultChannel)),
			websocket.WithPresenceTracker(websocket.NewRedisPresence(rdb, "")),
		)
	}
	hub := websocket.NewManager(tokens.ParseToken, resolver, wsOpts...)
	go hub.Start(ctx)

	// ===== SERVICES =====
	pusher, err := push.NewSender(repository.NewPushRepository(store), push.Keys{
		Public:     cfg.VAPIDPublicKey,
		Private:    cfg.VAPIDPrivateKey,
		Subscriber: cfg.VAPIDSubscriber,
	})
	if err != nil {
		logger.Fatal("push setup failed", zap.Error(err))
	}

	fanout := services.NewFanout(hub, resolver, hub, pusher)
	posts := repository.NewPostRepository(store)
	notifications := services.NewNotificationService(repository.NewNotificationRepository(store), fanout)
	messages := services.NewMessageService(repository.NewMessageRepository(store), users, repository.NewAuditRepository(store), store, fanout)
	follows := services.NewFollowService(repository.NewFollowRepository(store), users, notifications, store, fanout)
	polls := services.NewPollService(repository.NewPollRepository(store), posts, store, fanout)
	postService := services.NewPostService(posts, users, notifications, store, fanout)
	profiles := services.NewUserService(users, fanout)
	groups := services.NewGroupService(repository.NewGroupRepository(store), fanout)
	auth := services.NewAuthService(
		repository.NewOTPRepository(store),
		users,
		otp.NewSender(otp.Config{
			Token:         cfg.WhatsAppToken,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			APIURL:        cfg.WhatsAppAPIURL,
			Template:      cfg.WhatsAppTemplate,
			Production:    cfg.IsProduction(),
		}),
		tokens,
		cfg.OTPTTL,
		cfg.OTPMaxAttempts,
	)
	var accountHandler *handlers.AccountHandler
	if cfg.GoogleLinkingEnabled() {
		linker := identity.NewGoogleLinker(
			identity.NewGoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL),
			accounts,
			resolver,
		)
		accountHandler = handlers.NewAccountHandler(linker, tokens)
	} else {
		logger.Info("google account linking disabled: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set")
	}

	// ===== ROUTER =====
	gin.SetMode(cfg.GinMode)
	limiter := ratelimit.PerMinute(cfg.RateLimitPerMinute)
	go sweep(ctx, limiter, auth)

	router := routes.SetupRouter(routes.Config{
		ServiceName: tracing.ServiceName,
		CORSOrigins: cfg.CORSOrigins,
		Tokens:      tokens,
		Limiter:     limiter,
		WebSocket:   http.HandlerFunc(hub.ServeWS),
	}, routes.Handlers{
		Messages:      handlers.NewMessageHandler(messages),
		Notifications: handlers.NewNotificationHandler(notifications),
		Follows:       handlers.NewFollowHandler(follows),
		Polls:         handlers.NewPollHandler(polls),
		Posts:         handlers.NewPostHandler(postService),
		Groups:        handlers.NewGroupHandler(groups),
		Push:          handlers.NewPushHandler(pusher),
		Auth:          handlers.NewAuthHandler(auth),
		Accounts:      accountHandler,
		Users:         handlers.NewUserHandler(profiles),
		Health:        handlers.NewHealthHandler(store, hub),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ===== GRACEFUL SHUTDOWN =====
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	pusher.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := store.Disconnect(shutdownCtx); err != nil {
		logger.Warn("mongo disconnect", zap.Error(err))
	}
	logger.Info("server stopped")
}

type sweeper interface {
	Sweep() int
}

// sweep periodically drops idle rate-limit buckets: per-IP on the router, per-phone in auth.
func sweep(ctx context.Context, sweepers ...sweeper) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			for _, s := range sweepers {
				removed += s.Sweep()
			}
			logger.Debug("rate limit sweep", zap.Int("removed", removed))
		}
	}
}
