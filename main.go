package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/open-gamma/backend/internal/authstate"
	"github.com/open-gamma/backend/internal/client"
	"github.com/open-gamma/backend/internal/config"
	"github.com/open-gamma/backend/internal/db"
	"github.com/open-gamma/backend/internal/handler"
	"github.com/open-gamma/backend/internal/metrics"
	"github.com/open-gamma/backend/internal/ratelimit"
	"github.com/open-gamma/backend/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// @title open-gamma API
// @version 1.0
// @description Presentation agent backend: account linking, chat streaming and chat history.
// @BasePath /
// @securityDefinitions.apikey SessionCookie
// @in cookie
// @name open_gamma_session
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

func setupLogging(cfg config.Config) {
	if cfg.IsProduction() {
		log.SetFormatter(&log.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	// Route gin's own debug and error output into the same log stream.
	gin.DefaultWriter = log.StandardLogger().WriterLevel(log.DebugLevel)
	gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
}

func run(ctx context.Context, cfg config.Config) error {
	keys, err := service.DeriveKeys(cfg.Auth.Secret)
	if err != nil {
		return err
	}
	codec, err := authstate.NewCodec(keys.State)
	if err != nil {
		return err
	}

	var guard authstate.ReplayGuard = authstate.NewMemoryReplayGuard(nil)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		guard = authstate.NewRedisReplayGuard(rdb)
		log.Info("Using Redis for auth state replay protection")
	}

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	pg := &db.Postgres{Pool: pool}
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	models, err := buildModels(ctx, cfg.Models)
	if err != nil {
		return err
	}

	sessionSvc, err := service.NewSessionService(keys.Session, cfg.Auth, cfg.IsProduction())
	if err != nil {
		return err
	}
	composio := client.NewComposioClient(cfg.Composio)
	linkSvc, err := service.NewLinkService(codec, guard, composio, pg, cfg, m)
	if err != nil {
		return err
	}
	chatSvc := service.NewChatService(models, cfg.Models.DefaultModel, composio, m)
	historySvc := service.NewChatHistoryService(pg)
	limiter := ratelimit.New()

	router := gin.New()
	router.Use(handler.RequestLogger(), handler.Recovery())
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, true))

	router.GET("/ping", handler.Ping)
	router.GET("/", handler.Root)
	router.GET("/healthz", handler.Healthz(pg))
	router.GET("/openapi.json", handler.OpenAPIDoc)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	authHandler := handler.NewAuthHandler(linkSvc, sessionSvc)
	authMW := handler.AuthMiddleware(sessionSvc)

	v1 := router.Group("/api/v1")
	v1.GET("/models", handler.ListModels(chatSvc))

	auth := v1.Group("/auth")
	auth.POST("/link", authHandler.Link)
	auth.POST("/verify", authHandler.Verify)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", authMW, authHandler.Me)

	chatsHandler := handler.NewChatsHandler(historySvc)
	chats := v1.Group("/chats", authMW)
	chats.GET("", chatsHandler.GetChats)
	chats.POST("", chatsHandler.CreateChat)
	chats.GET("/:id", chatsHandler.GetChat)
	chats.PUT("/:id", chatsHandler.UpdateChat)
	chats.DELETE("/:id", chatsHandler.DeleteChat)
	chats.POST("/:id/messages", chatsHandler.SaveMessages)

	router.POST("/api/chat", authMW, handler.RateLimitMiddleware(limiter, m), handler.NewChatHandler(chatSvc).Chat)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildModels registers a provider for every API key that is set.
func buildModels(ctx context.Context, cfg config.ModelConfig) (service.ModelSet, error) {
	models := service.ModelSet{}
	if cfg.OpenAIAPIKey != "" {
		models["openai"] = client.NewOpenAIModel(cfg.OpenAIAPIKey, "")
	}
	if cfg.AnthropicAPIKey != "" {
		models["anthropic"] = client.NewAnthropicModel(cfg.AnthropicAPIKey, "")
	}
	if cfg.GoogleAPIKey != "" {
		google, err := client.NewGoogleModel(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		models["google"] = google
	}
	if len(models) == 0 {
		log.Warn("No model provider API key configured, /api/chat will fail")
	}
	return models, nil
}
