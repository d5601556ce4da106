package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/Sonket19/AI-Pitch-Lens/ai"
	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/handler"
	"github.com/Sonket19/AI-Pitch-Lens/middleware"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
	"github.com/Sonket19/AI-Pitch-Lens/service"
	"github.com/Sonket19/AI-Pitch-Lens/session"
)

func main() {
	defaultPath := os.Getenv("PITCHLENS_CONFIG")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "store", cfg.Store.Driver, "session", cfg.Session.Driver)

	if err := run(cfg); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Deal change fan-out: live watchers (optionally across instances) plus lifecycle events
	hub := service.NewHub()
	var live service.ChangeNotifier = hub
	var relay *service.RedisRelay
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		relay = service.NewRedisRelay(client, hub)
		live = relay
		slog.Info("redis relay enabled", "addr", cfg.Redis.Addr)
	}

	var publisher service.Publisher = service.LogPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = service.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		slog.Info("kafka events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()
	events := service.NewEventNotifier(publisher, 256)
	notifier := service.MultiNotifier{live, events}

	deals, closeDeals, err := openDealStore(ctx, &cfg.Store, notifier)
	if err != nil {
		return err
	}
	defer closeDeals()
	hub.SetSource(deals)

	storage, err := service.NewStorageService(&cfg.Minio)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	mineru := service.NewMineruService(&cfg.Mineru)
	analyzer := ai.NewAnalyzer(ai.NewClient(&cfg.AI), cfg.AI.ChatModel)

	persona, err := model.ParsePersona(cfg.Pipeline.DefaultPersona)
	if err != nil {
		return fmt.Errorf("pipeline.default_persona: %w", err)
	}
	processor := service.NewProcessor(deals, storage, mineru, analyzer, service.ProcessorOptions{
		Workers:   cfg.Pipeline.Workers,
		QueueSize: cfg.Pipeline.QueueSize,
		Persona:   persona,
	})

	if !cfg.Pipeline.SkipRecovery {
		if err := processor.Recover(ctx); err != nil {
			return fmt.Errorf("failed to recover pending deals: %w", err)
		}
	}

	var trigger service.AnalysisTrigger
	if tc := service.NewTriggerClient(&cfg.Pipeline); tc.Enabled() {
		trigger = tc
	}

	workspaces, err := openSessionStore(&cfg.Session)
	if err != nil {
		return err
	}
	sessions := session.NewManager(workspaces, analyzer)
	defer sessions.Close()

	// Initialize handlers
	handlers := handler.Handlers{
		Auth: handler.NewAuthHandler(cfg, sessions),
		Deals: handler.NewDealHandler(storage, deals, hub, sessions, handler.DealOptions{
			Trigger:   trigger,
			Queuer:    processor,
			MaxSizeMB: cfg.Upload.MaxSizeMB,
		}),
		Pipeline:  handler.NewPipelineHandler(processor, mineru, cfg.Pipeline.TriggerToken, cfg.Mineru.Seed != ""),
		Analyze:   handler.NewAnalyzeHandler(analyzer, sessions, cfg.Upload.MaxSizeMB),
		Workspace: handler.NewWorkspaceHandler(sessions),
		Chat:      handler.NewChatHandler(sessions, analyzer),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger("/health"))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control", "X-Requested-With", "X-Request-ID", service.TriggerTokenHeader},
		ExposeHeaders:    []string{"X-Request-ID"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))
	router.Use(cacheMiddleware())

	if dir := cfg.Server.StaticDir; dir != "" {
		slog.Info("serving static files", "directory", dir)
		router.Static("/static", dir)
		router.StaticFile("/", filepath.Join(dir, "index.html"))
	}

	handler.RegisterRoutes(router, handlers, &cfg.Auth, middleware.RateLimit(cfg.Server.RateLimit, time.Minute))

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 60 * time.Second,
		// watch streams and synchronous analyses outlive a fixed write timeout
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return processor.Run(gctx)
	})
	g.Go(func() error {
		events.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")
		processor.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openDealStore(ctx context.Context, cfg *config.StoreConfig, notifier service.ChangeNotifier) (service.DealStore, func(), error) {
	switch cfg.Driver {
	case "postgres", "sqlite3":
		store, err := service.OpenSQLStore(ctx, cfg.Driver, cfg.DSN, notifier)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open deal store: %w", err)
		}
		return store, func() { store.Close() }, nil
	default:
		return service.NewMemoryStore(cfg.MaxDeals, notifier), func() {}, nil
	}
}

func openSessionStore(cfg *config.SessionConfig) (session.Store, error) {
	if cfg.Driver != "badger" {
		return session.NewMemoryStore(), nil
	}
	store, err := session.OpenBadgerStore(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// cacheMiddleware sets cache control headers for static files
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		// Skip caching for API routes
		if strings.HasPrefix(path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
			return
		}

		if strings.HasSuffix(path, ".js") ||
			strings.HasSuffix(path, ".css") ||
			strings.HasSuffix(path, ".html") ||
			path == "/" {
			c.Header("Cache-Control", "public, max-age=3600, must-revalidate")
		}

		c.Next()
	}
}
