package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticker-pulse/internal/cache"
	"ticker-pulse/internal/config"
	"ticker-pulse/internal/handler"
	"ticker-pulse/internal/provider"
	"ticker-pulse/internal/sentiment"
	"ticker-pulse/internal/service"
	"ticker-pulse/internal/transport"
	"ticker-pulse/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initTracerFunc         = tracing.InitTracer
	newRedisStoreFunc      = cache.NewRedisStore
	newDiskStoreFunc       = cache.NewDiskStore
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// newStore prefers Redis when configured and degrades to the on-disk
// cache when Redis is unreachable, so the server never starts cacheless.
func newStore(ctx context.Context, cfg *config.Config) cache.Store {
	if cfg.RedisURL != "" {
		store, err := newRedisStoreFunc(ctx, cfg.RedisURL)
		if err == nil {
			return store
		}
		log.Printf("Warning: redis unavailable (%v), falling back to disk cache", err)
	}
	store, err := newDiskStoreFunc(cfg.CacheDir)
	if err != nil {
		log.Printf("Warning: disk cache unavailable (%v), running without cache", err)
		return nil
	}
	return store
}

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	store := newStore(ctx, cfg)

	httpClient := transport.New(tracer)
	var newsAPI service.NewsAPISource
	if cfg.NewsAPIKey != "" {
		newsAPI = provider.NewNewsAPIProvider(httpClient, tracer, cfg.NewsAPIKey)
	}
	rss := provider.NewGoogleRSSProvider(httpClient, tracer)

	classifierCfg := sentiment.DefaultConfig(cfg.OpenAIAPIKey)
	classifierCfg.Model = cfg.OpenAIModel
	classifierCfg.BaseURL = cfg.OpenAIBaseURL
	analyzer := sentiment.NewAnalyzer(tracer, sentiment.NewClassifier(httpClient, tracer))

	cacheTTL := cache.NoTTL
	if cfg.CacheTTLHours > 0 {
		cacheTTL = time.Duration(cfg.CacheTTLHours * float64(time.Hour))
	}
	svc := service.New(tracer, newsAPI, rss, analyzer, store, cacheTTL, classifierCfg)

	h := newHandlerFunc(tracer, svc)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("ticker-pulse"))

	h.RegisterRoutes(r, os.Getenv("API_KEY"))

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
