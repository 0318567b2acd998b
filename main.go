package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Soham-047/trello-mini/api"
	"github.com/Soham-047/trello-mini/audit"
	"github.com/Soham-047/trello-mini/config"
	"github.com/Soham-047/trello-mini/hub"
	"github.com/Soham-047/trello-mini/pipeline"
	"github.com/Soham-047/trello-mini/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer store.Close()

	var rc *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}
	cache := storage.NewCache(store, rc, cfg.SnapshotTTL())

	h := hub.New(logger, cfg.HubSendBuffer)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if rc != nil {
		bridge := hub.NewBridge(rc, h, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("bridge stopped")
			}
		}()
	}

	recorder := audit.NewRecorder(logger)
	pipe := pipeline.New(store, recorder, h, cache, logger)

	var auth *api.Auth
	if cfg.LocalAuthSecret != "" {
		auth = api.NewLocalAuth([]byte(cfg.LocalAuthSecret))
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, pipe, store, cache, h, auth, logger)

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
}
