package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/bootstrap"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/chat"
	apphttp "github.com/kenxsak/voice-chat-ai-sub001/internal/http"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/http/router"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/media"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/db"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/httpkit"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/validator"
)

const (
	shutdownTimeout  = 10 * time.Second
	limiterPruneTick = time.Minute
	limiterIdleAfter = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	pool, err := bootstrap.Connect(ctx, cfg, log, true)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	services, err := bootstrap.Build(ctx, cfg, pool, log)
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		panic("failed to initialize services: " + err.Error())
	}
	defer services.Close()

	var uploads *media.Service
	if err := bootstrap.WithRetry(ctx, log, "chat media storage", 5, 2*time.Second, func() error {
		svc, err := media.NewFromConfig(ctx, cfg)
		if err != nil {
			return err
		}
		uploads = svc
		return nil
	}); err != nil {
		log.Error("failed to initialize chat media storage", "error", err)
		panic("failed to initialize chat media storage: " + err.Error())
	}
	if uploads == nil {
		log.Warn("MinIO not configured; chat image uploads disabled")
	} else {
		log.Info("chat media storage initialized", "bucket", cfg.GetMinioBucketChatMedia())
	}

	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	chatModule := chat.NewModule(services.ChatDeps(log), uploads, val)

	limiter := httpkit.NewChatRateLimiter(cfg, log)
	go limiter.Run(ctx, limiterPruneTick, limiterIdleAfter)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:      cfg,
		Logger:      log,
		Health:      db.NewPoolAdapter(pool),
		EventBus:    services.Bus,
		ChatLimiter: limiter,
		Modules:     []apphttp.Module{chatModule},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		services.Bus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}
