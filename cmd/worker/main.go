package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/bootstrap"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/scheduler"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.Connect(ctx, cfg, log, false)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	services, err := bootstrap.Build(ctx, cfg, pool, log)
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		panic("failed to initialize services: " + err.Error())
	}
	defer services.Close()

	chatSvc := services.Chat(log)

	var closes scheduler.CloseScheduler
	if services.Queue != nil {
		closes = services.Queue
	}
	sweeper := scheduler.NewSweeper(cfg, services.Conversations, closes, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })

	if services.Queue != nil {
		worker, err := scheduler.NewWorker(cfg, chatSvc, services.Notifier, log)
		if err != nil {
			log.Error("failed to initialize scheduler worker", "error", err)
			panic("failed to initialize scheduler worker: " + err.Error())
		}
		g.Go(func() error { return worker.Run(gctx) })
	} else {
		log.Warn("REDIS_URL not configured; running the sweeper only")
	}

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", "error", err)
		services.Bus.Wait()
		os.Exit(1)
	}
	services.Bus.Wait()
	log.Info("worker stopped")
}
