package main

import (
	"context"
	"fmt"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/bootstrap"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// env is what a database backed command needs.
type env struct {
	cfg  *config.Config
	log  *logger.Logger
	pool *pgxpool.Pool
}

func openEnv(cmd *cobra.Command, migrate bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithWriter(cfg.Env, cmd.ErrOrStderr())

	pool, err := bootstrap.Connect(cmd.Context(), cfg, log, migrate)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, pool: pool}, nil
}

func (e *env) services(ctx context.Context) (*bootstrap.Services, error) {
	return bootstrap.Build(ctx, e.cfg, e.pool, e.log)
}

func (e *env) Close() {
	e.pool.Close()
}
