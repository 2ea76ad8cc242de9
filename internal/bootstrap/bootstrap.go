// Package bootstrap is the composition root shared by the api, worker and
// chatctl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	chatservice "github.com/kenxsak/voice-chat-ai-sub001/internal/chat/service"
	convrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/conversations/repository"
	convservice "github.com/kenxsak/voice-chat-ai-sub001/internal/conversations/service"
	custrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/customers/repository"
	custservice "github.com/kenxsak/voice-chat-ai-sub001/internal/customers/service"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	leadrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/leads/repository"
	leadservice "github.com/kenxsak/voice-chat-ai-sub001/internal/leads/service"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/messages"
	msgrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/messages/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/notification"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/scheduler"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/summarizer"
	tenantrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/repository"
	tenantservice "github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/service"
	"github.com/kenxsak/voice-chat-ai-sub001/migrations"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/db"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Services holds the wired domain services of one process.
type Services struct {
	Bus           *events.InMemoryBus
	Tenants       *tenantservice.Service
	Conversations *convservice.Service
	Ledger        *messages.Ledger
	Customers     *custservice.Service
	Leads         *leadservice.Service
	Notifier      *notification.Notifier
	// Queue is nil when Redis is not configured.
	Queue *scheduler.Client
}

// ChatDeps returns the dependencies of the chat orchestrator.
func (s *Services) ChatDeps(log *logger.Logger) chatservice.Deps {
	deps := chatservice.Deps{
		Profiles:      s.Tenants,
		Conversations: s.Conversations,
		Ledger:        s.Ledger,
		Customers:     s.Customers,
		Leads:         s.Leads,
		Log:           log,
	}
	if s.Queue != nil {
		deps.Closes = s.Queue
	}
	return deps
}

// Chat returns a chat orchestrator over the services.
func (s *Services) Chat(log *logger.Logger) *chatservice.Service {
	return chatservice.New(s.ChatDeps(log))
}

// Close releases the queue client.
func (s *Services) Close() {
	if s.Queue != nil {
		_ = s.Queue.Close()
	}
}

// Build wires every service on top of pool. Lead capture events are routed to
// the queue when Redis is configured, otherwise delivered inline.
func Build(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, log *logger.Logger) (*Services, error) {
	clk := clock.Real{}
	bus := events.NewInMemoryBus(log)

	sum, err := summarizer.FromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init summarizer: %w", err)
	}

	convRepo := convrepo.New(pool)
	ledger := messages.New(msgrepo.New(pool), clk)
	tenants := tenantservice.New(tenantrepo.New(pool), log)

	s := &Services{
		Bus:           bus,
		Tenants:       tenants,
		Conversations: convservice.New(convRepo, ledger, sum, clk, log, convservice.OptionsFromConfig(cfg, cfg)),
		Ledger:        ledger,
		Customers:     custservice.New(custrepo.New(pool), clk, log),
		Leads:         leadservice.New(leadrepo.New(pool), bus, clk, log),
		Notifier:      notification.NewFromConfig(tenants, cfg, cfg, cfg, log),
	}

	var queue scheduler.NotifyScheduler
	if cfg.GetRedisURL() != "" {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("init queue client: %w", err)
		}
		s.Queue = client
		queue = client
	} else {
		log.Warn("REDIS_URL not configured; closes and notifications run inline")
	}
	scheduler.NewLeadDispatcher(queue, s.Notifier, log).Register(bus)

	return s, nil
}

// Connect migrates the schema when migrate is set and opens the pool, retrying
// both while the database comes up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger, migrate bool) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	if err := WithRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		return nil, err
	}

	if migrate {
		if err := WithRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.Migrate(ctx, pool, migrations.FS)
		}); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("database migrations complete")
	}
	return pool, nil
}

// WithRetry runs fn until it succeeds, backing off quadratically.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
