package scheduler

import (
	"context"
	"fmt"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ConversationCloser finishes a conversation picked up from the queue.
type ConversationCloser interface {
	CloseConversation(ctx context.Context, conversationID uuid.UUID, reason string) error
}

// LeadNotifier delivers a captured lead to the configured sinks.
type LeadNotifier interface {
	NotifyLead(ctx context.Context, lead events.LeadCaptured) error
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	closer   ConversationCloser
	notifier LeadNotifier
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, closer ConversationCloser, notifier LeadNotifier, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
		Logger: newAsynqLogger(log),
	})

	return newWorker(server, closer, notifier, log), nil
}

func newWorker(server *asynq.Server, closer ConversationCloser, notifier LeadNotifier, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	w := &Worker{
		server:   server,
		mux:      asynq.NewServeMux(),
		closer:   closer,
		notifier: notifier,
		log:      log,
	}

	w.mux.HandleFunc(TaskConversationClose, w.handleConversationClose)
	w.mux.HandleFunc(TaskLeadNotify, w.handleLeadNotify)

	return w
}

// Run processes tasks until ctx is cancelled, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return nil
	}

	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	w.log.Info("scheduler worker started")
	<-ctx.Done()
	w.server.Shutdown()
	w.log.Info("scheduler worker stopped")
	return nil
}

func (w *Worker) handleConversationClose(ctx context.Context, task *asynq.Task) error {
	if w.closer == nil {
		return nil
	}

	payload, err := ParseConversationClosePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	conversationID, err := uuid.Parse(payload.ConversationID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	if err := w.closer.CloseConversation(ctx, conversationID, payload.Reason); err != nil {
		if !apperr.IsRetryable(err) {
			w.log.Warn("conversation close dropped", "conversationId", conversationID, "reason", payload.Reason, "error", err)
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	return nil
}

func (w *Worker) handleLeadNotify(ctx context.Context, task *asynq.Task) error {
	if w.notifier == nil {
		return nil
	}

	payload, err := ParseLeadNotifyPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	return w.notifier.NotifyLead(ctx, payload.Lead)
}
