package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	closeTaskMaxRetry  = 8
	closeTaskTimeout   = 2 * time.Minute
	notifyTaskMaxRetry = 5
	notifyTaskTimeout  = 30 * time.Second
)

type Client struct {
	client *asynq.Client
	queue  string
}

// CloseScheduler hands a conversation close to background processing.
type CloseScheduler interface {
	ScheduleClose(ctx context.Context, payload ConversationClosePayload) error
}

// NotifyScheduler hands a lead notification to background processing.
type NotifyScheduler interface {
	ScheduleLeadNotify(ctx context.Context, payload LeadNotifyPayload) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return newClient(opt, cfg.GetAsynqQueueName()), nil
}

func newClient(opt asynq.RedisConnOpt, queue string) *Client {
	if queue == "" {
		queue = "default"
	}
	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleClose enqueues a close. A close already waiting for the same
// conversation absorbs the new request.
func (c *Client) ScheduleClose(ctx context.Context, payload ConversationClosePayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewConversationCloseTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(TaskConversationClose+":"+payload.ConversationID),
		asynq.MaxRetry(closeTaskMaxRetry),
		asynq.Timeout(closeTaskTimeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) ScheduleLeadNotify(ctx context.Context, payload LeadNotifyPayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewLeadNotifyTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(notifyTaskMaxRetry),
		asynq.Timeout(notifyTaskTimeout),
	)
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
