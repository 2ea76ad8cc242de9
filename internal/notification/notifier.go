// Package notification delivers captured leads to the tenant's webhook, inbox
// and Slack channel.
package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/email"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	tenantrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/metrics"
)

const (
	sinkWebhook = "webhook"
	sinkEmail   = "email"
	sinkSlack   = "slack"
)

// TenantSource resolves the notification settings of a tenant.
type TenantSource interface {
	Tenant(ctx context.Context, tenantID string) (tenantrepo.Tenant, error)
}

type webhookSender interface {
	Send(ctx context.Context, url string, payload LeadPayload) error
}

type slackSender interface {
	Send(ctx context.Context, channelID string, payload LeadPayload) error
}

// Notifier fans a captured lead out to every sink the tenant has configured.
// Each sink is time-boxed and a failing sink never affects the others.
type Notifier struct {
	tenants    TenantSource
	webhook    webhookSender
	email      email.Sender
	slack      slackSender
	timeout    time.Duration
	appBaseURL string
	log        *logger.Logger
}

type Options struct {
	Webhook    webhookSender
	Email      email.Sender
	Slack      slackSender
	Timeout    time.Duration
	AppBaseURL string
}

func New(tenants TenantSource, opts Options, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWebhookTimeout
	}
	return &Notifier{
		tenants:    tenants,
		webhook:    opts.Webhook,
		email:      opts.Email,
		slack:      opts.Slack,
		timeout:    opts.Timeout,
		appBaseURL: strings.TrimRight(opts.AppBaseURL, "/"),
		log:        log,
	}
}

// NewFromConfig wires the sinks that are configured.
func NewFromConfig(tenants TenantSource, nc config.NotificationConfig, sc config.SMTPConfig, slc config.SlackConfig, log *logger.Logger) *Notifier {
	opts := Options{
		Webhook:    NewWebhookSink(nc.GetWebhookTimeout()),
		Timeout:    nc.GetWebhookTimeout(),
		AppBaseURL: nc.GetAppBaseURL(),
	}
	if sender := email.NewSMTPSenderFromConfig(sc); sender != nil {
		opts.Email = sender
	}
	if sink := NewSlackSink(slc.GetSlackBotToken()); sink != nil {
		opts.Slack = sink
	}
	return New(tenants, opts, log)
}

// NotifyLead delivers the lead. Only a transient failure to load the tenant is
// returned, so a queued delivery retries without resending to sinks that
// already succeeded.
func (n *Notifier) NotifyLead(ctx context.Context, lead events.LeadCaptured) error {
	tenant, err := n.tenants.Tenant(ctx, lead.TenantID)
	if err != nil {
		if apperr.IsRetryable(err) {
			return err
		}
		n.log.Warn("lead notification skipped", "leadId", lead.LeadID, "tenantId", lead.TenantID, "error", err)
		return nil
	}

	payload := PayloadFromEvent(lead)
	var wg sync.WaitGroup
	deliver := func(sink string, send func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
			defer cancel()
			err := send(sendCtx)
			metrics.RecordNotification(sink, err)
			if err != nil {
				n.log.Warn("lead notification failed", "sink", sink, "leadId", lead.LeadID, "tenantId", lead.TenantID, "error", err)
			}
		}()
	}

	if tenant.WebhookURL != "" && n.webhook != nil {
		deliver(sinkWebhook, func(c context.Context) error { return n.webhook.Send(c, tenant.WebhookURL, payload) })
	}
	if tenant.NotificationEmail != "" && n.email != nil {
		mail := payload.mail(n.leadURL(payload.LeadID))
		deliver(sinkEmail, func(c context.Context) error { return n.email.SendLeadCaptured(c, tenant.NotificationEmail, mail) })
	}
	if tenant.SlackChannel != "" && n.slack != nil {
		deliver(sinkSlack, func(c context.Context) error { return n.slack.Send(c, tenant.SlackChannel, payload) })
	}

	wg.Wait()
	return nil
}

func (n *Notifier) leadURL(leadID string) string {
	if n.appBaseURL == "" || leadID == "" {
		return ""
	}
	return n.appBaseURL + "/leads/" + leadID
}
