package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/email"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	tenantrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"

	"github.com/google/uuid"
	slackapi "github.com/slack-go/slack"
)

type staticTenants struct {
	tenant tenantrepo.Tenant
	err    error
}

func (s staticTenants) Tenant(context.Context, string) (tenantrepo.Tenant, error) {
	return s.tenant, s.err
}

type recordingEmail struct {
	mu   sync.Mutex
	to   []string
	mail []email.LeadCapturedMail
	err  error
}

func (r *recordingEmail) SendLeadCaptured(_ context.Context, to string, mail email.LeadCapturedMail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, to)
	r.mail = append(r.mail, mail)
	return r.err
}

type recordingSlack struct {
	mu       sync.Mutex
	channels []string
}

func (r *recordingSlack) Send(_ context.Context, channel string, _ LeadPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	return nil
}

func sampleLead() events.LeadCaptured {
	return events.LeadCaptured{
		BaseEvent: events.NewBaseEventAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		LeadID:    uuid.MustParse("7b0c6c62-1f7b-4c38-9d5a-2f1e3f3b9a10"),
		TenantID:  "acme",
		Agent:     "Sally",
		LeadName:  "Jane Doe",
		LeadEmail: "jane@example.com",
		Summary:   "Boiler repair",
		FullHistory: []events.TranscriptLine{
			{Role: "user", Content: "my boiler broke", Timestamp: time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC)},
		},
	}
}

func TestNotifyLeadFansOutToConfiguredSinks(t *testing.T) {
	var received LeadPayload
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		hits++
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mailer := &recordingEmail{}
	slack := &recordingSlack{}
	tenants := staticTenants{tenant: tenantrepo.Tenant{
		ID:                "acme",
		WebhookURL:        srv.URL,
		NotificationEmail: "sales@acme.example",
		SlackChannel:      "C123",
	}}

	n := New(tenants, Options{
		Webhook:    NewWebhookSink(time.Second),
		Email:      mailer,
		Slack:      slack,
		AppBaseURL: "https://app.example.com/",
	}, nil)

	if err := n.NotifyLead(context.Background(), sampleLead()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if hits != 1 {
		t.Fatalf("expected 1 webhook call, got %d", hits)
	}
	if received.LeadEmail != "jane@example.com" || received.Agent != "Sally" || len(received.FullHistory) != 1 {
		t.Fatalf("unexpected webhook payload: %+v", received)
	}
	if !received.CapturedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected capturedAt %v", received.CapturedAt)
	}
	if len(mailer.to) != 1 || mailer.to[0] != "sales@acme.example" {
		t.Fatalf("unexpected email recipients: %v", mailer.to)
	}
	if mailer.mail[0].LeadURL != "https://app.example.com/leads/7b0c6c62-1f7b-4c38-9d5a-2f1e3f3b9a10" {
		t.Fatalf("unexpected lead url %q", mailer.mail[0].LeadURL)
	}
	if len(slack.channels) != 1 || slack.channels[0] != "C123" {
		t.Fatalf("unexpected slack channels: %v", slack.channels)
	}
}

func TestNotifyLeadSinkFailureIsIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	mailer := &recordingEmail{}
	tenants := staticTenants{tenant: tenantrepo.Tenant{ID: "acme", WebhookURL: srv.URL, NotificationEmail: "sales@acme.example"}}
	n := New(tenants, Options{Webhook: NewWebhookSink(time.Second), Email: mailer}, nil)

	if err := n.NotifyLead(context.Background(), sampleLead()); err != nil {
		t.Fatalf("expected sink failures to be swallowed, got %v", err)
	}
	if len(mailer.to) != 1 {
		t.Fatalf("expected email to be sent despite webhook failure")
	}
}

func TestNotifyLeadTenantErrors(t *testing.T) {
	n := New(staticTenants{err: apperr.NotFound("tenant not found")}, Options{}, nil)
	if err := n.NotifyLead(context.Background(), sampleLead()); err != nil {
		t.Fatalf("expected missing tenant to be skipped, got %v", err)
	}

	n = New(staticTenants{err: apperr.Unavailable("db down", errors.New("timeout"))}, Options{}, nil)
	if err := n.NotifyLead(context.Background(), sampleLead()); !apperr.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestWebhookSinkTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	sink := NewWebhookSink(50 * time.Millisecond)
	if err := sink.Send(context.Background(), srv.URL, LeadPayload{}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

type fakePoster struct {
	channel string
	options int
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	f.channel = channelID
	f.options = len(options)
	return channelID, "1700000000.000100", nil
}

func TestSlackSinkPostsBlocks(t *testing.T) {
	poster := &fakePoster{}
	sink := &SlackSink{client: poster}

	if err := sink.Send(context.Background(), "C999", PayloadFromEvent(sampleLead())); err != nil {
		t.Fatalf("send: %v", err)
	}
	if poster.channel != "C999" || poster.options != 2 {
		t.Fatalf("unexpected post: %+v", poster)
	}

	fallback, blocks := slackMessage(PayloadFromEvent(sampleLead()))
	if fallback != "New chat lead: Jane Doe jane@example.com" {
		t.Fatalf("unexpected fallback %q", fallback)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected header, fields and summary blocks, got %d", len(blocks))
	}
}

func TestNewSlackSinkWithoutToken(t *testing.T) {
	if NewSlackSink("") != nil {
		t.Fatalf("expected nil sink without token")
	}
}

func TestPayloadFromEventFormatsPhone(t *testing.T) {
	p := PayloadFromEvent(events.LeadCaptured{LeadID: uuid.New(), LeadPhone: "(202) 456-1111"})
	if p.LeadPhone != "+12024561111" {
		t.Fatalf("expected E.164 phone, got %q", p.LeadPhone)
	}
	if got := PayloadFromEvent(events.LeadCaptured{LeadPhone: "ext 12"}).LeadPhone; got != "ext 12" {
		t.Fatalf("expected unparseable phone kept, got %q", got)
	}
}
