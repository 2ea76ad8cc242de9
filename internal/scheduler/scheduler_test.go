package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

func newTestQueue(t *testing.T) (*Client, *asynq.Inspector) {
	t.Helper()
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	client := newClient(opt, "chat")
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() {
		_ = client.Close()
		_ = inspector.Close()
	})
	return client, inspector
}

func TestScheduleCloseDeduplicatesPerConversation(t *testing.T) {
	client, inspector := newTestQueue(t)
	ctx := context.Background()
	id := uuid.New().String()

	for i := 0; i < 3; i++ {
		if err := client.ScheduleClose(ctx, ConversationClosePayload{ConversationID: id, Reason: CloseReasonUnload}); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}
	if err := client.ScheduleClose(ctx, ConversationClosePayload{ConversationID: uuid.New().String(), Reason: CloseReasonIdle}); err != nil {
		t.Fatalf("schedule other: %v", err)
	}

	pending, err := inspector.ListPendingTasks("chat")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending closes, got %d", len(pending))
	}
}

func TestScheduleLeadNotifyRoundTripsPayload(t *testing.T) {
	client, inspector := newTestQueue(t)
	lead := events.LeadCaptured{
		BaseEvent: events.NewBaseEventAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		LeadID:    uuid.New(),
		TenantID:  "acme",
		LeadEmail: "jane@example.com",
	}

	if err := client.ScheduleLeadNotify(context.Background(), LeadNotifyPayload{Lead: lead}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	pending, err := inspector.ListPendingTasks("chat")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != TaskLeadNotify {
		t.Fatalf("unexpected pending tasks: %+v", pending)
	}

	payload, err := ParseLeadNotifyPayload(asynq.NewTask(pending[0].Type, pending[0].Payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.Lead.LeadID != lead.LeadID || payload.Lead.LeadEmail != lead.LeadEmail {
		t.Fatalf("payload mismatch: %+v", payload.Lead)
	}
}

func TestNilClientIsNoop(t *testing.T) {
	var client *Client
	if err := client.ScheduleClose(context.Background(), ConversationClosePayload{ConversationID: "x"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

type fakeCloser struct {
	mu     sync.Mutex
	calls  []uuid.UUID
	reason string
	err    error
}

func (f *fakeCloser) CloseConversation(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	f.reason = reason
	return f.err
}

func closeTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, err := NewConversationCloseTask(ConversationClosePayload{ConversationID: id, Reason: CloseReasonUnload})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestHandleConversationClose(t *testing.T) {
	id := uuid.New()

	closer := &fakeCloser{}
	w := newWorker(nil, closer, nil, nil)
	if err := w.handleConversationClose(context.Background(), closeTask(t, id.String())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closer.calls) != 1 || closer.calls[0] != id || closer.reason != CloseReasonUnload {
		t.Fatalf("unexpected calls: %+v reason %q", closer.calls, closer.reason)
	}

	if err := w.handleConversationClose(context.Background(), closeTask(t, "not-a-uuid")); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip retry for malformed id, got %v", err)
	}

	closer.err = apperr.NotFound("conversation not found")
	if err := w.handleConversationClose(context.Background(), closeTask(t, id.String())); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip retry for missing conversation, got %v", err)
	}

	closer.err = apperr.Unavailable("summarizer down", errors.New("timeout"))
	err := w.handleConversationClose(context.Background(), closeTask(t, id.String()))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

type fakeLifecycle struct {
	recovered int
	idle      []uuid.UUID
	lease     time.Duration
	idleAfter time.Duration
	limit     int
}

func (f *fakeLifecycle) RecoverStale(_ context.Context, lease time.Duration, limit int) (int, error) {
	f.lease = lease
	f.limit = limit
	return f.recovered, nil
}

func (f *fakeLifecycle) IdleConversations(_ context.Context, idleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	f.idleAfter = idleAfter
	return f.idle, nil
}

type recordingScheduler struct {
	payloads []ConversationClosePayload
	failFor  string
}

func (r *recordingScheduler) ScheduleClose(_ context.Context, p ConversationClosePayload) error {
	if p.ConversationID == r.failFor {
		return errors.New("redis down")
	}
	r.payloads = append(r.payloads, p)
	return nil
}

type sweepConfig struct {
	lease     time.Duration
	idleAfter time.Duration
}

func (c sweepConfig) GetSweepSchedule() string         { return "@every 1m" }
func (c sweepConfig) GetClosingLease() time.Duration   { return c.lease }
func (c sweepConfig) GetIdleCloseAfter() time.Duration { return c.idleAfter }
func (c sweepConfig) GetSweepBatchSize() int           { return 25 }

func TestSweepOnceRecoversAndSchedulesIdle(t *testing.T) {
	broken := uuid.New()
	lifecycle := &fakeLifecycle{recovered: 2, idle: []uuid.UUID{uuid.New(), broken, uuid.New()}}
	closes := &recordingScheduler{failFor: broken.String()}
	s := NewSweeper(sweepConfig{lease: 5 * time.Minute, idleAfter: 30 * time.Minute}, lifecycle, closes, nil)

	report, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Recovered != 2 || report.Scheduled != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if lifecycle.lease != 5*time.Minute || lifecycle.idleAfter != 30*time.Minute || lifecycle.limit != 25 {
		t.Fatalf("unexpected sweep parameters: %+v", lifecycle)
	}
	for _, p := range closes.payloads {
		if p.Reason != CloseReasonIdle {
			t.Fatalf("expected idle reason, got %q", p.Reason)
		}
	}
}

func TestSweepOnceWithIdleCloseDisabled(t *testing.T) {
	lifecycle := &fakeLifecycle{idle: []uuid.UUID{uuid.New()}}
	closes := &recordingScheduler{}
	s := NewSweeper(sweepConfig{lease: time.Minute}, lifecycle, closes, nil)

	report, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Scheduled != 0 || len(closes.payloads) != 0 {
		t.Fatalf("expected no idle closes, got %+v", report)
	}
}

type recordingNotifier struct {
	leads []events.LeadCaptured
}

func (r *recordingNotifier) NotifyLead(_ context.Context, lead events.LeadCaptured) error {
	r.leads = append(r.leads, lead)
	return nil
}

type failingNotifyQueue struct{}

func (failingNotifyQueue) ScheduleLeadNotify(context.Context, LeadNotifyPayload) error {
	return errors.New("redis down")
}

func TestLeadDispatcherFallsBackToInline(t *testing.T) {
	inline := &recordingNotifier{}
	lead := events.LeadCaptured{LeadID: uuid.New()}

	d := NewLeadDispatcher(failingNotifyQueue{}, inline, nil)
	if err := d.Handle(context.Background(), lead); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(inline.leads) != 1 || inline.leads[0].LeadID != lead.LeadID {
		t.Fatalf("expected inline delivery, got %+v", inline.leads)
	}

	d = NewLeadDispatcher(nil, inline, nil)
	if err := d.Handle(context.Background(), lead); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(inline.leads) != 2 {
		t.Fatalf("expected second inline delivery, got %d", len(inline.leads))
	}
}

func TestAsynqLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	var log asynq.Logger = newAsynqLogger(logger.NewWithWriter("production", &buf))
	log.Warn("redis ", "unreachable")

	out := buf.String()
	if !strings.Contains(out, `"component":"asynq"`) || !strings.Contains(out, "redis unreachable") {
		t.Fatalf("unexpected asynq log line: %s", out)
	}
	newAsynqLogger(nil).Info("dropped")
}
