package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/conversations/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/messages"
	msgrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/messages/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/summarizer"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var testStart = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

type fixture struct {
	repo   *repository.Memory
	ledger *messages.Ledger
	clock  *clock.Fake
	svc    *Service
}

func newFixture(t *testing.T, sum summarizer.Summarizer, opts Options) *fixture {
	t.Helper()
	repo := repository.NewMemory()
	clk := clock.NewFake(testStart)
	ledger := messages.New(msgrepo.NewMemory(repo.Exists), clk)
	return &fixture{
		repo:   repo,
		ledger: ledger,
		clock:  clk,
		svc:    New(repo, ledger, sum, clk, nil, opts),
	}
}

func (f *fixture) open(t *testing.T, tenant, session, agent string) repository.Conversation {
	t.Helper()
	conv, err := f.svc.GetOrCreate(context.Background(), OpenParams{TenantID: tenant, SessionID: session, AgentID: agent})
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	return conv
}

func (f *fixture) say(t *testing.T, convID uuid.UUID, role msgrepo.Role, content string) {
	t.Helper()
	if _, err := f.ledger.Append(context.Background(), messages.AppendInput{ConversationID: convID, Role: role, Content: content}); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
}

func fixedSummary(calls *int32) summarizer.Summarizer {
	return summarizer.Func(func(_ context.Context, transcript []summarizer.Turn, _, _ string) (summarizer.Summary, error) {
		atomic.AddInt32(calls, 1)
		return summarizer.Summary{Summary: "visitor asked about pricing", CustomerEmail: "jane@acme.com"}, nil
	})
}

func TestCloseSingleWinner(t *testing.T) {
	var calls int32
	f := newFixture(t, fixedSummary(&calls), Options{})
	conv := f.open(t, "t1", "sess1", "agentA")
	f.say(t, conv.ID, msgrepo.RoleUser, "how much is a repair?")

	var persists int32
	params := CloseParams{Persist: func(context.Context, CloseOutcome) (Persisted, error) {
		atomic.AddInt32(&persists, 1)
		return Persisted{}, nil
	}}

	const callers = 16
	results := make([]CloseResult, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			res, err := f.svc.Close(context.Background(), conv.ID, params)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	winners := 0
	for _, res := range results {
		if !res.AlreadyClosed {
			winners++
			if res.Summary == "" {
				t.Fatal("expected winner to carry a summary")
			}
		} else if res.Summary != "" {
			t.Fatal("expected losers to carry no summary")
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if calls != 1 || persists != 1 {
		t.Fatalf("expected one summarize and one persist, got %d and %d", calls, persists)
	}

	stored, _ := f.repo.GetByID(context.Background(), conv.ID)
	if stored.Status != repository.StatusClosed || stored.ClosedAt == nil {
		t.Fatalf("expected closed conversation, got %+v", stored)
	}
}

func TestCloseRevertsWhenSummarizerFails(t *testing.T) {
	var failures int32 = 1
	sum := summarizer.Func(func(context.Context, []summarizer.Turn, string, string) (summarizer.Summary, error) {
		if atomic.AddInt32(&failures, -1) >= 0 {
			return summarizer.Summary{}, errors.New("model unavailable")
		}
		return summarizer.Summary{Summary: "ok"}, nil
	})
	f := newFixture(t, sum, Options{})
	conv := f.open(t, "t1", "sess1", "agentA")

	_, err := f.svc.Close(context.Background(), conv.ID, CloseParams{})
	if !apperr.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	stored, _ := f.repo.GetByID(context.Background(), conv.ID)
	if stored.Status != repository.StatusActive || stored.CloseAttempts != 1 {
		t.Fatalf("expected active conversation with one failed attempt, got %+v", stored)
	}

	res, err := f.svc.Close(context.Background(), conv.ID, CloseParams{})
	if err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if res.AlreadyClosed || res.Summary != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCloseRevertsWhenPersistFails(t *testing.T) {
	var calls int32
	f := newFixture(t, fixedSummary(&calls), Options{})
	conv := f.open(t, "t1", "sess1", "agentA")

	failing := CloseParams{Persist: func(context.Context, CloseOutcome) (Persisted, error) {
		return Persisted{}, errors.New("lead store down")
	}}
	if _, err := f.svc.Close(context.Background(), conv.ID, failing); err == nil {
		t.Fatal("expected persist failure to surface")
	}
	stored, _ := f.repo.GetByID(context.Background(), conv.ID)
	if stored.Status != repository.StatusActive {
		t.Fatalf("expected conversation back to active, got %s", stored.Status)
	}

	leadID := uuid.New()
	customerID := uuid.New()
	res, err := f.svc.Close(context.Background(), conv.ID, CloseParams{Persist: func(_ context.Context, out CloseOutcome) (Persisted, error) {
		if out.Summary.CustomerEmail != "jane@acme.com" {
			t.Fatalf("persist hook got summary %+v", out.Summary)
		}
		return Persisted{CustomerID: &customerID, LeadID: &leadID}, nil
	}})
	if err != nil {
		t.Fatalf("retry Close returned error: %v", err)
	}
	if res.LeadID == nil || *res.LeadID != leadID {
		t.Fatalf("expected lead id from hook, got %v", res.LeadID)
	}
	stored, _ = f.repo.GetByID(context.Background(), conv.ID)
	if stored.CustomerID == nil || *stored.CustomerID != customerID {
		t.Fatalf("expected finalized conversation linked to customer, got %v", stored.CustomerID)
	}
}

func TestCloseRevertsWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sum := summarizer.Func(func(sctx context.Context, _ []summarizer.Turn, _, _ string) (summarizer.Summary, error) {
		cancel()
		<-sctx.Done()
		return summarizer.Summary{}, sctx.Err()
	})
	f := newFixture(t, sum, Options{})
	conv := f.open(t, "t1", "sess1", "agentA")

	if _, err := f.svc.Close(ctx, conv.ID, CloseParams{}); err == nil {
		t.Fatal("expected error from cancelled close")
	}
	stored, _ := f.repo.GetByID(context.Background(), conv.ID)
	if stored.Status != repository.StatusActive {
		t.Fatalf("expected active after cancelled close, got %s", stored.Status)
	}
}

func TestCloseFallsBackAfterAttemptCap(t *testing.T) {
	sum := summarizer.Func(func(context.Context, []summarizer.Turn, string, string) (summarizer.Summary, error) {
		return summarizer.Summary{}, errors.New("transcript rejected")
	})
	f := newFixture(t, sum, Options{MaxCloseAttempts: 2})
	conv := f.open(t, "t1", "sess1", "agentA")
	f.say(t, conv.ID, msgrepo.RoleUser, "my name is Jane Doe, mail me at jane@acme.com")

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Close(context.Background(), conv.ID, CloseParams{AgentName: "Max"}); err == nil {
			t.Fatalf("attempt %d: expected failure", i+1)
		}
	}

	res, err := f.svc.Close(context.Background(), conv.ID, CloseParams{AgentName: "Max"})
	if err != nil {
		t.Fatalf("capped Close returned error: %v", err)
	}
	if !res.Degraded || res.CustomerEmail != "jane@acme.com" {
		t.Fatalf("expected degraded close with extracted email, got %+v", res)
	}
	stored, _ := f.repo.GetByID(context.Background(), conv.ID)
	if stored.Status != repository.StatusClosed {
		t.Fatalf("expected closed, got %s", stored.Status)
	}
}

func TestCloseUnknownConversation(t *testing.T) {
	f := newFixture(t, nil, Options{})
	_, err := f.svc.Close(context.Background(), uuid.New(), CloseParams{})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetOrCreateSessionUniqueness(t *testing.T) {
	f := newFixture(t, nil, Options{})

	const callers = 24
	ids := make([]uuid.UUID, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			conv, err := f.svc.GetOrCreate(context.Background(), OpenParams{TenantID: "t1", SessionID: "sess1", AgentID: "agentA"})
			ids[i] = conv.ID
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if f.repo.Count() != 1 {
		t.Fatalf("expected one conversation, got %d", f.repo.Count())
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatal("expected every caller to get the same conversation")
		}
	}
}

func TestGetOrCreateReopensClosedConversation(t *testing.T) {
	f := newFixture(t, nil, Options{})
	first := f.open(t, "t1", "sess1", "agentA")
	if _, err := f.svc.Close(context.Background(), first.ID, CloseParams{}); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	f.clock.Advance(time.Hour)
	again := f.open(t, "t1", "sess1", "agentA")
	if again.ID != first.ID {
		t.Fatal("expected the closed conversation to be reused")
	}
	if again.Status != repository.StatusActive || again.ClosedAt != nil {
		t.Fatalf("expected reopened conversation, got %+v", again)
	}
	if f.repo.Count() != 1 {
		t.Fatalf("expected one conversation, got %d", f.repo.Count())
	}
}

func TestGetOrCreateMergesCustomerAndIP(t *testing.T) {
	f := newFixture(t, nil, Options{})
	first := f.open(t, "t1", "sess1", "agentA")

	customerID := uuid.New()
	f.clock.Advance(time.Minute)
	again, err := f.svc.GetOrCreate(context.Background(), OpenParams{
		TenantID: "t1", SessionID: "sess1", AgentID: "agentA", CustomerID: &customerID, IPAddress: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if again.ID != first.ID || again.CustomerID == nil || *again.CustomerID != customerID || again.IPAddress != "203.0.113.7" {
		t.Fatalf("expected merged conversation, got %+v", again)
	}
	if !again.UpdatedAt.After(first.UpdatedAt) {
		t.Fatal("expected updated_at to advance")
	}
}

func TestGetOrCreateMovesSessionToNewAgent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	first := f.open(t, "t1", "sess1", "agentA")

	moved := f.open(t, "t1", "sess1", "agentB")
	if moved.ID != first.ID || moved.AgentID != "agentB" {
		t.Fatalf("expected the session conversation to move to agentB, got %+v", moved)
	}
	if f.repo.Count() != 1 {
		t.Fatalf("expected one conversation, got %d", f.repo.Count())
	}
}

func TestGetOrCreateRequiresIdentity(t *testing.T) {
	f := newFixture(t, nil, Options{})
	_, err := f.svc.GetOrCreate(context.Background(), OpenParams{TenantID: "t1", SessionID: "", AgentID: "agentA"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// vanishingRepo loses every insert race to a row that disappears before it can be read.
type vanishingRepo struct {
	*repository.Memory
}

func (vanishingRepo) Insert(context.Context, repository.Conversation) (repository.Conversation, error) {
	return repository.Conversation{}, repository.ErrDuplicate
}

func (vanishingRepo) FindByTriple(context.Context, string, string, string) (repository.Conversation, error) {
	return repository.Conversation{}, repository.ErrNotFound
}

func TestGetOrCreateGivesUpAfterRetryBudget(t *testing.T) {
	clk := clock.NewFake(testStart)
	svc := New(vanishingRepo{repository.NewMemory()}, nil, nil, clk, nil, Options{CreateAttempts: 5, CreateBackoff: 10 * time.Millisecond})

	_, err := svc.GetOrCreate(context.Background(), OpenParams{TenantID: "t1", SessionID: "sess1", AgentID: "agentA"})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}

	sleeps := clk.Sleeps()
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d backoffs, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("backoff %d: expected %s, got %s", i, want[i], sleeps[i])
		}
	}
}

func TestRecoverStaleAndIdle(t *testing.T) {
	f := newFixture(t, nil, Options{})
	stuck := f.open(t, "t1", "sess1", "agentA")
	idle := f.open(t, "t1", "sess2", "agentA")

	if _, err := f.repo.Claim(context.Background(), stuck.ID, f.clock.Now()); err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	f.clock.Advance(20 * time.Minute)
	fresh := f.open(t, "t1", "sess3", "agentA")

	reverted, err := f.svc.RecoverStale(context.Background(), 10*time.Minute, 10)
	if err != nil || reverted != 1 {
		t.Fatalf("expected one reverted claim, got %d (%v)", reverted, err)
	}
	stored, _ := f.repo.GetByID(context.Background(), stuck.ID)
	if stored.Status != repository.StatusActive || stored.CloseAttempts != 1 {
		t.Fatalf("expected stale claim reverted, got %+v", stored)
	}

	ids, err := f.svc.IdleConversations(context.Background(), 10*time.Minute, 10)
	if err != nil {
		t.Fatalf("IdleConversations returned error: %v", err)
	}
	found := map[uuid.UUID]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[idle.ID] || found[fresh.ID] {
		t.Fatalf("unexpected idle set %v", ids)
	}
}
