package service

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/leads/domain"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/leads/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"

	"github.com/google/uuid"
)

var (
	march5  = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	march20 = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	april2  = time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)
)

type captured struct {
	mu     sync.Mutex
	events []events.LeadCaptured
}

func (c *captured) Handle(_ context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event.(events.LeadCaptured))
	return nil
}

type fixture struct {
	repo  *repository.Memory
	bus   *events.InMemoryBus
	seen  *captured
	clock *clock.Fake
	svc   *Service
}

func newFixture() *fixture {
	repo := repository.NewMemory()
	bus := events.NewInMemoryBus(logger.Nop())
	seen := &captured{}
	bus.Subscribe(events.LeadCaptured{}.EventName(), seen)
	clk := clock.NewFake(march5)
	return &fixture{repo: repo, bus: bus, seen: seen, clock: clk, svc: New(repo, bus, clk, nil)}
}

func (f *fixture) upsert(t *testing.T, at time.Time, c contact.Fields, session string, p Payload) domain.Lead {
	t.Helper()
	lead, err := f.svc.Upsert(context.Background(), "t1", at, c, session, p)
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	return lead
}

func (f *fixture) captured() []events.LeadCaptured {
	f.bus.Wait()
	f.seen.mu.Lock()
	defer f.seen.mu.Unlock()
	return append([]events.LeadCaptured(nil), f.seen.events...)
}

func strPtr(v string) *string { return &v }

func TestUpsertIsIdempotent(t *testing.T) {
	f := newFixture()
	c := contact.Fields{Name: "Jane", Email: "jane@acme.com"}
	p := Payload{Summary: strPtr("needs a quote"), AgentName: "Max", Image: domain.SetString("https://media.example.com/a.png")}

	first := f.upsert(t, march5, c, "s1", p)
	second := f.upsert(t, march5, c, "s1", p)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical leads:\n%+v\n%+v", first, second)
	}
	if n := len(f.repo.All()); n != 1 {
		t.Fatalf("expected one lead, got %d", n)
	}
	if got := f.captured(); len(got) != 1 {
		t.Fatalf("expected one captured event, got %d", len(got))
	}
}

func TestUpsertPartitionsByMonth(t *testing.T) {
	f := newFixture()
	c := contact.Fields{Email: "jane@acme.com"}

	march := f.upsert(t, march20, c, "s1", Payload{})
	april := f.upsert(t, april2, c, "s2", Payload{})

	if march.ID == april.ID || march.PeriodMonth != "2024-03" || april.PeriodMonth != "2024-04" {
		t.Fatalf("expected separate monthly leads, got %s/%s and %s/%s", march.ID, march.PeriodMonth, april.ID, april.PeriodMonth)
	}
}

func TestUpsertMergesSameEmailWithinMonth(t *testing.T) {
	f := newFixture()

	first := f.upsert(t, march5, contact.Fields{Name: "Jane", Email: "jane@acme.com"}, "s1", Payload{})
	f.clock.Set(march20)
	second := f.upsert(t, march20, contact.Fields{Name: "Jane", Email: "jane@acme.com", Phone: "555-1234"}, "s2", Payload{})

	if second.ID != first.ID {
		t.Fatal("expected the second upsert to merge into the first lead")
	}
	if second.Name != "Jane" || second.Phone != "555-1234" || second.NormalizedPhone != "5551234" {
		t.Fatalf("expected name and phone populated, got %+v", second)
	}
	if second.SessionID != "s2" || second.PeriodMonth != "2024-03" {
		t.Fatalf("expected latest session in March, got %+v", second)
	}
	if n := len(f.repo.All()); n != 1 {
		t.Fatalf("expected one lead, got %d", n)
	}
}

func TestUpsertUpgradesAnonymousSessionLead(t *testing.T) {
	f := newFixture()

	anon := f.upsert(t, march5, contact.Fields{}, "s1", Payload{})
	if anon.Status != domain.StatusAnonymous || !anon.IsAnonymous {
		t.Fatalf("expected anonymous lead, got %+v", anon)
	}
	if got := f.captured(); len(got) != 0 {
		t.Fatalf("anonymous leads must not notify, got %d events", len(got))
	}

	identified := f.upsert(t, march5, contact.Fields{Email: "bob@acme.com"}, "s1", Payload{})
	if identified.ID != anon.ID || identified.Status != domain.StatusFollowUp || identified.IsAnonymous {
		t.Fatalf("expected the session lead to be upgraded, got %+v", identified)
	}
	got := f.captured()
	if len(got) != 1 || !got[0].Upgraded || got[0].LeadEmail != "bob@acme.com" {
		t.Fatalf("expected one upgrade event, got %+v", got)
	}
}

func TestUpsertDoesNotMergeAcrossConflictingEmail(t *testing.T) {
	f := newFixture()

	alice := f.upsert(t, march5, contact.Fields{Email: "alice@acme.com", Phone: "202-456-1111"}, "s1", Payload{})
	bob := f.upsert(t, march5, contact.Fields{Email: "bob@acme.com", Phone: "202-456-1111"}, "s2", Payload{})

	if bob.ID == alice.ID {
		t.Fatal("a shared phone must not merge two different emails")
	}
	if bob.NormalizedPhone != "" || bob.Phone != "202-456-1111" {
		t.Fatalf("expected the phone key left with its owner, got %+v", bob)
	}
	stored, _ := f.repo.GetByID(context.Background(), alice.ID)
	if stored.NormalizedPhone != "2024561111" || stored.Email != "alice@acme.com" {
		t.Fatalf("first lead changed: %+v", stored)
	}
}

func TestUpsertMergesThroughCompatibleLowerKey(t *testing.T) {
	f := newFixture()

	byPhone := f.upsert(t, march5, contact.Fields{Phone: "202-456-1111"}, "s1", Payload{})
	merged := f.upsert(t, march5, contact.Fields{Email: "jane@acme.com", Phone: "(202) 456-1111"}, "s2", Payload{})

	if merged.ID != byPhone.ID || merged.NormalizedEmail != "jane@acme.com" {
		t.Fatalf("expected the phone lead to absorb the email, got %+v", merged)
	}
	if n := len(f.repo.All()); n != 1 {
		t.Fatalf("expected one lead, got %d", n)
	}
}

func TestUpsertRecoversFromConcurrentInsert(t *testing.T) {
	f := newFixture()
	rival := domain.Apply(nil, domain.LeadInsert{ID: uuid.New(), TenantID: "t1", PeriodMonth: "2024-03", CreatedAt: march5},
		domain.LeadUpdate{SessionID: "other", Phone: "202-456-1111", NormalizedPhone: "2024561111", At: march5})

	var once sync.Once
	f.repo.BeforeWrite = func() {
		once.Do(func() {
			hook := f.repo.BeforeWrite
			f.repo.BeforeWrite = nil
			if _, err := f.repo.Upsert(context.Background(), domain.LeadInsert{ID: rival.ID, TenantID: "t1", PeriodMonth: "2024-03", CreatedAt: march5}, domain.KeyPhone,
				domain.LeadUpdate{SessionID: "other", Phone: rival.Phone, NormalizedPhone: rival.NormalizedPhone, At: march5}); err != nil {
				t.Errorf("rival insert failed: %v", err)
			}
			f.repo.BeforeWrite = hook
		})
	}

	lead := f.upsert(t, march5, contact.Fields{Email: "jane@acme.com", Phone: "202-456-1111"}, "s1", Payload{})
	if lead.ID != rival.ID || lead.NormalizedEmail != "jane@acme.com" {
		t.Fatalf("expected the retry to merge into the rival lead, got %+v", lead)
	}
	if n := len(f.repo.All()); n != 1 {
		t.Fatalf("expected one lead, got %d", n)
	}
}

func TestUpsertRequiresTenantAndSession(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Upsert(context.Background(), "t1", march5, contact.Fields{Email: "a@x.com"}, "", Payload{})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetIsTenantScoped(t *testing.T) {
	f := newFixture()
	lead := f.upsert(t, march5, contact.Fields{Email: "a@x.com"}, "s1", Payload{})

	if _, err := f.svc.Get(context.Background(), "t2", lead.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for another tenant, got %v", err)
	}
}

// resolveTogether holds the first n writes until all of them arrive, so every
// caller resolves its keys before any of them writes.
func resolveTogether(n int) func() {
	var (
		mu      sync.Mutex
		arrived int
	)
	release := make(chan struct{})
	return func() {
		mu.Lock()
		arrived++
		if arrived == n {
			close(release)
		}
		late := arrived > n
		mu.Unlock()
		if !late {
			<-release
		}
	}
}

func upsertConcurrently(t *testing.T, f *fixture, session string, contacts ...contact.Fields) {
	t.Helper()
	f.repo.BeforeWrite = resolveTogether(len(contacts))
	var wg sync.WaitGroup
	errs := make(chan error, len(contacts))
	for _, c := range contacts {
		wg.Add(1)
		go func(c contact.Fields) {
			defer wg.Done()
			if _, err := f.svc.Upsert(context.Background(), "t1", march5, c, session, Payload{}); err != nil {
				errs <- err
			}
		}(c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Upsert returned error: %v", err)
	}
}

func TestConcurrentRetriesWithWeakContactKeepOneLead(t *testing.T) {
	f := newFixture()
	upsertConcurrently(t, f, "s1", contact.Fields{Name: "Al"}, contact.Fields{Name: "Al"})

	leads := f.repo.All()
	if len(leads) != 1 {
		t.Fatalf("expected one lead for the session, got %d", len(leads))
	}
	if leads[0].Name != "Al" || leads[0].NormalizedName != "" {
		t.Fatalf("unexpected lead %+v", leads[0])
	}
}

func TestContactTurnRacingAnonymousCloseKeepsOneLead(t *testing.T) {
	f := newFixture()
	upsertConcurrently(t, f, "s1", contact.Fields{Email: "jane@acme.com"}, contact.Fields{})

	leads := f.repo.All()
	if len(leads) != 1 {
		t.Fatalf("expected one lead for session s1 in 2024-03, got %d: %+v", len(leads), leads)
	}
	lead := leads[0]
	if lead.Email != "jane@acme.com" || lead.IsAnonymous || lead.Status != domain.StatusFollowUp {
		t.Fatalf("expected the identified lead to survive, got %+v", lead)
	}
	if got := f.captured(); len(got) != 1 || got[0].LeadID != lead.ID {
		t.Fatalf("expected one capture event for the lead, got %+v", got)
	}
}

func TestContactUpsertAdoptsKeylessLeadOfSession(t *testing.T) {
	f := newFixture()
	anon := f.upsert(t, march5, contact.Fields{}, "s1", Payload{Summary: strPtr("asked about pricing")})

	written, err := f.repo.Upsert(context.Background(), domain.LeadInsert{ID: uuid.New(), TenantID: "t1", PeriodMonth: "2024-03", CreatedAt: march5},
		domain.KeyEmail, domain.LeadUpdate{SessionID: "s1", Email: "jane@acme.com", NormalizedEmail: "jane@acme.com", At: march5})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if written.Inserted || written.Adopted == nil || !written.Adopted.IsAnonymous {
		t.Fatalf("expected the anonymous lead to be adopted, got %+v", written)
	}
	if written.Lead.ID != anon.ID || written.Lead.Summary != "asked about pricing" || written.Lead.Status != domain.StatusFollowUp {
		t.Fatalf("unexpected adopted lead %+v", written.Lead)
	}
}
