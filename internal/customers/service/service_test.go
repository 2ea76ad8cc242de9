package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/customers/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var testStart = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newService() (*Service, *repository.Memory, *clock.Fake) {
	repo := repository.NewMemory()
	clk := clock.NewFake(testStart)
	return New(repo, clk, nil), repo, clk
}

func TestCreateOrUpdateConvergesAcrossSessions(t *testing.T) {
	svc, _, clk := newService()
	ctx := context.Background()

	first, err := svc.CreateOrUpdate(ctx, "t1", "s1", contact.Fields{Email: "a@x.com"}, "198.51.100.1")
	if err != nil || first == nil {
		t.Fatalf("first CreateOrUpdate: %v, %v", first, err)
	}
	if first.IsReturning || first.TotalSessions != 1 {
		t.Fatalf("expected new customer, got %+v", first)
	}

	clk.Advance(24 * time.Hour)
	found, err := svc.FindByContact(ctx, "t1", contact.Fields{Email: "A@X.com "})
	if err != nil || found == nil || found.ID != first.ID {
		t.Fatalf("expected FindByContact to return the first customer, got %v (%v)", found, err)
	}

	second, err := svc.CreateOrUpdate(ctx, "t1", "s2", contact.Fields{Email: "a@x.com"}, "198.51.100.2")
	if err != nil {
		t.Fatalf("second CreateOrUpdate: %v", err)
	}
	if second.ID != first.ID || !second.IsReturning || second.TotalSessions != 2 {
		t.Fatalf("expected returning customer with two sessions, got %+v", second)
	}
	if len(second.IPAddresses) != 2 || !second.LastSeen.After(first.LastSeen) {
		t.Fatalf("expected both IPs and a newer last_seen, got %+v", second)
	}

	again, err := svc.CreateOrUpdate(ctx, "t1", "s2", contact.Fields{Email: "a@x.com"}, "198.51.100.2")
	if err != nil || again.TotalSessions != 2 || len(again.IPAddresses) != 2 {
		t.Fatalf("expected repeated visit to keep set semantics, got %+v (%v)", again, err)
	}
}

func TestCreateOrUpdateWithoutContactReturnsNil(t *testing.T) {
	svc, repo, _ := newService()
	got, err := svc.CreateOrUpdate(context.Background(), "t1", "s1", contact.Fields{Name: "Jane"}, "")
	if err != nil || got != nil {
		t.Fatalf("expected nil customer, got %v (%v)", got, err)
	}
	if len(repo.All()) != 0 {
		t.Fatal("expected nothing stored")
	}
}

func TestCreateOrUpdateIsTenantScoped(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()
	if _, err := svc.CreateOrUpdate(ctx, "t1", "s1", contact.Fields{Email: "a@x.com"}, ""); err != nil {
		t.Fatalf("CreateOrUpdate t1: %v", err)
	}
	other, err := svc.CreateOrUpdate(ctx, "t2", "s1", contact.Fields{Email: "a@x.com"}, "")
	if err != nil {
		t.Fatalf("CreateOrUpdate t2: %v", err)
	}
	if other.IsReturning || len(repo.All()) != 2 {
		t.Fatalf("expected a separate customer per tenant, got %+v", other)
	}
}

func TestCreateOrUpdateConcurrentFirstContact(t *testing.T) {
	svc, repo, _ := newService()

	const visitors = 12
	var g errgroup.Group
	for i := 0; i < visitors; i++ {
		session := fmt.Sprintf("s%d", i)
		g.Go(func() error {
			_, err := svc.CreateOrUpdate(context.Background(), "t1", session, contact.Fields{Phone: "+1 (202) 456-1111"}, "")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("CreateOrUpdate returned error: %v", err)
	}

	all := repo.All()
	if len(all) != 1 {
		t.Fatalf("expected one customer, got %d", len(all))
	}
	if all[0].TotalSessions != visitors || !all[0].IsReturning {
		t.Fatalf("expected %d sessions on the single customer, got %+v", visitors, all[0])
	}
}

func TestCreateOrUpdateRetriesWithoutFillOnKeyCollision(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	byEmail, _ := svc.CreateOrUpdate(ctx, "t1", "s1", contact.Fields{Email: "a@x.com"}, "")
	byPhone, _ := svc.CreateOrUpdate(ctx, "t1", "s2", contact.Fields{Phone: "2024561111"}, "")

	merged, err := svc.CreateOrUpdate(ctx, "t1", "s3", contact.Fields{Email: "a@x.com", Phone: "202-456-1111", Name: "Ann Lee"}, "")
	if err != nil {
		t.Fatalf("CreateOrUpdate returned error: %v", err)
	}
	if merged.ID != byEmail.ID {
		t.Fatal("expected the email match to win")
	}
	if merged.NormalizedPhone != "" || merged.Name != "Ann Lee" || merged.TotalSessions != 2 {
		t.Fatalf("expected visit recorded without taking the phone, got %+v", merged)
	}
	for _, c := range repo.All() {
		if c.ID == byPhone.ID && c.NormalizedPhone != "2024561111" {
			t.Fatalf("phone owner changed: %+v", c)
		}
	}
}

func TestFindByContactBackfillsRawRows(t *testing.T) {
	svc, repo, _ := newService()
	legacy := repository.Customer{
		ID:        uuid.New(),
		TenantID:  "t1",
		Email:     "jane@acme.com",
		Phone:     "(202) 456-1111",
		Sessions:  []string{"old"},
		FirstSeen: testStart.Add(-time.Hour),
		LastSeen:  testStart.Add(-time.Hour),
	}
	repo.Seed(legacy)

	found, err := svc.FindByContact(context.Background(), "t1", contact.Fields{Email: "jane@acme.com"})
	if err != nil || found == nil || found.ID != legacy.ID {
		t.Fatalf("expected raw match, got %v (%v)", found, err)
	}
	svc.WaitBackfills()

	for _, c := range repo.All() {
		if c.NormalizedEmail != "jane@acme.com" || c.NormalizedPhone != "2024561111" {
			t.Fatalf("expected normalized keys backfilled, got %+v", c)
		}
	}
}

type failingBackfill struct {
	*repository.Memory
}

func (failingBackfill) Backfill(context.Context, uuid.UUID, string, string) error {
	return errors.New("write timeout")
}

func TestBackfillFailureDoesNotFailRead(t *testing.T) {
	repo := repository.NewMemory()
	repo.Seed(repository.Customer{ID: uuid.New(), TenantID: "t1", Phone: "555-123-4567", FirstSeen: testStart, LastSeen: testStart})
	svc := New(failingBackfill{repo}, clock.NewFake(testStart), nil)

	found, err := svc.FindByContact(context.Background(), "t1", contact.Fields{Phone: "555-123-4567"})
	svc.WaitBackfills()
	if err != nil || found == nil {
		t.Fatalf("expected read to succeed, got %v (%v)", found, err)
	}
}
