package repository

import (
	"strings"
	"testing"
)

func TestClaimQueryIsConditionalOnActive(t *testing.T) {
	if !strings.Contains(claimConversationQuery, "WHERE id = $1 AND status = 'active'") {
		t.Fatalf("expected claim to require active status")
	}
	if !strings.Contains(claimConversationQuery, "closing_since = $2") {
		t.Fatalf("expected claim to stamp closing_since")
	}
}

func TestReleaseQueryCountsAttempt(t *testing.T) {
	for name, query := range map[string]string{"release": releaseConversationQuery, "releaseStale": releaseStaleQuery} {
		if !strings.Contains(query, "close_attempts = close_attempts + 1") {
			t.Fatalf("%s: expected attempt counter increment", name)
		}
		if !strings.Contains(query, "status = 'closing'") {
			t.Fatalf("%s: expected guard on closing status", name)
		}
	}
	if !strings.Contains(releaseStaleQuery, "FOR UPDATE SKIP LOCKED") {
		t.Fatalf("expected stale release to skip locked rows")
	}
}

func TestFinalizeQueryRequiresClaim(t *testing.T) {
	if !strings.Contains(finalizeConversationQuery, "WHERE id = $1 AND status = 'closing'") {
		t.Fatalf("expected finalize to require closing status")
	}
}

func TestReopenQueryClearsClosedAt(t *testing.T) {
	if !strings.Contains(reopenConversationQuery, "closed_at = NULL") || !strings.Contains(reopenConversationQuery, "status = 'closed'") {
		t.Fatalf("expected reopen to clear closed_at on closed rows only")
	}
}

func TestOpenLookupsExcludeClosed(t *testing.T) {
	for name, query := range map[string]string{"findOpen": findOpenQuery, "findOpenBySession": findOpenBySessionQuery, "reassign": reassignConversationQuery} {
		if !strings.Contains(query, "status <> 'closed'") {
			t.Fatalf("%s: expected closed rows to be excluded", name)
		}
	}
	if !strings.Contains(findOpenBySessionQuery, "ORDER BY updated_at DESC") {
		t.Fatalf("expected most recent session conversation first")
	}
}

func TestTouchQueryKeepsKnownValues(t *testing.T) {
	if !strings.Contains(touchConversationQuery, "COALESCE($2, customer_id)") || !strings.Contains(touchConversationQuery, "COALESCE(NULLIF($3, ''), ip_address)") {
		t.Fatalf("expected touch to keep stored values when none are supplied")
	}
}
