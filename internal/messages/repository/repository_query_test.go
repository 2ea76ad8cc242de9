package repository

import (
	"strings"
	"testing"
)

func TestListMessagesQueryOrdersByTimestampThenSequence(t *testing.T) {
	query := strings.ToLower(listMessagesQuery)

	requiredFragments := []string{
		"where conversation_id = $1",
		"order by created_at asc, seq asc",
	}
	for _, fragment := range requiredFragments {
		if !strings.Contains(query, fragment) {
			t.Fatalf("expected query fragment %q to be present", fragment)
		}
	}
}

func TestInsertMessageQueryIsAppendOnly(t *testing.T) {
	query := strings.ToLower(insertMessageQuery)

	if strings.Contains(query, "on conflict") || strings.Contains(query, "update") {
		t.Fatal("message insert must never overwrite an existing row")
	}
	if !strings.Contains(query, "returning seq") {
		t.Fatal("message insert must return the tie-breaking sequence")
	}
}
