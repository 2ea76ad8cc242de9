package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := NotFound("conversation not found")
	wrapped := fmt.Errorf("close: %w", base)

	if !Is(wrapped, KindNotFound) {
		t.Fatalf("expected KindNotFound through fmt wrapping")
	}
	if GetKind(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors should be KindUnknown")
	}
}

func TestUnavailableIsRetryable(t *testing.T) {
	cause := errors.New("connection reset")
	err := Unavailable("load conversation", cause)

	if !IsRetryable(err) {
		t.Fatalf("unavailable errors should be retryable")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be reachable via errors.Is")
	}
	if IsRetryable(Validation("bad")) {
		t.Fatalf("validation errors are not retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:     http.StatusNotFound,
		KindValidation:   http.StatusBadRequest,
		KindConflict:     http.StatusConflict,
		KindForbidden:    http.StatusForbidden,
		KindUnauthorized: http.StatusUnauthorized,
		KindInternal:     http.StatusInternalServerError,
		KindUnavailable:  http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		if got := New(kind, "x").HTTPStatus(); got != want {
			t.Fatalf("kind %d: got %d, want %d", kind, got, want)
		}
	}
}

func TestErrorIncludesOp(t *testing.T) {
	err := Conflict("duplicate lead").WithOp("leads.upsert")
	if err.Error() != "leads.upsert: duplicate lead" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
