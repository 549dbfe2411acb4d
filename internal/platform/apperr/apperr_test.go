package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindExpired, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindPermissionDenied, http.StatusForbidden},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindExternal, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestIs_MatchesKindAndCode(t *testing.T) {
	sentinel := Conflict("ALREADY_TAKEN", "taken")
	wrapped := fmt.Errorf("claim: %w", Conflict("ALREADY_TAKEN", "other message"))

	if !errors.Is(wrapped, sentinel) {
		t.Error("expected wrapped error to match sentinel")
	}
	if errors.Is(wrapped, Conflict("ALREADY_PAID", "paid")) {
		t.Error("expected different code not to match")
	}
}

func TestKindOfAndCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", PermissionDenied("PROFILE_INCOMPLETE", "complete your profile"))
	if KindOf(err) != KindPermissionDenied {
		t.Errorf("expected PERMISSION_DENIED, got %s", KindOf(err))
	}
	if CodeOf(err) != "PROFILE_INCOMPLETE" {
		t.Errorf("expected PROFILE_INCOMPLETE, got %s", CodeOf(err))
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("expected unclassified error to be INTERNAL")
	}
	if CodeOf(errors.New("boom")) != "" {
		t.Error("expected empty code for unclassified error")
	}
}

func TestToHTTP(t *testing.T) {
	he := ToHTTP(NotFound("There isn't any reserve with this reserve_id."))
	if he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", he.Code)
	}
	body, ok := he.Message.(Body)
	if !ok {
		t.Fatalf("expected Body message, got %T", he.Message)
	}
	if body.Detail != "There isn't any reserve with this reserve_id." {
		t.Errorf("unexpected detail %q", body.Detail)
	}

	he = ToHTTP(errors.New("db exploded"))
	if he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", he.Code)
	}
	if he.Message.(Body).Detail != "internal server error" {
		t.Error("internal error detail must not leak")
	}

	if ToHTTP(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	err := RateLimited("slow down", 42)
	if err.RetryAfter != 42 {
		t.Errorf("expected 42, got %d", err.RetryAfter)
	}
}
