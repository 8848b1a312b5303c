package apierror

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusByKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Forbidden, http.StatusForbidden},
		{OriginFailure, http.StatusBadGateway},
		{RewriteFailure, http.StatusInternalServerError},
		{Kind("unknown-kind"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got := New(tc.kind, "boom").Status()
		if got != tc.want {
			t.Errorf("Status() for %q = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("origin timeout")
	err := Wrap(OriginFailure, "fetch failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected Wrap to preserve the cause for errors.Is")
	}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestAsAPIErrorPassesThroughTypedErrors(t *testing.T) {
	original := New(NotFound, "no such key")
	if got := AsAPIError(original); got != original {
		t.Fatal("expected AsAPIError to return the same *Error instance")
	}
}

func TestAsAPIErrorClassifiesUnknown(t *testing.T) {
	got := AsAPIError(errors.New("some transport error"))
	if got.Kind != OriginFailure {
		t.Errorf("Kind = %q, want %q", got.Kind, OriginFailure)
	}
}
