package apperror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/denverlabs/cococrm/internal/apperror"
)

func TestKindStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind apperror.Kind
		want int
	}{
		{apperror.Validation, http.StatusBadRequest},
		{apperror.Unauthenticated, http.StatusUnauthorized},
		{apperror.Forbidden, http.StatusForbidden},
		{apperror.NotFound, http.StatusNotFound},
		{apperror.Conflict, http.StatusConflict},
		{apperror.RateLimited, http.StatusTooManyRequests},
		{apperror.Internal, http.StatusInternalServerError},
		{apperror.Kind(42), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.kind.Status(); got != tc.want {
			t.Errorf("%v.Status() = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestPublicMessageHidesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("pq: relation \"users\" does not exist")
	err := fmt.Errorf("resolve: %w", apperror.Wrap(apperror.Internal, "", cause))

	if got := apperror.PublicMessage(err); got != "Internal server error" {
		t.Fatalf("PublicMessage() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause is not reachable through Unwrap")
	}
	if apperror.KindOf(err) != apperror.Internal {
		t.Fatalf("KindOf() = %v", apperror.KindOf(err))
	}
}

func TestUnclassifiedIsInternal(t *testing.T) {
	t.Parallel()

	err := errors.New("boom")
	if apperror.KindOf(err) != apperror.Internal {
		t.Fatal("plain error should classify as Internal")
	}
	if got := apperror.PublicMessage(err); got != "Internal server error" {
		t.Fatalf("PublicMessage() = %q", got)
	}
}

func TestPublicOverride(t *testing.T) {
	t.Parallel()

	err := apperror.New(apperror.Conflict, "Username is already taken")
	if got := apperror.PublicMessage(err); got != "Username is already taken" {
		t.Fatalf("PublicMessage() = %q", got)
	}
	if !apperror.Is(err, apperror.Conflict) {
		t.Fatal("Is(Conflict) = false")
	}
}
