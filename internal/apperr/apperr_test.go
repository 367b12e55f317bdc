package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized},
		{"invalid", Invalid("content is required"), http.StatusBadRequest},
		{"forbidden", Forbidden("user %d is not a participant", 3), http.StatusForbidden},
		{"wrapped not found", fmt.Errorf("load chat: %w", ErrNotFound), http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Status(tc.err); got != tc.want {
				t.Errorf("Expected status %d, got %d", tc.want, got)
			}
		})
	}
}

func TestInvalidMessage(t *testing.T) {
	err := Invalid("content exceeds %d characters", 1000)
	if !errors.Is(err, ErrInvalid) {
		t.Fatal("Invalid() should wrap ErrInvalid")
	}
	if err.Error() != "invalid request: content exceeds 1000 characters" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
