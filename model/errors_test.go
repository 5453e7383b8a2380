package model

import (
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Form not found"}
	want := "NOT_FOUND: Form not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_Error_with_status(t *testing.T) {
	e := NewBackendError(422, "Validation failed: Username is taken")
	want := "BACKEND_ERROR (422): Validation failed: Username is taken"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAsEnvelope_wrapped(t *testing.T) {
	inner := NewForbiddenError("nope")
	err := fmt.Errorf("submit: %w", inner)

	ee, ok := AsEnvelope(err)
	if !ok {
		t.Fatal("AsEnvelope() ok = false, want true")
	}
	if ee != inner {
		t.Errorf("AsEnvelope() = %v, want %v", ee, inner)
	}

	if _, ok := AsEnvelope(fmt.Errorf("plain")); ok {
		t.Error("AsEnvelope(plain) ok = true, want false")
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unauthorized", NewUnauthorizedError("token revoked"), true},
		{"wrapped unauthorized", fmt.Errorf("x: %w", NewUnauthorizedError("expired")), true},
		{"forbidden", NewForbiddenError("no"), false},
		{"backend 500", NewBackendError(500, "boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.want {
				t.Errorf("IsAuthError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "display_name", Code: "REQUIRED", Message: "Display name is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "display_name" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "display_name")
	}
}

func TestConstructors_codes(t *testing.T) {
	tests := []struct {
		name string
		e    *ErrorEnvelope
		want string
	}{
		{"bad request", NewBadRequestError("bad json"), ErrBadRequest},
		{"unauthorized", NewUnauthorizedError("missing token"), ErrUnauthorized},
		{"forbidden", NewForbiddenError("access denied"), ErrForbidden},
		{"not found", NewNotFoundError("missing"), ErrNotFound},
		{"conflict", NewConflictError("duplicate"), ErrConflict},
		{"pending", NewSubmissionPendingError(), ErrSubmissionPending},
		{"internal", NewInternalError(), ErrInternalError},
		{"backend", NewBackendError(502, "bad gateway"), ErrBackendError},
		{"unavailable", NewBackendUnavailableError(), ErrBackendUnavailable},
		{"timeout", NewBackendTimeoutError(), ErrBackendTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.e.Code != tt.want {
				t.Errorf("Code = %q, want %q", tt.e.Code, tt.want)
			}
		})
	}
}

func TestFormDefinition_SubmitChangedOnly(t *testing.T) {
	var f FormDefinition
	if !f.SubmitChangedOnly() {
		t.Error("absent changed_only should default to true")
	}
	no := false
	f.ChangedOnly = &no
	if f.SubmitChangedOnly() {
		t.Error("changed_only: false should be honoured")
	}
}
