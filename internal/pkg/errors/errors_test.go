package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeValidation, "invalid input"),
			want: "VALIDATION_ERROR: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
		{
			name: "collaborator",
			err:  CollaboratorError("click model", errors.New("negative label")),
			want: "COLLABORATOR_FAILURE: click model failed: negative label",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is() should find the wrapped error")
	}
}

func TestAppError_ExitCode(t *testing.T) {
	tests := []struct {
		code string
		exit int
	}{
		{CodeValidation, 2},
		{CodeConfiguration, 2},
		{CodeNotFound, 3},
		{CodeDataInconsistency, 4},
		{CodeCollaborator, 5},
		{CodeUnavailable, 6},
		{CodeTimeout, 6},
		{CodeInternal, 1},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test")
			if got := err.ExitCode(); got != tt.exit {
				t.Errorf("ExitCode() = %d, want %d", got, tt.exit)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
	if got := ExitCode(errors.New("plain")); got != 1 {
		t.Errorf("ExitCode(plain) = %d, want 1", got)
	}
	wrapped := fmt.Errorf("round 3: %w", DataInconsistencyError("row out of range"))
	if got := ExitCode(wrapped); got != 4 {
		t.Errorf("ExitCode(wrapped data inconsistency) = %d, want 4", got)
	}
}

func TestAppError_WithDetails(t *testing.T) {
	err := New(CodeValidation, "invalid").
		WithDetails(map[string]string{"field": "iterations"})

	if err.Details["field"] != "iterations" {
		t.Errorf("Details[field] = %s, want iterations", err.Details["field"])
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := New(CodeDataInconsistency, "row out of range").
		WithDetail("qid", "7").
		WithDetail("row", "120")

	if err.Details["qid"] != "7" {
		t.Errorf("Details[qid] = %s, want 7", err.Details["qid"])
	}

	if err.Details["row"] != "120" {
		t.Errorf("Details[row] = %s, want 120", err.Details["row"])
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("bad input")
		if err.Code != CodeValidation {
			t.Errorf("Code = %s, want %s", err.Code, CodeValidation)
		}
	})

	t.Run("NotFoundError", func(t *testing.T) {
		err := NotFoundError("ranker")
		if err.Code != CodeNotFound {
			t.Errorf("Code = %s, want %s", err.Code, CodeNotFound)
		}
		if err.Message != "ranker not found" {
			t.Errorf("Message = %s, want 'ranker not found'", err.Message)
		}
	})

	t.Run("ConfigurationError", func(t *testing.T) {
		err := ConfigurationError("empty history")
		if err.Code != CodeConfiguration {
			t.Errorf("Code = %s, want %s", err.Code, CodeConfiguration)
		}
	})

	t.Run("InternalError", func(t *testing.T) {
		underlying := errors.New("disk error")
		err := InternalError("failed", underlying)
		if err.Code != CodeInternal {
			t.Errorf("Code = %s, want %s", err.Code, CodeInternal)
		}
		if err.Unwrap() != underlying {
			t.Error("Underlying error not preserved")
		}
	})

	t.Run("TimeoutError", func(t *testing.T) {
		err := TimeoutError("publish")
		if err.Message != "publish timed out" {
			t.Errorf("Message = %s, want 'publish timed out'", err.Message)
		}
	})

	t.Run("ServiceUnavailableError", func(t *testing.T) {
		err := ServiceUnavailableError("")
		if err.Message != "service unavailable" {
			t.Errorf("Message = %s, want 'service unavailable'", err.Message)
		}
	})
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"not found", NotFoundError("x"), IsNotFound, true},
		{"validation is not not-found", ValidationError("x"), IsNotFound, false},
		{"plain error", errors.New("x"), IsNotFound, false},
		{"validation", ValidationError("x"), IsValidation, true},
		{"configuration", ConfigurationError("x"), IsConfiguration, true},
		{"wrapped configuration", fmt.Errorf("retrain: %w", ConfigurationError("x")), IsConfiguration, true},
		{"collaborator", CollaboratorError("ranker", errors.New("x")), IsCollaborator, true},
		{"data inconsistency", DataInconsistencyError("x"), IsDataInconsistency, true},
		{"nil", nil, IsDataInconsistency, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("predicate(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
