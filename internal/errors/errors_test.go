package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/yield-scanner/internal/types"
)

func TestCategorizeServiceError(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{"INVALID_WINDOW", http.StatusBadRequest},
		{"INVALID_EVENT_KIND", http.StatusBadRequest},
		{"USER_NOT_FOUND", http.StatusNotFound},
		{"POSITION_NOT_FOUND", http.StatusNotFound},
		{"NO_USABLE_PRICE", http.StatusUnprocessableEntity},
		{"POSITION_EXCLUDED", http.StatusUnprocessableEntity},
		{"TIER_LIMIT_EXCEEDED", http.StatusForbidden},
		{"DUPLICATE_EVENT", http.StatusConflict},
		{"SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := &types.ServiceError{Code: tt.code, Message: "boom"}
			if got := GetHTTPStatusCode(err); got != tt.wantStatus {
				t.Errorf("GetHTTPStatusCode(%s) = %d, want %d", tt.code, got, tt.wantStatus)
			}
		})
	}
}

func TestCategorizePlainError(t *testing.T) {
	catErr := Categorize(errors.New("disk on fire"))
	if catErr.Category != CategorySystem {
		t.Errorf("category = %v, want system", catErr.Category)
	}
	if catErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", catErr.StatusCode)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(NewInvalidWindowError(-1)) {
		t.Error("user input error reported retryable")
	}
	if !IsRetryable(NewProviderTimeoutError("rpc")) {
		t.Error("provider timeout not reported retryable")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewDatabaseError("insert", cause)
	if !errors.Is(err, cause) {
		t.Error("categorized error does not unwrap to its cause")
	}
}
