package util

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestIsRetryableErrorTerminal(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		errType string
	}{
		{"missing creds", errors.New("missing imap credentials"), "missing_credentials"},
		{"decrypt failure", errors.New("failed to decrypt credentials: cipher: message authentication failed"), "missing_credentials"},
		{"account gone", errors.New("account not found: abc"), "not_found"},
		{"message gone", errors.New("message not found: def"), "not_found"},
		{"sync disabled", errors.New("sync disabled for account abc"), "sync_disabled"},
		{"no rows", pgx.ErrNoRows, "row_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tc.err)
			if retryable {
				t.Errorf("%v should be terminal", tc.err)
			}
			if errType != tc.errType {
				t.Errorf("errType = %q, want %q", errType, tc.errType)
			}
		})
	}
}

func TestIsRetryableErrorTransient(t *testing.T) {
	cases := []error{
		errors.New("session pool exhausted"),
		errors.New("invalid messageset"),
		errors.New("dial tcp: connection refused"),
		errors.New("llm request failed: 503"),
		errors.New("classifier request failed: 502"),
		context.DeadlineExceeded,
	}
	for _, err := range cases {
		if retryable, _ := IsRetryableError(err); !retryable {
			t.Errorf("%v should be retryable", err)
		}
	}
}

func TestIsRetryableErrorNil(t *testing.T) {
	if retryable, errType := IsRetryableError(nil); retryable || errType != "" {
		t.Error("nil error must not be retryable")
	}
}
