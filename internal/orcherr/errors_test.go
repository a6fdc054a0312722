package orcherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "depends_on", Message: "cycle detected"}
	require.Equal(t, `validation: depends_on: cycle detected`, err.Error())

	bare := &ValidationError{Message: "empty dag"}
	require.Equal(t, "validation: empty dag", bare.Error())
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Kind: "checkpoint", ID: "cp-1"}
	require.Equal(t, `checkpoint "cp-1" not found`, err.Error())
}

func TestRBACDeniedErrorMessage(t *testing.T) {
	err := &RBACDeniedError{User: "alice", Action: "mail.delete", Required: "Admin"}
	require.Contains(t, err.Error(), "alice")
	require.Contains(t, err.Error(), "Admin")
}

func TestRetryableErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := &RetryableError{Cause: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "retryable")
}

func TestFatalErrorUnwraps(t *testing.T) {
	cause := errors.New("bad request")
	err := &FatalError{Cause: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "fatal")
}

func TestErrorsAsDiscriminatesTaxonomy(t *testing.T) {
	var err error = &ConflictError{Resource: "checkpoint:cp-1", Reason: "duplicate signer"}

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "duplicate signer", conflict.Reason)

	var notFound *NotFoundError
	require.False(t, errors.As(err, &notFound))
}

func TestExpiredAndRateLimitedMessages(t *testing.T) {
	exp := &ExpiredError{Resource: "checkpoint:cp-1", At: "2026-01-01T00:00:00Z"}
	require.Contains(t, exp.Error(), "expired")

	rl := &RateLimitedError{Tenant: "acme"}
	require.Contains(t, rl.Error(), "rate limited")

	rlWithHint := &RateLimitedError{Tenant: "acme", RetryAfter: "5s"}
	require.Contains(t, rlWithHint.Error(), "retry after 5s")
}
