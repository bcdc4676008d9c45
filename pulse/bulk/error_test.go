package bulk

import (
	"context"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/zbulk/errors"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"nil", nil, FailureUnknown},
		{"tagged wins", WithReason(errors.New("invalid thing"), FailureRemote), FailureRemote},
		{"wrapped tag", errors.Wrap(WithReason(errors.New("x"), FailureRateLimited), "call"), FailureRateLimited},
		{"cancelled", errors.Wrap(context.Canceled, "call"), FailureCancelled},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"unauthorized sentinel", errors.Wrap(errors.ErrUnauthorized, "token"), FailureUnauthorized},
		{"invalid request sentinel", errors.NewInvalidRequestError("missing email"), FailureValidation},
		{"net timeout", &url.Error{Op: "Post", URL: "https://x", Err: timeoutErr{}}, FailureTimeout},
		{"url error", &url.Error{Op: "Post", URL: "https://x", Err: errors.New("refused")}, FailureNetwork},
		{"message: connection", errors.New("connection reset by peer"), FailureNetwork},
		{"message: throttled", errors.New("429 Too Many Requests"), FailureRateLimited},
		{"message: invalid", errors.New("invalid mobile number"), FailureValidation},
		{"unknown", errors.New("something odd"), FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestFailureReason_Retryable(t *testing.T) {
	for _, r := range []FailureReason{FailureNetwork, FailureTimeout, FailureRateLimited, FailureServer} {
		assert.True(t, r.Retryable(), r)
	}
	for _, r := range []FailureReason{FailureHTTP, FailureValidation, FailureUnauthorized, FailureRemote, FailurePanic, FailureCancelled} {
		assert.False(t, r.Retryable(), r)
	}
}

func TestWithReason_Nil(t *testing.T) {
	assert.Nil(t, WithReason(nil, FailureHTTP))
}
