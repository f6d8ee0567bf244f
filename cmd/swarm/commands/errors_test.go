package commands

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
)

func TestTranslateAPIError_StatusMapping(t *testing.T) {
	cases := []struct {
		status   int
		wantCode int
	}{
		{http.StatusBadRequest, ExitInvalidInput},
		{http.StatusNotFound, ExitInvalidInput},
		{http.StatusConflict, ExitRecoverable},
		{http.StatusTooManyRequests, ExitRecoverable},
		{http.StatusServiceUnavailable, ExitRecoverable},
		{http.StatusGatewayTimeout, ExitRecoverable},
		{http.StatusInternalServerError, ExitIOError},
	}

	for _, tc := range cases {
		err := translateAPIError(&client.APIError{StatusCode: tc.status, Message: "boom"})
		assert.Equal(t, tc.wantCode, ExitCode(err))
	}
}

func TestTranslateAPIError_NonAPIError(t *testing.T) {
	err := translateAPIError(errors.New("connection refused"))
	assert.Equal(t, ExitIOError, ExitCode(err))
}

func TestExitCode_PlainError(t *testing.T) {
	assert.Equal(t, ExitInvalidInput, ExitCode(errors.New("bad args")))
	assert.Equal(t, 0, ExitCode(nil))
}

func TestNewExitError_WrapsUnderlying(t *testing.T) {
	underlying := errors.New("root cause")
	wrapped := NewExitError(ExitPostConditionFailed, underlying)
	assert.Equal(t, ExitPostConditionFailed, ExitCode(wrapped))
	assert.ErrorIs(t, wrapped, underlying)
}
