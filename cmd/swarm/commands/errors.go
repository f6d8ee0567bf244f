package commands

import (
	"errors"
	"net/http"

	"github.com/moai-flow/swarm-kernel/cmd/swarm/client"
)

// Exit codes per the CLI surface's exit-code contract: 0 success,
// 1 recoverable error, 2 invalid input, 3 I/O/system error, 4
// post-condition check failed.
const (
	ExitRecoverable         = 1
	ExitInvalidInput        = 2
	ExitIOError             = 3
	ExitPostConditionFailed = 4
)

// ExitError pairs a command failure with the process exit code main()
// should use, so cobra's plain error return still carries that
// information out of RunE.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err}
}

// ExitCode extracts the exit code intended for err, defaulting to
// ExitInvalidInput for any error that never went through
// translateAPIError or NewExitError — in practice that's cobra's own
// argument-count/flag-parsing failures, which are invalid input by
// definition.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitInvalidInput
}

// translateAPIError maps internal/api's HTTP status codes back onto the
// CLI's exit-code contract, mirroring internal/api/handlers.go's
// statusForKind in the opposite direction.
func translateAPIError(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return NewExitError(ExitIOError, err)
	}

	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return NewExitError(ExitInvalidInput, apiErr)
	case http.StatusConflict, http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return NewExitError(ExitRecoverable, apiErr)
	default:
		return NewExitError(ExitIOError, apiErr)
	}
}
