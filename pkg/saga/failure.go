package saga

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTopology  = errors.New("saga: invalid topology")
	ErrUnknownRoute     = errors.New("saga: unknown route")
	ErrUnexpectedStatus = errors.New("saga: unexpected status")
	ErrUnknownStep      = errors.New("saga: source is not a topology step")
	ErrStaleOutcome     = errors.New("saga: stale outcome")
)

type FailureCode string

const (
	CodeDuplicateTransaction FailureCode = "DUPLICATE_TRANSACTION"
	CodeOutOfStock           FailureCode = "OUT_OF_STOCK"
	CodeInvalidAmount        FailureCode = "INVALID_AMOUNT"
	CodeRecordNotFound       FailureCode = "RECORD_NOT_FOUND"
	CodeInvalidPayload       FailureCode = "INVALID_PAYLOAD"
	CodeInfrastructure       FailureCode = "INFRASTRUCTURE"
)

// Failure is a business outcome, not a transport error. Participants turn it
// into a status transition and a history message.
type Failure struct {
	Code    FailureCode
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func Fail(code FailureCode, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
