package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Executor errors.
var (
	ErrNoCredential         = errors.New("no credential installed for account")
	ErrCredentialAlreadySet = errors.New("credential already installed")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrNotFinal             = errors.New("transaction not final after grace interval")
)

var deserializePattern = regexp.MustCompile(`(?i)deserialize`)

// isDeserialize reports whether text carries the contract's argument
// decoding failure signature.
func isDeserialize(text string) bool {
	return deserializePattern.MatchString(text)
}

// DeserializationError means the contract rejected the argument encoding.
// It is a caller bug and is never retried.
type DeserializationError struct {
	Method string
	Err    error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("bad arguments to %s method: %v", e.Method, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// RemoteError is any other remote failure. TxHash is set when the failure
// was read from a transaction outcome.
type RemoteError struct {
	Method string
	TxHash string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s call failed (tx %s): %v", e.Method, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s call failed: %v", e.Method, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// ExecutionFailure carries the failure status of a finished transaction.
type ExecutionFailure struct {
	Failure string
}

func (e *ExecutionFailure) Error() string {
	return "execution failed: " + e.Failure
}

// TimeoutRecovered marks a result that was obtained by looking up a
// transaction after an ambiguous timeout. It is informational; the call
// itself completed.
type TimeoutRecovered struct {
	TxHash string
	Waited time.Duration
	Err    error
}

func (e *TimeoutRecovered) Error() string {
	return fmt.Sprintf("recovered tx %s after %s: %v", e.TxHash, e.Waited, e.Err)
}

func (e *TimeoutRecovered) Unwrap() error { return e.Err }

// DecodeError means a success payload could not be read. The remote effect
// already happened, so it is reported alongside the result and never
// returned as a call failure.
type DecodeError struct {
	TxHash string
	Record string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("parse success value for transaction %s: %v", e.TxHash, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
