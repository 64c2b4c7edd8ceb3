// Package ledger executes contract calls against a remote smart-contract
// ledger and decodes their results.
//
// Every call is dispatched once with a fixed gas budget. Errors are
// classified before they reach the caller:
//
//   - argument encoding rejected by the contract: *DeserializationError
//   - mutating call accepted but unconfirmed: wait GraceInterval, look the
//     transaction up once, and resolve from its final status
//   - anything else: *RemoteError
//
// Nothing is retried except that single status lookup.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Gas is the budget attached to every call (300 Tgas).
const Gas uint64 = 300_000_000_000_000

// GraceInterval is how long the executor waits before looking up the final
// status of a transaction whose outcome it could not confirm.
const GraceInterval = 20 * time.Second

// Ledger is the remote account/contract layer.
type Ledger interface {
	// ViewFunction runs a read-only method.
	ViewFunction(ctx context.Context, contractID, method string, args []byte, gas uint64) (*Outcome, error)
	// FunctionCall signs with signer and submits a mutating call. When the
	// network accepted the transaction but its outcome is unknown, the error
	// is a *PendingTxError carrying the transaction hash.
	FunctionCall(ctx context.Context, signer *Credential, contractID, method string, args []byte, gas uint64) (*Outcome, error)
	// TxStatus returns the final outcome of a transaction sent by senderID.
	TxStatus(ctx context.Context, txHash, senderID string) (*Outcome, error)
}

// ExecutionStatus is the status of a call. Exactly one of SuccessValue and
// Failure is set for a finished call. Pending names a status that is not
// final yet ("NotStarted", "Started").
type ExecutionStatus struct {
	SuccessValue *string         `json:"SuccessValue,omitempty"`
	Failure      json.RawMessage `json:"Failure,omitempty"`
	Pending      string          `json:"-"`
}

// Final reports whether the call has finished.
func (s ExecutionStatus) Final() bool {
	return s.Pending == ""
}

// Succeeded reports whether the call finished without failure.
func (s ExecutionStatus) Succeeded() bool {
	return s.Final() && len(s.Failure) == 0
}

// Outcome is a completed call or transaction record.
type Outcome struct {
	TxHash string
	Status ExecutionStatus
	// Raw is the full record as returned by the ledger, kept for logging.
	Raw json.RawMessage
}

// SuccessOutcome builds an Outcome whose success payload is value
// (already base64 encoded).
func SuccessOutcome(txHash, value string) *Outcome {
	return &Outcome{TxHash: txHash, Status: ExecutionStatus{SuccessValue: &value}}
}

// PendingTxError reports a transaction the network accepted but whose final
// status the client could not confirm before its deadline.
type PendingTxError struct {
	TxHash string
	Err    error
}

func (e *PendingTxError) Error() string {
	return fmt.Sprintf("transaction %s pending: %v", e.TxHash, e.Err)
}

func (e *PendingTxError) Unwrap() error { return e.Err }

// CallRequest names one contract method invocation.
type CallRequest struct {
	// AccountID is the calling account. Mutating calls are signed with its
	// credential.
	AccountID  string
	ContractID string
	Method     string
	// Args is JSON-encoded; nil means an empty object.
	Args     interface{}
	Mutating bool
}
