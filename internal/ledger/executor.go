package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	klog "github.com/Klingon-tech/klingdrop/internal/log"
	"github.com/Klingon-tech/klingdrop/internal/metrics"
)

// Call states.
const (
	StateDispatched           = "dispatched"
	StatePendingRecovery      = "pending_recovery"
	StateCompleted            = "completed"
	StateDeserializationError = "deserialization_error"
	StateRemoteError          = "remote_error"
)

// Call events.
const (
	eventComplete    = "complete"
	eventRejectArgs  = "reject_args"
	eventFail        = "fail"
	eventAwaitStatus = "await_status"
)

// newCallMachine builds the state machine of one call attempt. Only
// dispatched may move to pending_recovery, so recovery cannot loop.
func newCallMachine(method string) *fsm.FSM {
	open := []string{StateDispatched, StatePendingRecovery}
	return fsm.NewFSM(
		StateDispatched,
		fsm.Events{
			{Name: eventComplete, Src: open, Dst: StateCompleted},
			{Name: eventRejectArgs, Src: open, Dst: StateDeserializationError},
			{Name: eventFail, Src: open, Dst: StateRemoteError},
			{Name: eventAwaitStatus, Src: []string{StateDispatched}, Dst: StatePendingRecovery},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				klog.Ledger.Debug().
					Str("method", method).
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("Call state")
			},
		},
	)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSleep replaces the function used to wait out the grace interval.
func WithSleep(sleep func(time.Duration)) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// Executor dispatches contract calls and classifies their errors.
type Executor struct {
	ledger    Ledger
	keyring   *Keyring
	networkID string
	sleep     func(time.Duration)
}

// NewExecutor creates an executor that signs mutating calls with
// credentials from keyring for networkID.
func NewExecutor(l Ledger, keyring *Keyring, networkID string, opts ...ExecutorOption) *Executor {
	if keyring == nil {
		keyring = NewKeyring()
	}
	e := &Executor{
		ledger:    l,
		keyring:   keyring,
		networkID: networkID,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Keyring returns the executor's credential set.
func (e *Executor) Keyring() *Keyring {
	return e.keyring
}

// View runs a read-only method.
func (e *Executor) View(ctx context.Context, contractID, method string, args interface{}) (Result, error) {
	return e.Call(ctx, CallRequest{ContractID: contractID, Method: method, Args: args})
}

// Mutate runs a state-changing method as accountID.
func (e *Executor) Mutate(ctx context.Context, accountID, contractID, method string, args interface{}) (Result, error) {
	return e.Call(ctx, CallRequest{
		AccountID:  accountID,
		ContractID: contractID,
		Method:     method,
		Args:       args,
		Mutating:   true,
	})
}

// Call dispatches req once and returns its decoded result. Errors are
// *DeserializationError or *RemoteError; ErrNoCredential is returned
// before dispatch when a mutating call has no credential.
func (e *Executor) Call(ctx context.Context, req CallRequest) (Result, error) {
	args, err := encodeArgs(req.Args)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s args: %w", req.Method, err)
	}

	var cred *Credential
	if req.Mutating {
		var ok bool
		cred, ok = e.keyring.Get(e.networkID, req.AccountID)
		if !ok {
			return Result{}, fmt.Errorf("%w %s on %s", ErrNoCredential, req.AccountID, e.networkID)
		}
	}

	machine := newCallMachine(req.Method)
	klog.Ledger.Debug().
		Str("contract", req.ContractID).
		Str("method", req.Method).
		Bool("mutating", req.Mutating).
		Uint64("gas", Gas).
		Msg("Dispatching call")

	var out *Outcome
	if req.Mutating {
		out, err = e.ledger.FunctionCall(ctx, cred, req.ContractID, req.Method, args, Gas)
	} else {
		out, err = e.ledger.ViewFunction(ctx, req.ContractID, req.Method, args, Gas)
	}
	if err != nil {
		return e.onError(ctx, machine, req, err)
	}
	return e.onOutcome(ctx, machine, req, out, nil)
}

func (e *Executor) onError(ctx context.Context, machine *fsm.FSM, req CallRequest, err error) (Result, error) {
	if isDeserialize(err.Error()) {
		return Result{}, e.rejectArgs(ctx, machine, req, err)
	}

	var pending *PendingTxError
	if req.Mutating && errors.As(err, &pending) && pending.TxHash != "" {
		return e.recover(ctx, machine, req, pending)
	}

	return Result{}, e.fail(ctx, machine, req, "", err)
}

// recover waits out the grace interval and resolves the call from the
// transaction's final status. The wait ignores cancellation: once a
// transaction may have executed, the outcome is looked up rather than
// abandoned.
func (e *Executor) recover(ctx context.Context, machine *fsm.FSM, req CallRequest, pending *PendingTxError) (Result, error) {
	e.transition(ctx, machine, eventAwaitStatus)
	klog.Ledger.Warn().
		Err(pending.Err).
		Str("method", req.Method).
		Str("tx_hash", pending.TxHash).
		Dur("grace", GraceInterval).
		Msg("Transaction timeout, will look up result after grace interval")

	e.sleep(GraceInterval)

	out, err := e.ledger.TxStatus(context.WithoutCancel(ctx), pending.TxHash, req.AccountID)
	if err != nil {
		return Result{}, e.fail(ctx, machine, req, pending.TxHash, fmt.Errorf("tx status: %w", err))
	}
	if out.TxHash == "" {
		out.TxHash = pending.TxHash
	}

	metrics.Recovery()
	return e.onOutcome(ctx, machine, req, out, &TimeoutRecovered{
		TxHash: pending.TxHash,
		Waited: GraceInterval,
		Err:    pending.Err,
	})
}

func (e *Executor) onOutcome(ctx context.Context, machine *fsm.FSM, req CallRequest, out *Outcome, recovered *TimeoutRecovered) (Result, error) {
	if out == nil {
		return Result{}, e.fail(ctx, machine, req, "", errors.New("empty outcome"))
	}

	if !out.Status.Final() {
		return Result{}, e.fail(ctx, machine, req, out.TxHash,
			fmt.Errorf("%w: status %s", ErrNotFinal, out.Status.Pending))
	}
	if !out.Status.Succeeded() {
		failure := &ExecutionFailure{Failure: string(out.Status.Failure)}
		if isDeserialize(failure.Failure) {
			return Result{}, e.rejectArgs(ctx, machine, req, failure)
		}
		return Result{}, e.fail(ctx, machine, req, out.TxHash, failure)
	}

	e.transition(ctx, machine, eventComplete)
	class := "completed"
	if recovered != nil {
		class = "recovered"
	}
	metrics.LedgerCall(req.Method, class)

	res := Decode(out)
	res.Recovered = recovered
	return res, nil
}

func (e *Executor) rejectArgs(ctx context.Context, machine *fsm.FSM, req CallRequest, err error) error {
	e.transition(ctx, machine, eventRejectArgs)
	metrics.LedgerCall(req.Method, "deserialization")
	klog.Ledger.Error().
		Err(err).
		Str("method", req.Method).
		Msgf("Bad arguments to %s method", req.Method)
	return &DeserializationError{Method: req.Method, Err: err}
}

func (e *Executor) fail(ctx context.Context, machine *fsm.FSM, req CallRequest, txHash string, err error) error {
	e.transition(ctx, machine, eventFail)
	metrics.LedgerCall(req.Method, "remote")
	klog.Ledger.Error().
		Err(err).
		Str("method", req.Method).
		Str("tx_hash", txHash).
		Msg("Call failed")
	return &RemoteError{Method: req.Method, TxHash: txHash, Err: err}
}

func (e *Executor) transition(ctx context.Context, machine *fsm.FSM, event string) {
	if err := machine.Event(context.WithoutCancel(ctx), event); err != nil {
		klog.Ledger.Warn().Err(err).Str("event", event).Msg("Unexpected call state transition")
	}
}

func encodeArgs(args interface{}) ([]byte, error) {
	switch v := args.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
