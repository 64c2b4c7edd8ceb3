// Package claim runs the settlement pipeline for one drop: pick the
// funding output, compute change, have the contract sign the claim
// transaction, and optionally broadcast it.
package claim

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingdrop/internal/broadcast"
	"github.com/Klingon-tech/klingdrop/internal/derive"
	"github.com/Klingon-tech/klingdrop/internal/drop"
	"github.com/Klingon-tech/klingdrop/internal/journal"
	"github.com/Klingon-tech/klingdrop/internal/ledger"
	klog "github.com/Klingon-tech/klingdrop/internal/log"
	"github.com/Klingon-tech/klingdrop/internal/metrics"
	"github.com/Klingon-tech/klingdrop/internal/utxo"
	"github.com/Klingon-tech/klingdrop/pkg/types"
)

var (
	// ErrInsufficientChange is returned when the funding output cannot
	// cover the drop and the fee. Nothing is submitted.
	ErrInsufficientChange = errors.New("insufficient change")
	// ErrDuplicateFunding is returned when a batch names a funding address
	// twice; two claims against one address would spend the same output.
	ErrDuplicateFunding = errors.New("duplicate funding address in batch")
)

// Claim outcomes, as counted in metrics.
const (
	outcomeInvalidReceiver    = "invalid_receiver"
	outcomeNoUTXO             = "no_utxo"
	outcomeInsufficientChange = "insufficient_change"
	outcomeSigningFailed      = "signing_failed"
	outcomeNoResult           = "no_result"
	outcomeSigned             = "signed"
	outcomeBroadcast          = "broadcast"
	outcomeError              = "error"
)

// Selector picks the funding output of an address.
type Selector interface {
	SelectFundingUTXO(ctx context.Context, address string) (types.UTXO, error)
}

// ChangeCalculator computes the change of a claim transaction.
type ChangeCalculator interface {
	ComputeChange(ctx context.Context, balance, dropSats uint64) (int64, error)
}

// Contract signs claim transactions.
type Contract interface {
	Claim(ctx context.Context, args types.ClaimArgs) (drop.ClaimResult, error)
}

// Broadcaster submits signed transactions.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawTx []byte) error
}

// Drop names one claim to settle.
type Drop struct {
	FundingAddress string
	Receiver       string
	// DropSats is the payout; zero means types.DefaultDropSats.
	DropSats uint64
}

// Outcome is the result of a claim that reached the contract.
type Outcome struct {
	Attempt string
	Request types.ClaimRequest
	// TxHash is the ledger transaction that carried the claim call.
	TxHash string
	// Recovered is true when the result was read by status lookup after a
	// timeout.
	Recovered bool
	// SignedTx is the raw signed transaction, nil if the contract returned
	// nothing readable.
	SignedTx []byte
	// TxID is the id of SignedTx.
	TxID string
	// DecodeErr is set when the contract result could not be decoded.
	DecodeErr error
	// BroadcastErr is set when the broadcast failed. The transaction is
	// signed and may be resubmitted.
	BroadcastErr error
}

// Option configures a Claimer.
type Option func(*Claimer)

// WithBroadcaster submits signed transactions through b.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Claimer) { c.broadcaster = b }
}

// WithJournal records every attempt in j.
func WithJournal(j *journal.Journal) Option {
	return func(c *Claimer) { c.journal = j }
}

// WithConcurrency bounds the claims ClaimAll runs at once.
func WithConcurrency(n int) Option {
	return func(c *Claimer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Claimer runs claims. It holds no per-claim state and is safe for
// concurrent use.
type Claimer struct {
	selector    Selector
	change      ChangeCalculator
	contract    Contract
	params      *chaincfg.Params
	broadcaster Broadcaster
	journal     *journal.Journal
	concurrency int
}

// New creates a Claimer paying receivers on the chain described by params.
func New(selector Selector, change ChangeCalculator, contract Contract, params *chaincfg.Params, opts ...Option) *Claimer {
	c := &Claimer{
		selector:    selector,
		change:      change,
		contract:    contract,
		params:      params,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claim settles d. Steps run strictly in order and each one's result is
// known before the next starts. A broadcast failure does not fail the
// claim; it is reported in Outcome.BroadcastErr.
func (c *Claimer) Claim(ctx context.Context, d Drop) (*Outcome, error) {
	attempt := uuid.NewString()
	logger := klog.WithAttempt(attempt)
	req := types.NewClaimRequest(d.FundingAddress, d.Receiver, d.DropSats)

	if err := derive.ValidateReceiver(req.Receiver, c.params); err != nil {
		metrics.ClaimOutcome(outcomeInvalidReceiver)
		return nil, err
	}

	u, err := c.selector.SelectFundingUTXO(ctx, req.FundingAddress)
	if err != nil {
		if errors.Is(err, utxo.ErrNotFound) {
			metrics.ClaimOutcome(outcomeNoUTXO)
		} else {
			metrics.ClaimOutcome(outcomeError)
		}
		return nil, fmt.Errorf("select funding utxo: %w", err)
	}
	req = req.WithUTXO(u)
	c.record(logger, attempt, req, journal.StateSelected, nil)

	change, err := c.change.ComputeChange(ctx, u.Value, req.DropSats)
	if err != nil {
		metrics.ClaimOutcome(outcomeError)
		c.record(logger, attempt, req, journal.StateFailed, func(r *journal.Record) { r.Error = err.Error() })
		return nil, fmt.Errorf("compute change: %w", err)
	}
	req = req.WithChange(change)

	if req.ChangeSats <= 0 {
		metrics.ClaimOutcome(outcomeInsufficientChange)
		err := fmt.Errorf("%w: utxo %s holds %d sats, drop %d, change %d",
			ErrInsufficientChange, u.Outpoint(), u.Value, req.DropSats, req.ChangeSats)
		c.record(logger, attempt, req, journal.StateRejected, func(r *journal.Record) { r.Error = err.Error() })
		return nil, err
	}

	logger.Info().
		Str("funding", req.FundingAddress).
		Str("receiver", req.Receiver).
		Str("outpoint", u.Outpoint().String()).
		Uint64("value", u.Value).
		Uint64("drop", req.DropSats).
		Int64("change", req.ChangeSats).
		Int64("fee", req.Fee()).
		Msg("Submitting claim")
	c.record(logger, attempt, req, journal.StateSubmitted, nil)

	res, err := c.contract.Claim(ctx, req.Args())
	out := &Outcome{
		Attempt:   attempt,
		Request:   req,
		TxHash:    res.Result.TxHash,
		Recovered: res.Result.Recovered != nil,
	}
	if res.Result.DecodeErr != nil {
		out.DecodeErr = res.Result.DecodeErr
	}
	if err != nil {
		var remote *ledger.RemoteError
		if out.TxHash == "" && errors.As(err, &remote) {
			out.TxHash = remote.TxHash
		}
		if errors.Is(err, drop.ErrSigningFailed) {
			metrics.ClaimOutcome(outcomeSigningFailed)
		} else {
			metrics.ClaimOutcome(outcomeError)
		}
		c.record(logger, attempt, req, journal.StateFailed, func(r *journal.Record) {
			r.TxHash = out.TxHash
			r.Error = err.Error()
		})
		return nil, fmt.Errorf("claim: %w", err)
	}

	if res.SignedTx == "" {
		metrics.ClaimOutcome(outcomeNoResult)
		logger.Warn().
			Str("tx_hash", out.TxHash).
			Msg("Claim returned no transaction")
		c.record(logger, attempt, req, journal.StateSubmitted, func(r *journal.Record) {
			r.TxHash = out.TxHash
			r.Recovered = out.Recovered
			if out.DecodeErr != nil {
				r.Error = out.DecodeErr.Error()
			}
		})
		return out, nil
	}

	raw, err := hex.DecodeString(res.SignedTx)
	if err != nil {
		metrics.ClaimOutcome(outcomeError)
		err = fmt.Errorf("%w: signed transaction is not hex: %v", drop.ErrUnexpectedResult, err)
		c.record(logger, attempt, req, journal.StateFailed, func(r *journal.Record) {
			r.TxHash = out.TxHash
			r.Result = res.SignedTx
			r.Error = err.Error()
		})
		return nil, err
	}
	out.SignedTx = raw
	out.TxID = broadcast.TxID(raw)

	logger.Info().
		Str("tx_hash", out.TxHash).
		Str("txid", out.TxID).
		Bool("recovered", out.Recovered).
		Msg("Claim transaction signed")

	state := journal.StateSigned
	outcome := outcomeSigned
	if c.broadcaster != nil {
		if err := c.broadcaster.Broadcast(ctx, raw); err != nil {
			out.BroadcastErr = err
		} else {
			state = journal.StateBroadcast
			outcome = outcomeBroadcast
		}
	}

	metrics.ClaimOutcome(outcome)
	c.record(logger, attempt, req, state, func(r *journal.Record) {
		r.TxHash = out.TxHash
		r.Recovered = out.Recovered
		r.Result = res.SignedTx
		if out.BroadcastErr != nil {
			r.Error = out.BroadcastErr.Error()
		}
	})
	return out, nil
}

// record writes the attempt to the journal. Journal failures are logged
// and never fail the claim.
func (c *Claimer) record(logger zerolog.Logger, attempt string, req types.ClaimRequest, state journal.State, fill func(*journal.Record)) {
	if c.journal == nil {
		return
	}
	rec := &journal.Record{
		Attempt:        attempt,
		FundingAddress: req.FundingAddress,
		Receiver:       req.Receiver,
		TxID:           req.UTXO.TxID,
		Vout:           req.UTXO.Vout,
		DropSats:       req.DropSats,
		ChangeSats:     req.ChangeSats,
		State:          state,
	}
	if fill != nil {
		fill(rec)
	}
	if err := c.journal.Put(rec); err != nil {
		logger.Warn().Err(err).Str("state", string(state)).Msg("Failed to journal claim")
	}
}
