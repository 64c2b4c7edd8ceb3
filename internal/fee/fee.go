// Package fee computes claim change from live fee-rate estimates.
package fee

import (
	"context"
	"errors"
	"fmt"
	"math"

	klog "github.com/Klingon-tech/klingdrop/internal/log"
	"github.com/Klingon-tech/klingdrop/internal/metrics"
	"github.com/Klingon-tech/klingdrop/pkg/tx"
)

var (
	ErrInvalidFeeRate = errors.New("invalid fee rate")
	ErrAmountRange    = errors.New("amount out of range")
)

// maxFeeRate keeps the claim fee within int64.
const maxFeeRate = float64(math.MaxInt64 / (2 * 226))

// DefaultTargetBlocks is the confirmation target claims are priced for.
const DefaultTargetBlocks = 6

// Oracle returns the sat/vbyte rate for confirmation within targetBlocks.
// Implementations must not retry; errors go straight to the caller.
type Oracle interface {
	EstimateFeeRate(ctx context.Context, targetBlocks int) (float64, error)
}

// Calculator derives the change output of a claim transaction.
type Calculator struct {
	oracle       Oracle
	targetBlocks int
}

// NewCalculator creates a Calculator priced for DefaultTargetBlocks.
func NewCalculator(oracle Oracle) *Calculator {
	return &Calculator{oracle: oracle, targetBlocks: DefaultTargetBlocks}
}

// WithTarget returns a copy of c priced for targetBlocks. Non-positive
// targets keep the current one.
func (c *Calculator) WithTarget(targetBlocks int) *Calculator {
	cp := *c
	if targetBlocks > 0 {
		cp.targetBlocks = targetBlocks
	}
	return &cp
}

// ComputeChange fetches a fresh fee rate and returns
// balance - dropSats - fee. The result may be zero or negative; rejecting
// such a claim is the caller's job. A rate that is not a positive finite
// number is an error, never a zero fee.
func (c *Calculator) ComputeChange(ctx context.Context, balance, dropSats uint64) (int64, error) {
	if balance > math.MaxInt64 || dropSats > math.MaxInt64 {
		return 0, fmt.Errorf("%w: balance %d, drop %d", ErrAmountRange, balance, dropSats)
	}

	rate, err := c.oracle.EstimateFeeRate(ctx, c.targetBlocks)
	if err != nil {
		return 0, fmt.Errorf("estimate fee rate: %w", err)
	}
	if math.IsNaN(rate) || rate <= 0 || rate > maxFeeRate {
		return 0, fmt.Errorf("%w: %v sat/vbyte for target %d", ErrInvalidFeeRate, rate, c.targetBlocks)
	}
	metrics.FeeRate(rate)

	change := ChangeFor(balance, dropSats, rate)
	klog.Fee.Debug().
		Float64("fee_rate", rate).
		Uint64("fee", tx.ClaimFee(rate)).
		Uint64("balance", balance).
		Uint64("drop", dropSats).
		Int64("change", change).
		Msg("Computed claim change")
	return change, nil
}

// ChangeFor returns the change of a one-input, two-output claim at the
// given fee rate. The rate is rounded up to a whole sat/vbyte. Amounts and
// the fee must fit in int64; ComputeChange checks that before calling it.
func ChangeFor(balance, dropSats uint64, feeRate float64) int64 {
	return int64(balance) - int64(dropSats) - int64(tx.ClaimFee(feeRate))
}
