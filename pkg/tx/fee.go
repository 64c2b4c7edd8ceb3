// Package tx holds the transaction size model used for fee estimation.
package tx

import "math"

// Legacy P2PKH size components, in virtual bytes. The model is not
// segwit-aware.
const (
	InputVBytes    = 148
	OutputVBytes   = 34
	OverheadVBytes = 10
)

// Claim transactions always spend one input into a drop output and a
// change output.
const (
	ClaimInputs  = 1
	ClaimOutputs = 2
)

// EstimateVBytes returns the estimated size of a transaction with the given
// number of inputs and outputs:
//
//	inputs*148 + outputs*34 + 10
func EstimateVBytes(numInputs, numOutputs int) uint64 {
	return uint64(numInputs*InputVBytes + numOutputs*OutputVBytes + OverheadVBytes)
}

// CeilFeeRate rounds a fractional sat/vbyte rate up to the next whole
// sat/vbyte. Rates that are not positive finite numbers give zero; callers
// pricing a transaction reject them first.
func CeilFeeRate(rate float64) uint64 {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 || rate >= math.MaxUint64 {
		return 0
	}
	return uint64(math.Ceil(rate))
}

// EstimateTxFee returns the fee for a transaction with the given number of
// inputs and outputs at the given fee rate. The rate is rounded up first.
func EstimateTxFee(numInputs, numOutputs int, feeRate float64) uint64 {
	return EstimateVBytes(numInputs, numOutputs) * CeilFeeRate(feeRate)
}

// ClaimFee returns the fee of a claim transaction at the given rate.
func ClaimFee(feeRate float64) uint64 {
	return EstimateTxFee(ClaimInputs, ClaimOutputs, feeRate)
}
