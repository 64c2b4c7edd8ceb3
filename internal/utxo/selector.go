// Package utxo picks the funding output for a claim.
package utxo

import (
	"context"
	"errors"
	"fmt"

	klog "github.com/Klingon-tech/klingdrop/internal/log"
	"github.com/Klingon-tech/klingdrop/internal/metrics"
	"github.com/Klingon-tech/klingdrop/pkg/types"
)

// ErrNotFound is returned when the address has no unspent outputs yet.
// Callers may retry once the address is funded.
var ErrNotFound = errors.New("no utxos for address")

// Source lists the unspent outputs of an address.
type Source interface {
	AddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error)
}

// Selector chooses one funding output per call. Nothing is cached between
// calls; every selection re-reads the index.
type Selector struct {
	source Source
}

// NewSelector creates a Selector over source.
func NewSelector(source Source) *Selector {
	return &Selector{source: source}
}

// SelectFundingUTXO returns the highest-value output of address. Ties are
// broken by keeping the first output the index reported.
func (s *Selector) SelectFundingUTXO(ctx context.Context, address string) (types.UTXO, error) {
	utxos, err := s.source.AddressUTXOs(ctx, address)
	if err != nil {
		return types.UTXO{}, fmt.Errorf("list utxos: %w", err)
	}

	selected, err := SelectMaxValue(utxos)
	if errors.Is(err, ErrNotFound) {
		metrics.UTXONotFound()
		klog.UTXO.Warn().
			Str("address", address).
			Msg("No utxos for address, please fund address and try again")
		return types.UTXO{}, fmt.Errorf("%w %s", ErrNotFound, address)
	}

	klog.UTXO.Debug().
		Str("address", address).
		Int("candidates", len(utxos)).
		Str("outpoint", selected.Outpoint().String()).
		Uint64("value", selected.Value).
		Msg("Selected funding utxo")
	return selected, nil
}

// SelectMaxValue returns the first output whose value equals the maximum
// value in utxos.
func SelectMaxValue(utxos []types.UTXO) (types.UTXO, error) {
	if len(utxos) == 0 {
		return types.UTXO{}, ErrNotFound
	}

	var maxValue uint64
	for _, u := range utxos {
		if u.Value > maxValue {
			maxValue = u.Value
		}
	}

	for _, u := range utxos {
		if u.Value == maxValue {
			return u, nil
		}
	}
	// Unreachable: some output always carries the maximum.
	return types.UTXO{}, ErrNotFound
}
