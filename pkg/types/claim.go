package types

import "strconv"

// DefaultDropSats is the dust-safe payout used when a drop does not name one.
const DefaultDropSats uint64 = 546

// ClaimRequest carries everything one claim attempt needs. It is passed by
// value between pipeline stages; each stage returns an updated copy.
type ClaimRequest struct {
	FundingAddress string `json:"funding_address"`
	Receiver       string `json:"receiver"`
	UTXO           UTXO   `json:"utxo"`
	DropSats       uint64 `json:"drop_sats"`
	ChangeSats     int64  `json:"change_sats"`
}

// NewClaimRequest starts a claim for the given funding address and receiver.
func NewClaimRequest(fundingAddress, receiver string, dropSats uint64) ClaimRequest {
	if dropSats == 0 {
		dropSats = DefaultDropSats
	}
	return ClaimRequest{
		FundingAddress: fundingAddress,
		Receiver:       receiver,
		DropSats:       dropSats,
	}
}

// WithUTXO returns a copy of r funded by u.
func (r ClaimRequest) WithUTXO(u UTXO) ClaimRequest {
	r.UTXO = u
	return r
}

// WithChange returns a copy of r with the computed change amount.
func (r ClaimRequest) WithChange(change int64) ClaimRequest {
	r.ChangeSats = change
	return r
}

// Fee returns the fee implied by the funding value, drop and change. Values
// are assumed to fit in int64; the change calculator rejects larger ones.
func (r ClaimRequest) Fee() int64 {
	return int64(r.UTXO.Value) - int64(r.DropSats) - r.ChangeSats
}

// ClaimArgs is the argument object of the contract's claim method.
type ClaimArgs struct {
	TxID     string `json:"txid_str"`
	Vout     uint32 `json:"vout"`
	Receiver string `json:"receiver"`
	Change   string `json:"change"`
}

// Args returns the contract arguments for r. Change is a decimal string
// because the contract takes a 128-bit integer.
func (r ClaimRequest) Args() ClaimArgs {
	return ClaimArgs{
		TxID:     r.UTXO.TxID,
		Vout:     r.UTXO.Vout,
		Receiver: r.Receiver,
		Change:   strconv.FormatInt(r.ChangeSats, 10),
	}
}
