package types

import "fmt"

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"vout"`
}

// IsZero returns true if the outpoint has an empty TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID == "" && o.Index == 0
}

// String returns "txid:index".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

// UTXO is an unspent output observed at a funding address. Values are in
// satoshis (or the chain's smallest unit).
type UTXO struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value uint64 `json:"value"`
}

// Outpoint returns the output reference of the UTXO.
func (u UTXO) Outpoint() Outpoint {
	return Outpoint{TxID: u.TxID, Index: u.Vout}
}
