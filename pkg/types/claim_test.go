package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimRequest_StagesReturnCopies(t *testing.T) {
	base := NewClaimRequest("funder", "receiver", 0)
	assert.Equal(t, DefaultDropSats, base.DropSats)

	funded := base.WithUTXO(UTXO{TxID: "b", Vout: 0, Value: 900000})
	withChange := funded.WithChange(899228)

	assert.Empty(t, base.UTXO.TxID, "WithUTXO must not mutate the receiver")
	assert.Zero(t, funded.ChangeSats, "WithChange must not mutate the receiver")
	assert.Equal(t, int64(226), withChange.Fee())
}

func TestClaimRequest_Args(t *testing.T) {
	req := NewClaimRequest("funder", "mwVgE7n7nwtc3TtTDxN8c2gntFtVpBwBtK", 546).
		WithUTXO(UTXO{TxID: "b", Value: 900000}).
		WithChange(899228)

	raw, err := json.Marshal(req.Args())
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"txid_str":"b","vout":0,"receiver":"mwVgE7n7nwtc3TtTDxN8c2gntFtVpBwBtK","change":"899228"}`,
		string(raw))
}
