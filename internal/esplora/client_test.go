package esplora

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingdrop/internal/broadcast"
	"github.com/Klingon-tech/klingdrop/pkg/types"
)

const testBase = "https://esplora.test/api"

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewWithClient(testBase+"/", httpClient)
}

func TestClient_AddressUTXOs(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder("GET", testBase+"/address/tb1qfunder/utxo",
		httpmock.NewStringResponder(200, `[
			{"txid":"a","vout":1,"value":700000,"status":{"confirmed":true,"block_height":10}},
			{"txid":"b","vout":0,"value":900000,"status":{"confirmed":false}}
		]`))

	utxos, err := c.AddressUTXOs(context.Background(), "tb1qfunder")
	require.NoError(t, err)
	assert.Equal(t, []types.UTXO{
		{TxID: "a", Vout: 1, Value: 700000},
		{TxID: "b", Vout: 0, Value: 900000},
	}, utxos)
}

func TestClient_AddressUTXOs_Empty(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", testBase+"/address/empty/utxo",
		httpmock.NewStringResponder(200, `[]`))

	utxos, err := c.AddressUTXOs(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, utxos)
}

func TestClient_AddressUTXOs_HTTPError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", testBase+"/address/bad/utxo",
		httpmock.NewStringResponder(400, "Invalid Bitcoin address"))

	_, err := c.AddressUTXOs(context.Background(), "bad")
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 400, httpErr.Status)
	assert.Equal(t, "Invalid Bitcoin address", httpErr.Body)
}

func TestClient_EstimateFeeRate(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", testBase+"/fee-estimates",
		httpmock.NewStringResponder(200, `{"1":5.5,"6":1.2,"144":1.0}`))

	rate, err := c.EstimateFeeRate(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, 1.2, rate)

	_, err = c.EstimateFeeRate(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNoEstimate)
}

func TestClient_FeeEstimates_NotCached(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", testBase+"/fee-estimates",
		httpmock.NewStringResponder(200, `{"6":2}`))

	for i := 0; i < 3; i++ {
		_, err := c.EstimateFeeRate(context.Background(), 6)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestClient_Broadcast(t *testing.T) {
	c := newMockedClient(t)

	var gotBody string
	httpmock.RegisterResponder("POST", testBase+"/tx",
		func(req *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(req.Body)
			gotBody = string(b)
			return httpmock.NewStringResponse(200, "deadbeef\n"), nil
		})

	hash, err := c.Broadcast(context.Background(), []byte{0x01, 0xab})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", hash)
	assert.Equal(t, "01ab", gotBody)
}

func TestClient_Broadcast_Rejected(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("POST", testBase+"/tx",
		httpmock.NewStringResponder(400, "sendrawtransaction RPC error: bad-txns"))

	_, err := c.Broadcast(context.Background(), []byte{0x01})
	var be *broadcast.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 400, be.Status)
	assert.Contains(t, be.Body, "bad-txns")
}
