package tatum

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingdrop/internal/broadcast"
)

func TestClient_Broadcast(t *testing.T) {
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://tatum.test/v3/dogecoin/broadcast",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "secret", req.Header.Get("x-api-key"))
			var body broadcastRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "0102", body.TxData)
			return httpmock.NewJsonResponse(200, map[string]string{"txId": "dogetx"})
		})

	c := New("https://tatum.test/", "secret", httpClient)
	txid, err := c.Broadcast(context.Background(), []byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "dogetx", txid)
}

func TestClient_Broadcast_Rejected(t *testing.T) {
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://tatum.test/v3/dogecoin/broadcast",
		httpmock.NewStringResponder(403, `{"message":"invalid api key"}`))

	c := New("https://tatum.test", "bad", httpClient)
	_, err := c.Broadcast(context.Background(), []byte{1})

	var be *broadcast.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 403, be.Status)
}
