// Package tatum broadcasts dogecoin transactions through the Tatum API.
package tatum

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Klingon-tech/klingdrop/internal/broadcast"
)

// DefaultURL is the public Tatum API root.
const DefaultURL = "https://api.tatum.io"

// Client is a dogecoin broadcast relay.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Tatum client. apiKey is sent as the x-api-key header.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

type broadcastRequest struct {
	TxData string `json:"txData"`
}

type broadcastResponse struct {
	TxID    string `json:"txId"`
	Failed  bool   `json:"failed"`
	Message string `json:"message"`
}

// Broadcast posts rawTx and returns the reported txid.
func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	relay := c.baseURL + "/v3/dogecoin/broadcast"

	body, err := json.Marshal(broadcastRequest{TxData: hex.EncodeToString(rawTx)})
	if err != nil {
		return "", &broadcast.Error{Relay: relay, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relay, bytes.NewReader(body))
	if err != nil {
		return "", &broadcast.Error{Relay: relay, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &broadcast.Error{Relay: relay, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &broadcast.Error{Relay: relay, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &broadcast.Error{Relay: relay, Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	var out broadcastResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &broadcast.Error{Relay: relay, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Failed {
		return "", &broadcast.Error{Relay: relay, Status: resp.StatusCode, Body: out.Message}
	}
	return out.TxID, nil
}
