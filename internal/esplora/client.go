// Package esplora is an HTTP client for Esplora-compatible block explorers
// (blockstream.info, mempool.space). It serves the UTXO index, the fee
// estimator and the broadcast relay.
package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingdrop/internal/broadcast"
	"github.com/Klingon-tech/klingdrop/pkg/types"
)

// ErrNoEstimate is returned when the estimator has no rate for a target.
var ErrNoEstimate = errors.New("no fee estimate for target")

// Client talks to one Esplora API root, e.g. https://blockstream.info/testnet/api.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client with a 10 second HTTP timeout.
func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{Timeout: 10 * time.Second})
}

// NewWithClient creates a client that uses the given HTTP client.
func NewWithClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// HTTPError is returned for non-200 responses.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("esplora http %d: %s", e.Status, e.Body)
}

type utxoResponse struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  uint64 `json:"value"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

// AddressUTXOs returns the unspent outputs of address in the order the
// index reports them.
func (c *Client) AddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error) {
	var resp []utxoResponse
	if err := c.getJSON(ctx, "/address/"+url.PathEscape(address)+"/utxo", &resp); err != nil {
		return nil, fmt.Errorf("fetch utxos for %s: %w", address, err)
	}

	utxos := make([]types.UTXO, 0, len(resp))
	for _, u := range resp {
		utxos = append(utxos, types.UTXO{TxID: u.TxID, Vout: u.Vout, Value: u.Value})
	}
	return utxos, nil
}

// FeeEstimates returns the confirmation-target to sat/vbyte map.
func (c *Client) FeeEstimates(ctx context.Context) (map[int]float64, error) {
	var raw map[string]float64
	if err := c.getJSON(ctx, "/fee-estimates", &raw); err != nil {
		return nil, fmt.Errorf("fetch fee estimates: %w", err)
	}

	estimates := make(map[int]float64, len(raw))
	for k, v := range raw {
		target, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("fee estimate target %q: %w", k, err)
		}
		estimates[target] = v
	}
	return estimates, nil
}

// EstimateFeeRate returns the sat/vbyte rate for confirmation within
// targetBlocks blocks.
func (c *Client) EstimateFeeRate(ctx context.Context, targetBlocks int) (float64, error) {
	estimates, err := c.FeeEstimates(ctx)
	if err != nil {
		return 0, err
	}
	rate, ok := estimates[targetBlocks]
	if !ok {
		return 0, fmt.Errorf("%w %d", ErrNoEstimate, targetBlocks)
	}
	return rate, nil
}

// Broadcast posts a raw transaction as hex to /tx and returns the txid the
// relay reports. Any failure is a *broadcast.Error.
func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	body := strings.NewReader(hex.EncodeToString(rawTx))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", body)
	if err != nil {
		return "", &broadcast.Error{Relay: c.baseURL, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &broadcast.Error{Relay: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &broadcast.Error{Relay: c.baseURL, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &broadcast.Error{
			Relay:  c.baseURL,
			Status: resp.StatusCode,
			Body:   string(bytes.TrimSpace(data)),
		}
	}
	return string(bytes.TrimSpace(data)), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
