// Package derive talks to the external key-derivation service that maps
// an MPC root key, account and path to a chain address and public key. It
// also validates the addresses and keys a claim depends on.
package derive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	klog "github.com/Klingon-tech/klingdrop/internal/log"
)

var (
	// ErrPublicKeyRecovery is returned when the service yields an address
	// without its public key. Recovering the key needs a wallet signature,
	// which is not supported, so claims for such an address cannot proceed.
	ErrPublicKeyRecovery = errors.New("public key recovery not supported for this address")

	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidReceiver  = errors.New("invalid receiver address")
	ErrUnsupportedChain = errors.New("unsupported chain")
)

// Request asks for the address of path under a root key.
type Request struct {
	RootPublicKey string `json:"public_key"`
	AccountID     string `json:"account_id"`
	Path          string `json:"path"`
	Chain         string `json:"chain"`
}

// Derived is the service's answer.
type Derived struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// HTTPError is returned for non-200 responses.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("derive http %d: %s", e.Status, e.Body)
}

// Client is an HTTP client for the derivation service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. A nil httpClient gets a 10 second timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Derive posts req to /derive. The returned public key is checked to be a
// valid secp256k1 point.
func (c *Client) Derive(ctx context.Context, req Request) (*Derived, error) {
	if _, err := ChainParams(req.Chain, "mainnet"); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/derive", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	var out Derived
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Address == "" {
		return nil, errors.New("derive: empty address")
	}
	if out.PublicKey == "" {
		klog.Derive.Warn().
			Str("address", out.Address).
			Str("path", req.Path).
			Msg("Derived address has no public key")
		return nil, fmt.Errorf("%w: %s", ErrPublicKeyRecovery, out.Address)
	}
	if _, err := ParseFunderKey(out.PublicKey); err != nil {
		return nil, err
	}

	klog.Derive.Debug().
		Str("address", out.Address).
		Str("chain", req.Chain).
		Str("path", req.Path).
		Msg("Derived address")
	return &out, nil
}
