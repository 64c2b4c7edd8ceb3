// Package near is a JSON-RPC client for NEAR Protocol nodes. It implements
// ledger.Ledger: read-only contract views, signed function-call
// transactions, and transaction status lookups.
package near

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds one RPC round trip. broadcast_tx_commit holds the
// request open until the transaction executes, so this is generous.
const DefaultTimeout = 30 * time.Second

// Client is a JSON-RPC 2.0 HTTP client for one NEAR RPC endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a client with DefaultTimeout.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, DefaultTimeout)
}

// NewWithTimeout creates a client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// ErrorCause is the structured cause attached to NEAR RPC errors.
type ErrorCause struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info,omitempty"`
}

// Error is returned when the node responds with an error, or when a query
// result carries an execution error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Name    string          `json:"name,omitempty"`
	Cause   *ErrorCause     `json:"cause,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	if e.Name != "" {
		msg += " [" + e.Name + "]"
	}
	if e.Cause != nil {
		msg += " cause " + e.Cause.Name
		if len(e.Cause.Info) > 0 && string(e.Cause.Info) != "{}" {
			msg += " " + string(e.Cause.Info)
		}
	}
	if len(e.Data) > 0 {
		msg += ": " + string(e.Data)
	}
	return msg
}

// IsTimeout reports whether the node gave up waiting for the transaction.
// The transaction may still execute.
func (e *Error) IsTimeout() bool {
	return e.Name == "TIMEOUT_ERROR" || (e.Cause != nil && e.Cause.Name == "TIMEOUT_ERROR")
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      "klingdrop",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// isTransportTimeout reports whether err is a client-side deadline.
func isTransportTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
