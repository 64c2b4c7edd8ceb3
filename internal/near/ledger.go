package near

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/Klingon-tech/klingdrop/internal/ledger"
	klog "github.com/Klingon-tech/klingdrop/internal/log"
)

// Ledger adapts a Client to ledger.Ledger. Nonces are tracked per access
// key so concurrent calls signed by one key do not reuse a nonce.
type Ledger struct {
	client *Client

	mu     sync.Mutex
	nonces map[string]uint64
}

var _ ledger.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger over client.
func NewLedger(client *Client) *Ledger {
	return &Ledger{client: client, nonces: make(map[string]uint64)}
}

type callFunctionResult struct {
	Result      []int    `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
	Error       string   `json:"error,omitempty"`
}

// ViewFunction runs a read-only contract method. The returned bytes are
// re-encoded as a base64 success value so views and transactions decode
// the same way.
func (l *Ledger) ViewFunction(ctx context.Context, contractID, method string, args []byte, _ uint64) (*ledger.Outcome, error) {
	params := map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	}

	var raw json.RawMessage
	if err := l.client.Call(ctx, "query", params, &raw); err != nil {
		return nil, fmt.Errorf("view %s.%s: %w", contractID, method, err)
	}

	var res callFunctionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode view result: %w", err)
	}
	if res.Error != "" {
		return nil, &Error{Code: -32000, Message: "view failed", Data: mustJSON(res.Error)}
	}

	payload := make([]byte, len(res.Result))
	for i, b := range res.Result {
		payload[i] = byte(b)
	}

	out := ledger.SuccessOutcome("", base64.StdEncoding.EncodeToString(payload))
	out.Raw = raw
	return out, nil
}

type accessKeyResult struct {
	Nonce       uint64 `json:"nonce"`
	BlockHash   string `json:"block_hash"`
	BlockHeight uint64 `json:"block_height"`
	Error       string `json:"error,omitempty"`
}

// FunctionCall signs and submits a single FunctionCall action with no
// attached deposit, waiting for execution. A node or client timeout after
// submission returns *ledger.PendingTxError with the transaction hash.
func (l *Ledger) FunctionCall(ctx context.Context, signer *ledger.Credential, contractID, method string, args []byte, gas uint64) (*ledger.Outcome, error) {
	key, err := l.accessKey(ctx, signer)
	if err != nil {
		return nil, err
	}

	blockHash := base58.Decode(key.BlockHash)
	if len(blockHash) != blockHashSize {
		return nil, fmt.Errorf("invalid block hash %q", key.BlockHash)
	}

	tx := &transaction{
		SignerID:   signer.AccountID,
		PublicKey:  signer.PublicKey(),
		Nonce:      l.nextNonce(signer, key.Nonce),
		ReceiverID: contractID,
		Actions: []functionCallAction{{
			MethodName: method,
			Args:       args,
			Gas:        gas,
			Deposit:    big.NewInt(0),
		}},
	}
	copy(tx.BlockHash[:], blockHash)

	encoded := tx.encode()
	digest := sha256.Sum256(encoded)
	txHash := base58.Encode(digest[:])
	signed := encodeSigned(encoded, signer.Sign(digest[:]))

	klog.Ledger.Debug().
		Str("tx_hash", txHash).
		Str("signer", signer.AccountID).
		Str("receiver", contractID).
		Str("method", method).
		Uint64("nonce", tx.Nonce).
		Msg("Submitting transaction")

	var raw json.RawMessage
	err = l.client.Call(ctx, "broadcast_tx_commit", []string{base64.StdEncoding.EncodeToString(signed)}, &raw)
	if err != nil {
		if isPending(err) {
			return nil, &ledger.PendingTxError{TxHash: txHash, Err: err}
		}
		return nil, fmt.Errorf("broadcast_tx_commit: %w", err)
	}

	out, err := parseOutcome(raw)
	if err != nil {
		return nil, err
	}
	if out.TxHash == "" {
		out.TxHash = txHash
	}
	return out, nil
}

// TxStatus looks up the final outcome of a transaction.
func (l *Ledger) TxStatus(ctx context.Context, txHash, senderID string) (*ledger.Outcome, error) {
	var raw json.RawMessage
	if err := l.client.Call(ctx, "tx", []string{txHash, senderID}, &raw); err != nil {
		return nil, fmt.Errorf("tx %s: %w", txHash, err)
	}

	out, err := parseOutcome(raw)
	if err != nil {
		return nil, err
	}
	if out.TxHash == "" {
		out.TxHash = txHash
	}
	return out, nil
}

func (l *Ledger) accessKey(ctx context.Context, signer *ledger.Credential) (*accessKeyResult, error) {
	params := map[string]interface{}{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   signer.AccountID,
		"public_key":   signer.PublicKeyString(),
	}

	var key accessKeyResult
	if err := l.client.Call(ctx, "query", params, &key); err != nil {
		return nil, fmt.Errorf("view access key of %s: %w", signer.AccountID, err)
	}
	if key.Error != "" {
		return nil, fmt.Errorf("view access key of %s: %s", signer.AccountID, key.Error)
	}
	return &key, nil
}

// nextNonce returns a nonce above both the chain's view of the key and
// any nonce already handed out for it.
func (l *Ledger) nextNonce(signer *ledger.Credential, chainNonce uint64) uint64 {
	id := signer.AccountID + "/" + signer.PublicKeyString()

	l.mu.Lock()
	defer l.mu.Unlock()

	next := chainNonce + 1
	if last := l.nonces[id]; last >= next {
		next = last + 1
	}
	l.nonces[id] = next
	return next
}

type finalOutcome struct {
	Status      json.RawMessage `json:"status"`
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
}

// parseOutcome reads a FinalExecutionOutcome. A status that is still a
// plain string ("NotStarted", "Started") is reported as pending.
func parseOutcome(raw json.RawMessage) (*ledger.Outcome, error) {
	var fo finalOutcome
	if err := json.Unmarshal(raw, &fo); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}

	out := &ledger.Outcome{TxHash: fo.Transaction.Hash, Raw: raw}
	switch {
	case len(fo.Status) > 0 && fo.Status[0] == '{':
		if err := json.Unmarshal(fo.Status, &out.Status); err != nil {
			return nil, fmt.Errorf("decode outcome status: %w", err)
		}
		if out.Status.SuccessValue == nil && len(out.Status.Failure) == 0 {
			out.Status.Pending = string(fo.Status)
		}
	case len(fo.Status) > 0 && fo.Status[0] == '"':
		if err := json.Unmarshal(fo.Status, &out.Status.Pending); err != nil {
			return nil, fmt.Errorf("decode outcome status: %w", err)
		}
	default:
		out.Status.Pending = "missing"
	}
	return out, nil
}

func isPending(err error) bool {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.IsTimeout()
	}
	return isTransportTimeout(err)
}

func mustJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
