package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"sync"
)

type recordedCall struct {
	Contract string
	Method   string
	Args     string
	Gas      uint64
	Signer   string
}

// fakeLedger scripts the responses of a remote ledger.
type fakeLedger struct {
	mu sync.Mutex

	viewOut  *Outcome
	viewErr  error
	callOut  *Outcome
	callErr  error
	statusFn func(hash, sender string) (*Outcome, error)

	views        []recordedCall
	calls        []recordedCall
	statuses     []string
	statusCtxErr error
}

func (f *fakeLedger) ViewFunction(_ context.Context, contractID, method string, args []byte, gas uint64) (*Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, recordedCall{Contract: contractID, Method: method, Args: string(args), Gas: gas})
	return f.viewOut, f.viewErr
}

func (f *fakeLedger) FunctionCall(_ context.Context, signer *Credential, contractID, method string, args []byte, gas uint64) (*Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{
		Contract: contractID,
		Method:   method,
		Args:     string(args),
		Gas:      gas,
		Signer:   signer.AccountID,
	})
	return f.callOut, f.callErr
}

func (f *fakeLedger) TxStatus(ctx context.Context, txHash, senderID string) (*Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, txHash)
	f.statusCtxErr = ctx.Err()
	if f.statusFn == nil {
		return &Outcome{TxHash: txHash, Status: ExecutionStatus{SuccessValue: strPtr("")}}, nil
	}
	return f.statusFn(txHash, senderID)
}

func strPtr(s string) *string { return &s }

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func testCredential(account string) *Credential {
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, account)
	return NewCredential("testnet", account, ed25519.NewKeyFromSeed(seed))
}
