package drop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingdrop/internal/ledger"
	"github.com/Klingon-tech/klingdrop/pkg/types"
)

type call struct {
	accountID string
	contract  string
	method    string
	args      string
	mutating  bool
}

type fakeCaller struct {
	calls  []call
	result string // JSON text; empty means undefined
	err    error
}

func (f *fakeCaller) record(accountID, contractID, method string, args interface{}, mutating bool) (ledger.Result, error) {
	raw, _ := json.Marshal(args)
	f.calls = append(f.calls, call{accountID, contractID, method, string(raw), mutating})
	if f.err != nil {
		return ledger.Result{}, f.err
	}
	if f.result == "" {
		return ledger.Result{}, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(f.result), &v); err != nil {
		return ledger.Result{}, err
	}
	return ledger.Result{Value: v, Raw: json.RawMessage(f.result), Defined: true}, nil
}

func (f *fakeCaller) View(_ context.Context, contractID, method string, args interface{}) (ledger.Result, error) {
	return f.record("", contractID, method, args, false)
}

func (f *fakeCaller) Mutate(_ context.Context, accountID, contractID, method string, args interface{}) (ledger.Result, error) {
	return f.record(accountID, contractID, method, args, true)
}

func TestContract_OwnerMethods(t *testing.T) {
	f := &fakeCaller{}
	c := New(f, "drop.testnet", "owner.testnet")
	ctx := context.Background()

	_, err := c.AddDrop(ctx, 1, 546, "04abcd", "drop_path,1")
	require.NoError(t, err)
	_, err = c.AddDropKey(ctx, "1", "ed25519:key")
	require.NoError(t, err)
	_, err = c.RemoveKey(ctx, "ed25519:key")
	require.NoError(t, err)

	require.Len(t, f.calls, 3)
	for _, cl := range f.calls {
		assert.Equal(t, "owner.testnet", cl.accountID)
		assert.Equal(t, "drop.testnet", cl.contract)
		assert.True(t, cl.mutating)
	}
	assert.Equal(t, MethodAddDrop, f.calls[0].method)
	assert.JSONEq(t, `{"target":1,"amount":"546","funder":"04abcd","path":"drop_path,1"}`, f.calls[0].args)
	assert.JSONEq(t, `{"drop_id":"1","key":"ed25519:key"}`, f.calls[1].args)
	assert.JSONEq(t, `{"key":"ed25519:key"}`, f.calls[2].args)
}

func TestContract_AddDropKeyRejectsBadID(t *testing.T) {
	f := &fakeCaller{}
	c := New(f, "drop.testnet", "owner.testnet")

	_, err := c.AddDropKey(context.Background(), "one", "ed25519:key")
	assert.ErrorIs(t, err, ErrInvalidDropID)
	assert.Empty(t, f.calls)
}

func TestContract_Views(t *testing.T) {
	f := &fakeCaller{result: `["1","2"]`}
	c := New(f, "drop.testnet", "owner.testnet")

	ids, err := c.Drops(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
	assert.False(t, f.calls[0].mutating)
	assert.Equal(t, "null", f.calls[0].args)

	f.result = `["ed25519:a"]`
	keys, err := c.Keys(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ed25519:a"}, keys)
	assert.JSONEq(t, `{"drop_id":"1"}`, f.calls[1].args)

	f.result = `{"unexpected":true}`
	_, err = c.Drops(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedResult)
}

func TestContract_Claim(t *testing.T) {
	f := &fakeCaller{result: `"0100000001"`}
	c := New(f, "drop.testnet", "owner.testnet")

	res, err := c.Claim(context.Background(), types.ClaimArgs{TxID: "b", Vout: 0, Receiver: "r", Change: "899228"})
	require.NoError(t, err)
	assert.Equal(t, "0100000001", res.SignedTx)

	// Claims are signed by the contract account.
	assert.Equal(t, "drop.testnet", f.calls[0].accountID)
	assert.Equal(t, MethodClaim, f.calls[0].method)
	assert.JSONEq(t, `{"txid_str":"b","vout":0,"receiver":"r","change":"899228"}`, f.calls[0].args)
}

func TestContract_ClaimSigningFailed(t *testing.T) {
	f := &fakeCaller{result: `"Callback failed"`}
	_, err := New(f, "drop.testnet", "owner.testnet").Claim(context.Background(), types.ClaimArgs{})
	assert.ErrorIs(t, err, ErrSigningFailed)
}

func TestContract_ClaimUndefined(t *testing.T) {
	f := &fakeCaller{}
	res, err := New(f, "drop.testnet", "owner.testnet").Claim(context.Background(), types.ClaimArgs{})
	require.NoError(t, err)
	assert.Empty(t, res.SignedTx)
}

func TestContract_ClaimPropagatesCallError(t *testing.T) {
	callErr := &ledger.RemoteError{Method: MethodClaim, Err: errors.New("boom")}
	f := &fakeCaller{err: callErr}
	_, err := New(f, "drop.testnet", "owner.testnet").Claim(context.Background(), types.ClaimArgs{})

	var remote *ledger.RemoteError
	assert.ErrorAs(t, err, &remote)
}
