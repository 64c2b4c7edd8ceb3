// Package drop is a typed client for the linkdrop contract. The owner
// account manages drops and their claim keys; a claim is signed by the
// contract account itself using a drop key.
package drop

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/Klingon-tech/klingdrop/internal/ledger"
	"github.com/Klingon-tech/klingdrop/pkg/types"
)

// Contract method names.
const (
	MethodAddDrop    = "add_drop"
	MethodAddDropKey = "add_drop_key"
	MethodRemoveKey  = "remove_key"
	MethodGetDrops   = "get_drops"
	MethodGetKeys    = "get_keys"
	MethodClaim      = "claim"
)

// SigningFailedResult is what claim returns when the MPC signature could
// not be produced.
const SigningFailedResult = "Callback failed"

var (
	ErrSigningFailed    = errors.New("contract could not sign the claim transaction")
	ErrUnexpectedResult = errors.New("unexpected contract result")
	ErrInvalidDropID    = errors.New("invalid drop id")
)

// Caller dispatches contract calls. *ledger.Executor implements it.
type Caller interface {
	View(ctx context.Context, contractID, method string, args interface{}) (ledger.Result, error)
	Mutate(ctx context.Context, accountID, contractID, method string, args interface{}) (ledger.Result, error)
}

// AddDropArgs are the arguments of add_drop. Amount is a u128 decimal.
type AddDropArgs struct {
	Target uint8  `json:"target"`
	Amount string `json:"amount"`
	Funder string `json:"funder"`
	Path   string `json:"path,omitempty"`
}

type addDropKeyArgs struct {
	DropID string `json:"drop_id"`
	Key    string `json:"key"`
}

type keyArgs struct {
	Key string `json:"key"`
}

type dropIDArgs struct {
	DropID string `json:"drop_id"`
}

// ClaimResult is the decoded answer of a claim call.
type ClaimResult struct {
	// SignedTx is the hex encoded signed transaction. It is empty when the
	// call returned nothing readable.
	SignedTx string
	Result   ledger.Result
}

// Contract wraps one deployed drop contract.
type Contract struct {
	caller     Caller
	contractID string
	ownerID    string
}

// New creates a client for contractID managed by ownerID.
func New(caller Caller, contractID, ownerID string) *Contract {
	return &Contract{caller: caller, contractID: contractID, ownerID: ownerID}
}

// ID returns the contract account.
func (c *Contract) ID() string {
	return c.contractID
}

// AddDrop registers a drop paying amount sats from the funder key.
func (c *Contract) AddDrop(ctx context.Context, target uint8, amount uint64, funderPubKey, path string) (ledger.Result, error) {
	return c.caller.Mutate(ctx, c.ownerID, c.contractID, MethodAddDrop, AddDropArgs{
		Target: target,
		Amount: strconv.FormatUint(amount, 10),
		Funder: funderPubKey,
		Path:   path,
	})
}

// AddDropKey attaches a claim key ("ed25519:...") to a drop.
func (c *Contract) AddDropKey(ctx context.Context, dropID, publicKey string) (ledger.Result, error) {
	if err := checkDropID(dropID); err != nil {
		return ledger.Result{}, err
	}
	return c.caller.Mutate(ctx, c.ownerID, c.contractID, MethodAddDropKey, addDropKeyArgs{
		DropID: dropID,
		Key:    publicKey,
	})
}

// RemoveKey detaches a claim key from its drop.
func (c *Contract) RemoveKey(ctx context.Context, publicKey string) (ledger.Result, error) {
	return c.caller.Mutate(ctx, c.ownerID, c.contractID, MethodRemoveKey, keyArgs{Key: publicKey})
}

// Drops lists the drop IDs.
func (c *Contract) Drops(ctx context.Context) ([]string, error) {
	res, err := c.caller.View(ctx, c.contractID, MethodGetDrops, nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	if !res.Defined {
		return ids, nil
	}
	if err := res.Into(&ids); err != nil {
		return nil, fmt.Errorf("%w: get_drops: %v", ErrUnexpectedResult, err)
	}
	return ids, nil
}

// Keys lists the claim keys of a drop.
func (c *Contract) Keys(ctx context.Context, dropID string) ([]string, error) {
	if err := checkDropID(dropID); err != nil {
		return nil, err
	}
	res, err := c.caller.View(ctx, c.contractID, MethodGetKeys, dropIDArgs{DropID: dropID})
	if err != nil {
		return nil, err
	}
	var keys []string
	if !res.Defined {
		return keys, nil
	}
	if err := res.Into(&keys); err != nil {
		return nil, fmt.Errorf("%w: get_keys: %v", ErrUnexpectedResult, err)
	}
	return keys, nil
}

// Claim asks the contract to build and sign the claim transaction. The
// call is signed by the contract account with the drop key installed for
// it.
func (c *Contract) Claim(ctx context.Context, args types.ClaimArgs) (ClaimResult, error) {
	res, err := c.caller.Mutate(ctx, c.contractID, c.contractID, MethodClaim, args)
	if err != nil {
		return ClaimResult{}, err
	}

	out := ClaimResult{Result: res}
	if !res.Defined {
		return out, nil
	}

	signed, ok := res.String()
	if !ok {
		return out, fmt.Errorf("%w: claim returned %s", ErrUnexpectedResult, res.Raw)
	}
	if signed == SigningFailedResult {
		return out, ErrSigningFailed
	}
	out.SignedTx = signed
	return out, nil
}

func checkDropID(id string) error {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok || n.Sign() < 0 {
		return fmt.Errorf("%w %q", ErrInvalidDropID, id)
	}
	return nil
}
