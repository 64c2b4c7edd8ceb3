package ledger

import (
	"crypto/ed25519"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const ed25519Prefix = "ed25519:"

// Credential is an access key authorizing calls for one account on one
// network. It lives only in memory.
type Credential struct {
	NetworkID string
	AccountID string
	key       ed25519.PrivateKey
}

// ParseCredential parses a secret key of the form "ed25519:<base58>". The
// base58 payload is either the 64-byte private key or its 32-byte seed.
func ParseCredential(networkID, accountID, secret string) (*Credential, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id required", ErrInvalidCredential)
	}
	if !strings.HasPrefix(secret, ed25519Prefix) {
		return nil, fmt.Errorf("%w: unsupported key type", ErrInvalidCredential)
	}

	raw := base58.Decode(strings.TrimPrefix(secret, ed25519Prefix))
	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("%w: key is %d bytes", ErrInvalidCredential, len(raw))
	}

	return &Credential{NetworkID: networkID, AccountID: accountID, key: key}, nil
}

// NewCredential wraps an existing private key.
func NewCredential(networkID, accountID string, key ed25519.PrivateKey) *Credential {
	return &Credential{NetworkID: networkID, AccountID: accountID, key: key}
}

// PublicKey returns the raw public key.
func (c *Credential) PublicKey() ed25519.PublicKey {
	return c.key.Public().(ed25519.PublicKey)
}

// PublicKeyString returns the public key as "ed25519:<base58>".
func (c *Credential) PublicKeyString() string {
	return ed25519Prefix + base58.Encode(c.PublicKey())
}

// Sign signs msg with the credential's key.
func (c *Credential) Sign(msg []byte) []byte {
	return ed25519.Sign(c.key, msg)
}

// Keyring holds the credentials of one claim session. Each network/account
// pair can be installed exactly once.
type Keyring struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{creds: make(map[string]*Credential)}
}

func keyringKey(networkID, accountID string) string {
	return networkID + "/" + accountID
}

// Set installs cred. Installing a second credential for the same network
// and account fails with ErrCredentialAlreadySet.
func (k *Keyring) Set(cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("%w: nil credential", ErrInvalidCredential)
	}
	id := keyringKey(cred.NetworkID, cred.AccountID)

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.creds[id]; ok {
		return fmt.Errorf("%w: %s", ErrCredentialAlreadySet, id)
	}
	k.creds[id] = cred
	return nil
}

// Get returns the credential for a network and account.
func (k *Keyring) Get(networkID, accountID string) (*Credential, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	cred, ok := k.creds[keyringKey(networkID, accountID)]
	return cred, ok
}
