// Package escrow - executor credential registry.
// Public-window operations are open to any caller holding a
// registered credential: a secp256k1 public key tied to the payout
// identity the deposit goes to.
package escrow

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

// Credential errors
var (
	ErrInvalidCredential = errors.New("invalid credential")
)

// Credentials manages registered public-window executors.
type Credentials struct {
	store *storage.Storage
}

// NewCredentials creates a credential registry.
func NewCredentials(store *storage.Storage) *Credentials {
	return &Credentials{store: store}
}

// Register validates and stores a caller's credential. The pubkey is
// a hex-encoded 33-byte compressed secp256k1 key. Re-registering
// replaces the key.
func (c *Credentials) Register(caller, pubKeyHex string) error {
	if caller == "" {
		return fmt.Errorf("%w: caller required", ErrInvalidCredential)
	}

	raw, err := helpers.HexToBytes(pubKeyHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if len(raw) != btcec.PubKeyBytesLenCompressed {
		return fmt.Errorf("%w: expected %d-byte compressed key, got %d bytes",
			ErrInvalidCredential, btcec.PubKeyBytesLenCompressed, len(raw))
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	return c.store.SaveCredential(&storage.Credential{
		Caller: caller,
		PubKey: pubKeyHex,
	})
}

// Has reports whether a caller holds a credential.
func (c *Credentials) Has(caller string) (bool, error) {
	return c.store.HasCredential(caller)
}

// Get retrieves a caller's credential.
func (c *Credentials) Get(caller string) (*storage.Credential, error) {
	return c.store.GetCredential(caller)
}

// List returns all registered credentials.
func (c *Credentials) List() ([]*storage.Credential, error) {
	return c.store.ListCredentials()
}
